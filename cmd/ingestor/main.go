package main

import (
	"context"
	"os"

	"github.com/bmsevents/event-ingestor/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout))
}
