// Package cli defines the ingestor's cobra commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bmsevents/event-ingestor/internal/config"
	"github.com/bmsevents/event-ingestor/internal/event"
	"github.com/bmsevents/event-ingestor/internal/server"
)

// Service is what the commands drive; *server.App implements it.
type Service interface {
	Run(ctx context.Context) error
	RunCycle(ctx context.Context) (event.CycleReport, error)
	Cleanup(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

type serviceKey struct{}

// newService is a variable so tests can inject a fake.
var newService = func(ctx context.Context, cfg config.Config) (Service, error) {
	return server.Build(ctx, cfg, server.Options{})
}

// newRootCmd builds the command tree. The service built for the invoked
// command is stored in *built so Execute can close it whether or not the
// command succeeded.
func newRootCmd(built *Service) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ingestor",
		Short: "Collects event listings from scraper backends into a queryable store.",
		Long: `ingestor calls every configured scraper backend concurrently, normalizes the
loosely-typed records they return and persists each backend's batch as soon
as it arrives. It serves the event query API and runs the daily scrape and
retention jobs.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			svc, err := newService(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			*built = svc
			cmd.SetContext(context.WithValue(cmd.Context(), serviceKey{}, svc))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newServeCmd(), newScrapeCmd(), newCleanupCmd())
	return cmd
}

func resolveService(ctx context.Context) (Service, error) {
	svc, ok := ctx.Value(serviceKey{}).(Service)
	if !ok || svc == nil {
		return nil, errors.New("application services not initialized")
	}
	return svc, nil
}

// Execute runs the root command and returns the process exit code. The
// service is closed after the command returns, including when it failed.
func Execute(ctx context.Context, args []string, stdout io.Writer) int {
	var svc Service
	cmd := newRootCmd(&svc)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	err := cmd.ExecuteContext(ctx)
	if svc != nil {
		if closeErr := svc.Close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown: %w", closeErr))
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
