package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bmsevents/event-ingestor/internal/event"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, []string{"localhost:3000", "localhost:3001"}, cfg.Scrape.Backends)
	require.Equal(t, "https://www.district.in", cfg.Scrape.BaseURL)
	require.Equal(t, 30*time.Second, cfg.Scrape.ConnectTimeout)
	require.Equal(t, 4*time.Hour, cfg.Scrape.ReadTimeout)
	require.Equal(t, "0 0 0 * * *", cfg.Schedule.ScrapeCron)
	require.Equal(t, "0 0 4 * * *", cfg.Schedule.CleanupCron)
	require.Equal(t, 5, cfg.Retention.MaxAgeDays)
	require.Equal(t, "memory", cfg.Storage.Backend)

	targets, err := cfg.Targets()
	require.NoError(t, err)
	require.Equal(t, []event.Target{
		{Name: "service-3000", URL: "http://localhost:3000/scrape"},
		{Name: "service-3001", URL: "http://localhost:3001/scrape"},
	}, targets)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: false
  level: warn
scrape:
  backends: ["scraper-a:4000", "https://scraper-b.internal/v2/run"]
  connect_timeout: 5s
  read_timeout: 2h
  concurrency: 2
schedule:
  enabled: true
  timezone: Asia/Kolkata
  scrape_cron: "0 30 1 * * *"
  cleanup_cron: "0 0 5 * * *"
retention:
  max_age_days: 7
storage:
  backend: postgres
  postgres:
    dsn: postgres://localhost/events
archive:
  backend: local
  base_dir: /tmp/raw
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 5*time.Second, cfg.Scrape.ConnectTimeout)
	require.Equal(t, 2*time.Hour, cfg.Scrape.ReadTimeout)
	require.Equal(t, 7, cfg.Retention.MaxAgeDays)
	require.Equal(t, "postgres://localhost/events", cfg.Storage.Postgres.DSN)
	require.Equal(t, "events", cfg.Storage.Postgres.Table)

	targets, err := cfg.Targets()
	require.NoError(t, err)
	require.Equal(t, []event.Target{
		{Name: "service-4000", URL: "http://scraper-a:4000/scrape"},
		{Name: "service-scraper-b.internal", URL: "https://scraper-b.internal/v2/run"},
	}, targets)
}

func TestTargetsDisambiguatesSamePort(t *testing.T) {
	t.Parallel()

	cfg := Config{Scrape: ScrapeConfig{Backends: []string{"a:3000", "b:3000"}, Path: "run"}}
	targets, err := cfg.Targets()
	require.NoError(t, err)
	require.Equal(t, "service-3000", targets[0].Name)
	require.Equal(t, "service-b-3000", targets[1].Name)
	require.Equal(t, "http://b:3000/run", targets[1].URL)
}

func TestTargetsNamesAreUnique(t *testing.T) {
	t.Parallel()

	cfg := Config{Scrape: ScrapeConfig{Backends: []string{
		"a:3000", "b:3000", "http://b:3000/other", "https://scraper.internal/a", "https://scraper.internal/b",
	}}}
	targets, err := cfg.Targets()
	require.NoError(t, err)

	names := make([]string, 0, len(targets))
	for _, tgt := range targets {
		names = append(names, tgt.Name)
	}
	require.Equal(t, []string{
		"service-3000", "service-b-3000", "service-b-3000-2",
		"service-scraper.internal", "service-scraper.internal-2",
	}, names)
}

func TestTargetsRejectsRepeatedEndpoint(t *testing.T) {
	t.Parallel()

	for _, backends := range [][]string{
		{"a:3000", "a:3000", "a:3000"},
		{"https://scraper.internal", "https://scraper.internal/scrape"},
	} {
		cfg := Config{Scrape: ScrapeConfig{Backends: backends}}
		_, err := cfg.Targets()
		require.ErrorContains(t, err, "more than once", "%v", backends)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Scrape: ScrapeConfig{
			Backends:       []string{"localhost:3000"},
			Concurrency:    1,
			ConnectTimeout: time.Second,
			ReadTimeout:    time.Minute,
		},
		Retention: RetentionConfig{MaxAgeDays: 5},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "no backends", mutate: func(c *Config) { c.Scrape.Backends = nil }, want: "scrape.backends"},
		{name: "blank backend", mutate: func(c *Config) { c.Scrape.Backends = []string{" "} }, want: "empty entry"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Scrape.Concurrency = 0 }, want: "scrape.concurrency"},
		{name: "connect timeout", mutate: func(c *Config) { c.Scrape.ConnectTimeout = 0 }, want: "scrape.connect_timeout"},
		{name: "read timeout", mutate: func(c *Config) { c.Scrape.ReadTimeout = 0 }, want: "scrape.read_timeout"},
		{name: "retention", mutate: func(c *Config) { c.Retention.MaxAgeDays = 0 }, want: "retention.max_age_days"},
		{
			name:   "missing cron",
			mutate: func(c *Config) { c.Schedule.Enabled = true; c.Schedule.CleanupCron = "x" },
			want:   "schedule.scrape_cron",
		},
		{name: "bad timezone", mutate: func(c *Config) { c.Schedule.Timezone = "Mars/Base" }, want: "schedule.timezone"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "cassandra" }, want: "storage.backend"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Storage.Backend = "postgres" }, want: "storage.postgres.dsn"},
		{name: "mongo uri", mutate: func(c *Config) { c.Storage.Backend = "mongo" }, want: "storage.mongo.uri"},
		{name: "badger path", mutate: func(c *Config) { c.Storage.Backend = "badger" }, want: "storage.badger.path"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Archive.Backend = "gcs" }, want: "archive.bucket"},
		{name: "local dir", mutate: func(c *Config) { c.Archive.Backend = "local" }, want: "archive.base_dir"},
		{name: "unknown archive", mutate: func(c *Config) { c.Archive.Backend = "s3" }, want: "archive.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Scrape.Backends = append([]string(nil), base.Scrape.Backends...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
