package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bmsevents/event-ingestor/internal/config"
	"github.com/bmsevents/event-ingestor/internal/event"
)

type fakeService struct {
	report   event.CycleReport
	err      error
	closeErr error
	deleted  int64
	closed   bool
	cfg      config.Config
}

func (f *fakeService) Run(context.Context) error { return f.err }

func (f *fakeService) RunCycle(context.Context) (event.CycleReport, error) { return f.report, f.err }

func (f *fakeService) Cleanup(context.Context) (int64, error) { return f.deleted, f.err }

func (f *fakeService) Close(context.Context) error {
	f.closed = true
	return f.closeErr
}

func withFakeService(t *testing.T, svc *fakeService) {
	t.Helper()
	orig := newService
	newService = func(_ context.Context, cfg config.Config) (Service, error) {
		svc.cfg = cfg
		return svc, nil
	}
	t.Cleanup(func() { newService = orig })
}

func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	code := Execute(context.Background(), args, &out)
	return out.String(), code
}

func TestScrapeCommandPrintsSummary(t *testing.T) {
	svc := &fakeService{report: event.CycleReport{
		Total: 3,
		Backends: []event.BackendResult{
			{Backend: "service-3000", Saved: 3, State: event.StateDone},
			{Backend: "service-3001", State: event.StateFailed, Error: "fetch: timeout"},
		},
	}}
	withFakeService(t, svc)

	out, code := run(t, "scrape")
	require.Zero(t, code)
	require.Contains(t, out, "Total events saved: 3 (service-3000=3, service-3001=0)")
	require.Contains(t, out, "service-3001 failed: fetch: timeout")
	require.True(t, svc.closed)
}

func TestCleanupCommand(t *testing.T) {
	svc := &fakeService{deleted: 12}
	withFakeService(t, svc)

	out, code := run(t, "cleanup")
	require.Zero(t, code)
	require.Equal(t, "deleted 12 events\n", out)
	require.True(t, svc.closed)
}

func TestCommandErrorsExitNonZeroAndClose(t *testing.T) {
	for _, args := range [][]string{{"scrape"}, {"cleanup"}, {"serve"}} {
		svc := &fakeService{err: errors.New("delete events: store down")}
		withFakeService(t, svc)

		_, code := run(t, args...)
		require.Equal(t, 1, code, args)
		require.True(t, svc.closed, "service not closed after failing %v", args)
	}
}

func TestCloseFailureExitsNonZero(t *testing.T) {
	svc := &fakeService{deleted: 1, closeErr: errors.New("flush progress: timeout")}
	withFakeService(t, svc)

	_, code := run(t, "cleanup")
	require.Equal(t, 1, code)
	require.True(t, svc.closed)
}

func TestUnknownCommandBuildsNothing(t *testing.T) {
	svc := &fakeService{}
	withFakeService(t, svc)

	_, code := run(t, "crawl")
	require.Equal(t, 1, code)
	require.False(t, svc.closed)
}

func TestConfigFlagIsLoaded(t *testing.T) {
	svc := &fakeService{}
	withFakeService(t, svc)

	path := filepath.Join(t.TempDir(), "ingestor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scrape:\n  backends: [\"scraper-a:4000\"]\nretention:\n  max_age_days: 9\n"), 0o600))

	_, code := run(t, "--config", path, "cleanup")
	require.Zero(t, code)
	require.Equal(t, []string{"scraper-a:4000"}, svc.cfg.Scrape.Backends)
	require.Equal(t, 9, svc.cfg.Retention.MaxAgeDays)
}

func TestInvalidConfigFails(t *testing.T) {
	withFakeService(t, &fakeService{})

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retention:\n  max_age_days: 0\n"), 0o600))
	_, code := run(t, "--config", path, "cleanup")
	require.Equal(t, 1, code)
}
