// Package main hosts the event ingestor entrypoint.
//
// Architecture overview:
//   - Scrape cycle: internal/orchestrator turns every configured backend into one task on a bounded
//     in-memory queue. A fixed worker pool (internal/dispatcher + internal/worker) runs each task
//     end to end: POST {"baseUrl": ...} to the backend through a colly collector, archive the raw body
//     to the configured BlobStore (memory/local/GCS), normalize the records, persist the batch, and
//     publish a Pub/Sub notification. The cycle waits for every task and reports per-backend counts.
//   - Failure isolation: an unreachable backend, a malformed body or a failed write contributes zero
//     records for that backend only. Field type mismatches null the field and keep the record.
//   - Storage: events live in memory, Postgres (JSONB), MongoDB or an embedded badger database,
//     selected by storage.backend. Cycle progress goes through a non-blocking hub to the log,
//     Prometheus and a cycle_runs/backend_runs repository.
//   - HTTP: internal/api serves the trigger (POST /api/scrape/district), event queries under
//     /api/scrape/events, cycle progress, /healthz, /readyz and /metrics.
//   - Scheduling: gocron runs the scrape cycle daily at midnight and the retention cleanup at 04:00 by
//     default; a cycle still running at the next tick pushes that tick back.
//
// Quick checklist:
//   - Configure env vars with the INGESTOR_ prefix (INGESTOR_SCRAPE_BACKENDS, INGESTOR_STORAGE_BACKEND,
//     INGESTOR_STORAGE_POSTGRES_DSN, ...) or pass --config.
//   - Run locally: go run ./cmd/ingestor serve --config config.yaml
//   - One-off runs: ingestor scrape, ingestor cleanup.
package main
