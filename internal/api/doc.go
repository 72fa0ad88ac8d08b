// Package api hosts the HTTP surface of the ingestor. Notable routes:
//   - POST /api/scrape/district (alias /api/scrape/cycles) runs one scrape
//     cycle synchronously and answers with a text summary.
//   - GET /api/scrape/events/... are read-only queries over the event store;
//     POST /api/scrape/events/flexible stores an arbitrary JSON object.
//   - GET /api/scrape/cycles, /api/scrape/cycles/{cycle_id} and
//     /api/scrape/cycles/{cycle_id}/backends report cycle progress.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
