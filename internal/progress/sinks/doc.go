// Package sinks holds the progress consumers: structured logs, Prometheus
// collectors and the cycle-history repository.
package sinks
