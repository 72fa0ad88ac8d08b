// Package progress carries scrape-cycle milestones from the orchestrator and
// workers to pluggable sinks. Emitters never block: events are buffered on a
// channel, batched by size or age, and handed to each sink in turn.
package progress
