package event

import (
	"fmt"
	"strings"
	"time"
)

// TaskState is the lifecycle position of one backend within a cycle.
type TaskState string

// Backend task states. Done and Failed are terminal.
const (
	StateFetching    TaskState = "fetching"
	StateNormalizing TaskState = "normalizing"
	StatePersisting  TaskState = "persisting"
	StateDone        TaskState = "done"
	StateFailed      TaskState = "failed"
)

// BackendResult is the outcome of one backend task. Saved is what the
// backend contributes to the cycle total; it is zero whenever State is Failed.
type BackendResult struct {
	Backend  string        `json:"backend"`
	URL      string        `json:"url"`
	State    TaskState     `json:"state"`
	Fetched  int           `json:"fetched"`
	Saved    int           `json:"saved"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// CycleReport aggregates the backend results of one scrape cycle.
type CycleReport struct {
	CycleID    string          `json:"cycleId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Total      int             `json:"total"`
	Backends   []BackendResult `json:"backends"`
}

// Count returns the number of records saved for the named backend.
func (r CycleReport) Count(backend string) int {
	for _, b := range r.Backends {
		if b.Backend == backend {
			return b.Saved
		}
	}
	return 0
}

// Failed returns the backends that ended in StateFailed.
func (r CycleReport) Failed() []BackendResult {
	var out []BackendResult
	for _, b := range r.Backends {
		if b.State == StateFailed {
			out = append(out, b)
		}
	}
	return out
}

// Summary renders the human-readable message returned by the trigger endpoint.
func (r CycleReport) Summary() string {
	parts := make([]string, 0, len(r.Backends))
	for _, b := range r.Backends {
		parts = append(parts, fmt.Sprintf("%s=%d", b.Backend, b.Saved))
	}
	return fmt.Sprintf(
		"Scraping completed! Total events saved: %d (%s). Data was saved progressively as each service completed.",
		r.Total,
		strings.Join(parts, ", "),
	)
}

// BatchNotification announces that one backend batch was persisted.
type BatchNotification struct {
	CycleID   string    `json:"cycle_id"`
	Backend   string    `json:"backend"`
	Saved     int       `json:"saved"`
	ScrapedAt time.Time `json:"scraped_at"`
}
