package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus is the lifecycle state of a cycle or backend run.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	return s == RunRunning || s == RunSuccess || s == RunError
}

// CycleRun is one row of cycle history.
type CycleRun struct {
	ID           uuid.UUID  `json:"cycle_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	Total        int64      `json:"total"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// BackendRun is the per-backend outcome inside a cycle.
type BackendRun struct {
	CycleID    uuid.UUID `json:"cycle_id"`
	Backend    string    `json:"backend"`
	URL        string    `json:"url"`
	Status     RunStatus `json:"status"`
	Records    int64     `json:"records"`
	Bytes      int64     `json:"bytes"`
	Duration   float64   `json:"duration_seconds"`
	LastUpdate time.Time `json:"last_update"`
	Error      *string   `json:"error,omitempty"`
}

// ProgressRepository persists cycle progress and serves the history queries.
type ProgressRepository interface {
	// StartCycle records a running cycle; repeated calls are idempotent.
	StartCycle(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// FinishCycle marks the cycle terminal with its total and optional error.
	FinishCycle(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, total int64, errMsg *string) error
	// UpsertBackend inserts or replaces the backend row for a cycle.
	UpsertBackend(ctx context.Context, run BackendRun) error

	// GetCycle returns ErrNotFound when the id is unknown.
	GetCycle(ctx context.Context, id uuid.UUID) (CycleRun, error)
	// ListCycles returns newest first, optionally filtered by status.
	ListCycles(ctx context.Context, status *RunStatus, limit, offset int) ([]CycleRun, error)
	ListCycleBackends(ctx context.Context, id uuid.UUID) ([]BackendRun, error)
	Close() error
}
