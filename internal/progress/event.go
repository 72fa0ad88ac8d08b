package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a cycle or backend milestone.
type Stage string

// Cycle and backend stages.
const (
	StageCycleStart   Stage = "CYCLE_START"
	StageCycleDone    Stage = "CYCLE_DONE"
	StageCycleError   Stage = "CYCLE_ERROR"
	StageBackendStart Stage = "BACKEND_START"
	StageBackendDone  Stage = "BACKEND_DONE"
	StageBackendError Stage = "BACKEND_ERROR"
)

// Event is one progress milestone.
type Event struct {
	CycleID [16]byte
	TS      time.Time
	Stage   Stage
	// Backend is the target name for backend stages.
	Backend string
	URL     string
	// Records is the number of events saved by a finished backend, or the
	// cycle total on CYCLE_DONE.
	Records int64
	Bytes   int64
	Dur     time.Duration
	// Note carries error text for *_ERROR stages.
	Note string
}

// IsBackend reports whether the stage is scoped to a single backend.
func (s Stage) IsBackend() bool {
	return s == StageBackendStart || s == StageBackendDone || s == StageBackendError
}

// Validate rejects events that sinks cannot attribute.
func (e Event) Validate() error {
	if e.CycleID == [16]byte{} {
		return errors.New("cycle id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleDone, StageCycleError:
	case StageBackendStart, StageBackendDone, StageBackendError:
		if e.Backend == "" {
			return fmt.Errorf("%s requires backend", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Records < 0 || e.Bytes < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// CycleUUID returns the cycle id as a uuid.UUID.
func (e Event) CycleUUID() uuid.UUID {
	return uuid.UUID(e.CycleID)
}

// ParseCycleID converts the string cycle id carried by queue items and
// reports into the binary form used by events.
func ParseCycleID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse cycle id %q: %w", s, err)
	}
	return [16]byte(id), nil
}
