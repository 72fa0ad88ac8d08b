package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bmsevents/event-ingestor/internal/event"
)

// EventStore is a mutex-guarded slice of events.
type EventStore struct {
	mu     sync.RWMutex
	ids    event.IDGenerator
	events []event.Event
}

// NewEventStore returns an empty store that assigns ids from ids.
func NewEventStore(ids event.IDGenerator) *EventStore {
	return &EventStore{ids: ids}
}

// SaveAll assigns ids to every event and appends the batch. Either the whole
// batch is stored or none of it is.
func (s *EventStore) SaveAll(ctx context.Context, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("save events: %w", err)
	}
	saved := make([]event.Event, len(events))
	for i, e := range events {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("assign event id: %w", err)
		}
		e = e.Clone()
		e.ID = id
		saved[i] = e
	}
	s.mu.Lock()
	for _, e := range saved {
		s.events = append(s.events, e.Clone())
	}
	s.mu.Unlock()
	return saved, nil
}

// Save stores a single event.
func (s *EventStore) Save(ctx context.Context, e event.Event) (event.Event, error) {
	saved, err := s.SaveAll(ctx, []event.Event{e})
	if err != nil {
		return event.Event{}, err
	}
	return saved[0], nil
}

// Find returns clones of every matching event ordered by scrapedAt.
func (s *EventStore) Find(ctx context.Context, f event.Filter) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	s.mu.RLock()
	out := make([]event.Event, 0)
	for _, e := range s.events {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()
	event.SortByScrapedAt(out)
	return out, nil
}

// DeleteScrapedBefore removes events scraped strictly before cutoff.
func (s *EventStore) DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.ScrapedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.events[len(kept):])
	s.events = kept
	return removed, nil
}

// Len reports the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close is a no-op.
func (s *EventStore) Close() error { return nil }
