// Package badger keeps events in an embedded badger database. Keys sort by
// scrapedAt so scans come back in query order.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/event"
)

var keyPrefix = []byte("event/")

// Config selects an on-disk path or an in-memory database.
type Config struct {
	Path     string
	InMemory bool

	// MemTableSize overrides badger's memtable size; it also bounds how much
	// one transaction may hold. Zero keeps the default.
	MemTableSize int64
}

// EventStore persists JSON-encoded events under time-ordered keys.
type EventStore struct {
	db  *badger.DB
	ids event.IDGenerator
}

// Open opens (or creates) the database.
func Open(cfg Config, ids event.IDGenerator, logger *zap.Logger) (*EventStore, error) {
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path != "":
		opts = badger.DefaultOptions(cfg.Path)
	default:
		return nil, errors.New("badger path is required unless in_memory is set")
	}
	if cfg.MemTableSize > 0 {
		maxBatch := cfg.MemTableSize * 15 / 100
		opts = opts.WithMemTableSize(cfg.MemTableSize).
			WithValueThreshold(min(opts.ValueThreshold, maxBatch/4))
	}
	opts = opts.WithLogger(newLogAdapter(logger))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &EventStore{db: db, ids: ids}, nil
}

// eventKey is event/<20-digit unix nanos>/<id>.
func eventKey(e event.Event) []byte {
	return fmt.Appendf(nil, "event/%020d/%s", e.ScrapedAt.UnixNano(), e.ID)
}

func timeBound(t time.Time) []byte {
	return fmt.Appendf(nil, "event/%020d/", t.UnixNano())
}

// SaveAll writes the batch in one transaction, spilling into further
// transactions when it exceeds badger's per-transaction limit.
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
		e.ID = id
		saved[i] = e
	}

	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()
	for _, e := range saved {
		val, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		key := eventKey(e)
		err = txn.Set(key, val)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return nil, fmt.Errorf("commit events: %w", err)
			}
			txn = s.db.NewTransaction(true)
			err = txn.Set(key, val)
		}
		if err != nil {
			return nil, fmt.Errorf("write event %s: %w", e.ID, err)
		}
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("commit events: %w", err)
	}
	return saved, nil
}

// Save writes one event.
func (s *EventStore) Save(ctx context.Context, e event.Event) (event.Event, error) {
	saved, err := s.SaveAll(ctx, []event.Event{e})
	if err != nil {
		return event.Event{}, err
	}
	return saved[0], nil
}

// Find scans the key range implied by the scrapedAt bounds and applies the
// remaining filter fields to decoded values.
func (s *EventStore) Find(ctx context.Context, f event.Filter) ([]event.Event, error) {
	out := make([]event.Event, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := keyPrefix
		if !f.ScrapedAfter.IsZero() {
			start = timeBound(f.ScrapedAfter)
		}
		for it.Seek(start); it.ValidForPrefix(keyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("find events: %w", err)
			}
			var e event.Event
			if err := it.Item().Value(func(val []byte) error {
				return event.DecodeJSON(val, &e)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if !f.ScrapedBefore.IsZero() && !e.ScrapedAt.Before(f.ScrapedBefore) {
				break
			}
			if f.Match(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteScrapedBefore removes every key older than cutoff.
func (s *EventStore) DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var doomed [][]byte
	end := timeBound(cutoff)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= string(end) {
				break
			}
			doomed = append(doomed, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan expired events: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range doomed {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete event: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush deletes: %w", err)
	}
	return int64(len(doomed)), nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

type logAdapter struct {
	s *zap.SugaredLogger
}

func newLogAdapter(logger *zap.Logger) badger.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logAdapter{s: logger.Named("badger").Sugar()}
}

func (l logAdapter) Errorf(f string, v ...any)   { l.s.Errorf(f, v...) }
func (l logAdapter) Warningf(f string, v ...any) { l.s.Warnf(f, v...) }
func (l logAdapter) Infof(f string, v ...any)    { l.s.Debugf(f, v...) }
func (l logAdapter) Debugf(f string, v ...any)   { l.s.Debugf(f, v...) }
