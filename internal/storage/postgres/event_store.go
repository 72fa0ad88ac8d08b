package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmsevents/event-ingestor/internal/event"
)

const defaultEventTable = "events"

const eventColumns = `id, title, category, location, image_url, event_date, event_time,
	source_link, price, description, tags, genres, scraped_at, additional_data`

// EventStore keeps events in one table. Lists are text[] columns and
// additionalData is JSONB.
type EventStore struct {
	pool  Pool
	table string
	ids   event.IDGenerator
}

// NewEventStore wraps pool; table defaults to "events".
func NewEventStore(pool Pool, table string, ids event.IDGenerator) (*EventStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	name, err := checkTable(table, defaultEventTable)
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: pool, table: name, ids: ids}, nil
}

// Migrate creates the table and its indexes when missing.
func (s *EventStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id              text PRIMARY KEY,
	title           text,
	category        text,
	location        text,
	image_url       text,
	event_date      text,
	event_time      text,
	source_link     text,
	price           text,
	description     text[],
	tags            text[],
	genres          text[],
	scraped_at      timestamptz NOT NULL,
	additional_data jsonb
);
CREATE INDEX IF NOT EXISTS %[1]s_scraped_at_idx ON %[1]s (scraped_at);
CREATE INDEX IF NOT EXISTS %[1]s_category_idx ON %[1]s (category);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// SaveAll inserts the batch inside one transaction.
func (s *EventStore) SaveAll(ctx context.Context, events []event.Event) ([]event.Event, error) {
	if len(events) == 0 {
		return []event.Event{}, nil
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin insert: %w", err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		s.table, eventColumns)
	for _, e := range saved {
		args, err := insertArgs(e)
		if err == nil {
			_, err = tx.Exec(ctx, insert, args...)
		}
		if err != nil {
			return nil, errors.Join(fmt.Errorf("insert event: %w", err), tx.Rollback(ctx))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}
	return saved, nil
}

// Save inserts one event.
func (s *EventStore) Save(ctx context.Context, e event.Event) (event.Event, error) {
	saved, err := s.SaveAll(ctx, []event.Event{e})
	if err != nil {
		return event.Event{}, err
	}
	return saved[0], nil
}

func insertArgs(e event.Event) ([]any, error) {
	extra, err := json.Marshal(e.AdditionalData)
	if err != nil {
		return nil, fmt.Errorf("marshal additional data: %w", err)
	}
	return []any{
		e.ID, e.Title, e.Category, e.Location, e.ImageURL, e.EventDate, e.EventTime,
		e.SourceLink, e.Price, e.Description, e.Tags, e.Genres, e.ScrapedAt, extra,
	}, nil
}

// Find selects matching rows ordered by scraped_at, id.
func (s *EventStore) Find(ctx context.Context, f event.Filter) ([]event.Event, error) {
	where, args := whereClause(f)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY scraped_at, id`, eventColumns, s.table, where)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]event.Event, 0)
	for rows.Next() {
		var (
			e     event.Event
			extra []byte
		)
		if err := rows.Scan(
			&e.ID, &e.Title, &e.Category, &e.Location, &e.ImageURL, &e.EventDate, &e.EventTime,
			&e.SourceLink, &e.Price, &e.Description, &e.Tags, &e.Genres, &e.ScrapedAt, &extra,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(extra) > 0 {
			if err := event.DecodeJSON(extra, &e.AdditionalData); err != nil {
				return nil, fmt.Errorf("decode additional data for %s: %w", e.ID, err)
			}
		}
		e.ScrapedAt = e.ScrapedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func whereClause(f event.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(format string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Location != "" {
		add("location = $%d", f.Location)
	}
	if f.TitleContains != "" {
		add("strpos(lower(title), lower($%d)) > 0", f.TitleContains)
	}
	if f.Tag != "" {
		add("$%d = ANY(tags)", f.Tag)
	}
	if f.Genre != "" {
		add("$%d = ANY(genres)", f.Genre)
	}
	if !f.ScrapedAfter.IsZero() {
		add("scraped_at > $%d", f.ScrapedAfter)
	}
	if !f.ScrapedBefore.IsZero() {
		add("scraped_at < $%d", f.ScrapedBefore)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// DeleteScrapedBefore removes rows older than cutoff.
func (s *EventStore) DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE scraped_at < $1`, s.table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks that the database is reachable.
func (s *EventStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *EventStore) Close() error {
	s.pool.Close()
	return nil
}
