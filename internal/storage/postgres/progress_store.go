package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bmsevents/event-ingestor/internal/store"
)

// ProgressStore implements store.ProgressRepository on the cycle_runs and
// backend_runs tables.
type ProgressStore struct {
	pool Pool
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore wraps pool.
func NewProgressStore(pool Pool) (*ProgressStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Migrate creates the history tables when missing.
func (s *ProgressStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS cycle_runs (
	id            uuid PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	total         bigint NOT NULL DEFAULT 0,
	error_message text
);
CREATE TABLE IF NOT EXISTS backend_runs (
	cycle_id     uuid NOT NULL REFERENCES cycle_runs (id) ON DELETE CASCADE,
	backend      text NOT NULL,
	url          text NOT NULL,
	status       text NOT NULL,
	records      bigint NOT NULL DEFAULT 0,
	bytes        bigint NOT NULL DEFAULT 0,
	duration_s   double precision NOT NULL DEFAULT 0,
	last_update  timestamptz NOT NULL,
	error        text,
	PRIMARY KEY (cycle_id, backend)
);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate progress tables: %w", err)
	}
	return nil
}

// StartCycle inserts a running cycle, leaving an existing row untouched.
func (s *ProgressStore) StartCycle(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	const q = `INSERT INTO cycle_runs (id, started_at, status) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, id, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("insert cycle run: %w", err)
	}
	return nil
}

// FinishCycle upserts the terminal state of a cycle.
func (s *ProgressStore) FinishCycle(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	total int64,
	errMsg *string,
) error {
	const q = `INSERT INTO cycle_runs (id, started_at, finished_at, status, total, error_message)
		VALUES ($1, $2, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET finished_at = EXCLUDED.finished_at, status = EXCLUDED.status,
			total = EXCLUDED.total, error_message = EXCLUDED.error_message`
	if _, err := s.pool.Exec(ctx, q, id, finishedAt, status, total, errMsg); err != nil {
		return fmt.Errorf("finish cycle run: %w", err)
	}
	return nil
}

// UpsertBackend writes the latest state of one backend in a cycle.
func (s *ProgressStore) UpsertBackend(ctx context.Context, run store.BackendRun) error {
	const q = `INSERT INTO backend_runs
		(cycle_id, backend, url, status, records, bytes, duration_s, last_update, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (cycle_id, backend) DO UPDATE SET url = EXCLUDED.url, status = EXCLUDED.status,
			records = EXCLUDED.records, bytes = EXCLUDED.bytes, duration_s = EXCLUDED.duration_s,
			last_update = EXCLUDED.last_update, error = EXCLUDED.error`
	_, err := s.pool.Exec(ctx, q,
		run.CycleID, run.Backend, run.URL, run.Status, run.Records, run.Bytes,
		run.Duration, run.LastUpdate, run.Error)
	if err != nil {
		return fmt.Errorf("upsert backend run: %w", err)
	}
	return nil
}

const cycleColumns = `id, started_at, finished_at, status, total, error_message`

func scanCycle(row pgx.Row) (store.CycleRun, error) {
	var run store.CycleRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Total, &run.ErrorMessage)
	return run, err
}

// GetCycle loads one cycle or returns store.ErrNotFound.
func (s *ProgressStore) GetCycle(ctx context.Context, id uuid.UUID) (store.CycleRun, error) {
	run, err := scanCycle(s.pool.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cycle_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.CycleRun{}, store.ErrNotFound
	}
	if err != nil {
		return store.CycleRun{}, fmt.Errorf("get cycle run: %w", err)
	}
	return run, nil
}

// ListCycles pages through cycles newest first.
func (s *ProgressStore) ListCycles(
	ctx context.Context,
	status *store.RunStatus,
	limit, offset int,
) ([]store.CycleRun, error) {
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, `SELECT `+cycleColumns+` FROM cycle_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC, id DESC
		LIMIT $2 OFFSET $3`, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list cycle runs: %w", err)
	}
	defer rows.Close()
	out := make([]store.CycleRun, 0)
	for rows.Next() {
		run, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycle runs: %w", err)
	}
	return out, nil
}

// ListCycleBackends returns the backend rows of one cycle.
func (s *ProgressStore) ListCycleBackends(ctx context.Context, id uuid.UUID) ([]store.BackendRun, error) {
	rows, err := s.pool.Query(ctx, `SELECT cycle_id, backend, url, status, records, bytes, duration_s,
		last_update, error FROM backend_runs WHERE cycle_id = $1 ORDER BY backend`, id)
	if err != nil {
		return nil, fmt.Errorf("list backend runs: %w", err)
	}
	defer rows.Close()
	out := make([]store.BackendRun, 0)
	for rows.Next() {
		var b store.BackendRun
		if err := rows.Scan(&b.CycleID, &b.Backend, &b.URL, &b.Status, &b.Records, &b.Bytes,
			&b.Duration, &b.LastUpdate, &b.Error); err != nil {
			return nil, fmt.Errorf("scan backend run: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backend runs: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (s *ProgressStore) Close() error {
	s.pool.Close()
	return nil
}
