package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/bmsevents/event-ingestor/internal/event"
)

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func strp(s string) *string { return &s }

func newMockEventStore(t *testing.T) (*EventStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewEventStore(mock, "", &seqIDs{})
	require.NoError(t, err)
	return s, mock
}

func TestEventStoreSaveAllCommitsBatch(t *testing.T) {
	t.Parallel()

	s, mock := newMockEventStore(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := []event.Event{
		{
			Title: strp("Gig"), Tags: []string{"live"}, ScrapedAt: at,
			AdditionalData: event.AdditionalData{"scrapingSource": "service-3000"},
		},
		{Title: strp("Play"), ScrapedAt: at},
	}

	var (
		none   *string
		noList []string
	)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").
		WithArgs("id-1", batch[0].Title, none, none, none, none, none, none, none, noList, []string{"live"}, noList, at,
			[]byte(`{"scrapingSource":"service-3000"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO events").
		WithArgs("id-2", batch[1].Title, none, none, none, none, none, none, none, noList, noList, noList, at,
			[]byte(`null`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	saved, err := s.SaveAll(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	require.Equal(t, "id-1", saved[0].ID)
	require.Equal(t, "id-2", saved[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreSaveAllRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	s, mock := newMockEventStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	saved, err := s.SaveAll(context.Background(), []event.Event{{Title: strp("x")}, {Title: strp("y")}})
	require.ErrorContains(t, err, "disk full")
	require.Nil(t, saved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreSaveAllEmptyBatch(t *testing.T) {
	t.Parallel()

	s, mock := newMockEventStore(t)
	saved, err := s.SaveAll(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, saved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreFindBuildsFilter(t *testing.T) {
	t.Parallel()

	s, mock := newMockEventStore(t)
	after := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "title", "category", "location", "image_url", "event_date", "event_time",
		"source_link", "price", "description", "tags", "genres", "scraped_at", "additional_data",
	}).AddRow(
		"id-9", strp("Gig"), strp("Music"), nil, nil, nil, nil,
		nil, nil, []string{"line"}, []string{"live"}, nil, after.Add(time.Hour),
		[]byte(`{"scrapingSource":"service-3001","venue":"Hall","venueId":9007199254740993}`),
	)
	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM events WHERE category = $1 AND strpos(lower(title), lower($2)) > 0 AND $3 = ANY(tags) " +
			"AND scraped_at > $4 ORDER BY scraped_at, id")).
		WithArgs("Music", "gig", "live", after).
		WillReturnRows(rows)

	got, err := s.Find(context.Background(), event.Filter{
		Category: "Music", TitleContains: "gig", Tag: "live", ScrapedAfter: after,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "id-9", got[0].ID)
	require.Equal(t, "Gig", *got[0].Title)
	require.Nil(t, got[0].Location)
	require.Equal(t, []string{"line"}, got[0].Description)
	require.Equal(t, "service-3001", got[0].Source())
	require.Equal(t, "Hall", got[0].AdditionalData["venue"])
	require.Equal(t, json.Number("9007199254740993"), got[0].AdditionalData["venueId"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreFindAll(t *testing.T) {
	t.Parallel()

	s, mock := newMockEventStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM events ORDER BY scraped_at, id")).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	got, err := s.Find(context.Background(), event.Filter{})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreDeleteScrapedBefore(t *testing.T) {
	t.Parallel()

	s, mock := newMockEventStore(t)
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM events WHERE scraped_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := s.DeleteScrapedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreMigrate(t *testing.T) {
	t.Parallel()

	s, mock := newMockEventStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewEventStoreValidates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewEventStore(mock, "events; DROP TABLE x", &seqIDs{})
	require.Error(t, err)
	_, err = NewEventStore(nil, "", &seqIDs{})
	require.Error(t, err)
	_, err = NewEventStore(mock, "", nil)
	require.Error(t, err)
}

func TestEventStorePing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewEventStore(mock, "", &seqIDs{})
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(errors.New("conn refused"))
	require.ErrorContains(t, s.Ping(context.Background()), "conn refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
