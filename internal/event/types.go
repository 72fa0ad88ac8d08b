// Package event defines the canonical event model and the collaborator
// interfaces shared by the ingestion pipeline.
package event

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrNoTargets is returned when a scrape cycle is requested without any backends configured.
var ErrNoTargets = errors.New("no scrape targets configured")

// ErrQueueClosed is returned by a Queue once it is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// SourceKey is the additionalData key naming the backend that produced a record.
const SourceKey = "scrapingSource"

// RawRecord is one loosely-typed item as returned by a backend.
type RawRecord map[string]any

// AdditionalData holds raw keys that were not promoted to canonical fields.
// Values keep JSON semantics (string, json.Number, bool, []any, map[string]any,
// nil); see DecodeJSON.
type AdditionalData map[string]any

// Event is the normalized, persisted representation of a scraped listing.
// Scalar and list fields are nil when upstream data was absent or mistyped.
type Event struct {
	ID             string         `json:"id,omitempty" bson:"_id,omitempty"`
	Title          *string        `json:"title" bson:"title"`
	Category       *string        `json:"category" bson:"category"`
	Location       *string        `json:"location" bson:"location"`
	ImageURL       *string        `json:"imageUrl" bson:"imageUrl"`
	EventDate      *string        `json:"eventDate" bson:"eventDate"`
	EventTime      *string        `json:"eventTime" bson:"eventTime"`
	SourceLink     *string        `json:"sourceLink" bson:"sourceLink"`
	Price          *string        `json:"price" bson:"price"`
	Description    []string       `json:"description" bson:"description"`
	Tags           []string       `json:"tags" bson:"tags"`
	Genres         []string       `json:"genres" bson:"genres"`
	ScrapedAt      time.Time      `json:"scrapedAt" bson:"scrapedAt"`
	AdditionalData AdditionalData `json:"additionalData" bson:"additionalData"`
}

// Source returns the scrapingSource marker, or "" when it is absent.
func (e Event) Source() string {
	if e.AdditionalData == nil {
		return ""
	}
	s, _ := e.AdditionalData[SourceKey].(string)
	return s
}

// Clone returns a copy whose lists and top-level additionalData map are not
// shared with e. Nested additionalData values are shared.
func (e Event) Clone() Event {
	e.Description = slices.Clone(e.Description)
	e.Tags = slices.Clone(e.Tags)
	e.Genres = slices.Clone(e.Genres)
	e.AdditionalData = maps.Clone(e.AdditionalData)
	return e
}

// Target is one configured scraper backend.
type Target struct {
	// Name tags every record the backend produces (e.g. service-3000).
	Name string `json:"name"`
	// URL is the full scrape endpoint.
	URL string `json:"url"`
}

// QueueItem asks a worker to run one backend of a cycle. The worker sends
// exactly one BackendResult on Result.
type QueueItem struct {
	CycleID string
	Target  Target
	Result  chan<- BackendResult
}
