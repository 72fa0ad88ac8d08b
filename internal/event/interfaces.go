package event

import (
	"context"
	"time"
)

// Store persists canonical events. SaveAll assigns IDs and returns the saved
// copies; implementations write a batch atomically where the engine allows it.
type Store interface {
	SaveAll(ctx context.Context, events []Event) ([]Event, error)
	Save(ctx context.Context, e Event) (Event, error)
	Find(ctx context.Context, f Filter) ([]Event, error)
	DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Fetcher performs one scrape call against a backend endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Queue provides enqueue/dequeue semantics for backend tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes batch notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
