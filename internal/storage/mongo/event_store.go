// Package mongo stores events as documents in a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bmsevents/event-ingestor/internal/event"
)

// Config locates the collection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// EventStore persists events in one collection keyed by string _id.
type EventStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	ids    event.IDGenerator
}

// Connect dials MongoDB, pings it and returns a store for cfg.Collection.
func Connect(ctx context.Context, cfg Config, ids event.IDGenerator) (*EventStore, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("mongo uri and database are required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "events"
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Join(fmt.Errorf("ping mongo: %w", err), client.Disconnect(ctx))
	}
	s := NewWithCollection(client.Database(cfg.Database).Collection(cfg.Collection), ids)
	s.client = client
	return s, nil
}

// NewWithCollection wraps an existing collection.
func NewWithCollection(coll *mongo.Collection, ids event.IDGenerator) *EventStore {
	return &EventStore{coll: coll, ids: ids}
}

// EnsureIndexes creates the scrapedAt and category indexes.
func (s *EventStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "scrapedAt", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "location", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// SaveAll inserts the batch with one ordered InsertMany.
func (s *EventStore) SaveAll(ctx context.Context, events []event.Event) ([]event.Event, error) {
	if len(events) == 0 {
		return []event.Event{}, nil
	}
	saved := make([]event.Event, len(events))
	docs := make([]any, len(events))
	for i, e := range events {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("assign event id: %w", err)
		}
		e.ID = id
		saved[i] = e
		doc := e
		doc.AdditionalData = additionalToBSON(e.AdditionalData)
		docs[i] = doc
	}
	if _, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return nil, fmt.Errorf("insert events: %w", err)
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

// Find returns matching documents ordered by scrapedAt, _id.
func (s *EventStore) Find(ctx context.Context, f event.Filter) ([]event.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scrapedAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, buildFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	out := make([]event.Event, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	for i := range out {
		out[i].ScrapedAt = out[i].ScrapedAt.UTC()
		out[i].AdditionalData = additionalFromBSON(out[i].AdditionalData)
	}
	return out, nil
}

func buildFilter(f event.Filter) bson.M {
	q := bson.M{}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.Location != "" {
		q["location"] = f.Location
	}
	if f.TitleContains != "" {
		q["title"] = primitive.Regex{Pattern: regexp.QuoteMeta(f.TitleContains), Options: "i"}
	}
	if f.Tag != "" {
		q["tags"] = f.Tag
	}
	if f.Genre != "" {
		q["genres"] = f.Genre
	}
	scraped := bson.M{}
	if !f.ScrapedAfter.IsZero() {
		scraped["$gt"] = f.ScrapedAfter
	}
	if !f.ScrapedBefore.IsZero() {
		scraped["$lt"] = f.ScrapedBefore
	}
	if len(scraped) > 0 {
		q["scrapedAt"] = scraped
	}
	return q
}

// DeleteScrapedBefore removes documents older than cutoff.
func (s *EventStore) DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"scrapedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return res.DeletedCount, nil
}

// Ping checks that the deployment is reachable.
func (s *EventStore) Ping(ctx context.Context) error {
	if err := s.coll.Database().Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the client when the store owns it.
func (s *EventStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}
