// Package normalizer converts loosely-typed backend records into canonical events.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/event"
	"github.com/bmsevents/event-ingestor/internal/metrics"
)

// Raw keys promoted to canonical fields. None of them survive into additionalData.
const (
	keyTitle       = "title"
	keyCategory    = "category"
	keyLocation    = "location"
	keyImage       = "image"
	keyEventDate   = "eventDate"
	keyEventTime   = "eventTime"
	keyEventLink   = "eventLink"
	keyPrice       = "price"
	keyDescription = "description"
	keyTags        = "tags"
	keyGenres      = "genres"
)

// PromotedKeys lists the raw keys consumed by Normalize.
var PromotedKeys = []string{
	keyTitle, keyCategory, keyLocation, keyImage, keyEventDate, keyEventTime,
	keyEventLink, keyPrice, keyDescription, keyTags, keyGenres,
}

// unknownDate is the upstream placeholder for a date that has not been announced.
const unknownDate = "TBD"

// Normalizer maps raw records onto event.Event. It never fails: mistyped
// fields collapse to nil and are logged.
type Normalizer struct {
	clock  event.Clock
	logger *zap.Logger
}

// New constructs a Normalizer.
func New(clock event.Clock, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{clock: clock, logger: logger}
}

// Normalize converts one raw record produced by the backend tagged source.
func (n *Normalizer) Normalize(raw event.RawRecord, source string) event.Event {
	f := fieldReader{raw: raw, source: source, logger: n.logger}
	evt := event.Event{
		Title:       f.str(keyTitle),
		Category:    f.str(keyCategory),
		Location:    f.str(keyLocation),
		ImageURL:    f.str(keyImage),
		EventDate:   dateOrNil(f.str(keyEventDate)),
		EventTime:   f.str(keyEventTime),
		SourceLink:  f.str(keyEventLink),
		Price:       f.str(keyPrice),
		Description: f.list(keyDescription),
		Tags:        f.list(keyTags),
		Genres:      f.list(keyGenres),
		ScrapedAt:   n.clock.Now(),
	}

	extra := make(event.AdditionalData, len(raw)+1)
	for k, v := range raw {
		extra[k] = v
	}
	for _, k := range PromotedKeys {
		delete(extra, k)
	}
	extra[event.SourceKey] = source
	evt.AdditionalData = extra
	return evt
}

// NormalizeBatch decodes a JSON array of raw records and normalizes each one.
// An undecodable payload yields an empty slice; elements that are not JSON
// objects are skipped.
func (n *Normalizer) NormalizeBatch(body []byte, source string) []event.Event {
	out := []event.Event{}
	if len(bytes.TrimSpace(body)) == 0 {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		n.logger.Error("malformed batch payload",
			zap.String("backend", source),
			zap.Int("bytes", len(body)),
			zap.Error(err),
		)
		metrics.ObserveMalformedBatch(source)
		return out
	}
	for i, item := range items {
		var raw event.RawRecord
		if err := event.DecodeJSON(item, &raw); err != nil || raw == nil {
			n.logger.Warn("skipping malformed record",
				zap.String("backend", source),
				zap.Int("index", i),
				zap.Error(err),
			)
			metrics.ObserveSkippedRecord(source)
			continue
		}
		out = append(out, n.Normalize(raw, source))
	}
	return out
}

// FromPayload builds an event from an arbitrary client-supplied object. The
// canonical fields use their persisted names and the full payload is kept in
// additionalData unchanged.
func (n *Normalizer) FromPayload(payload map[string]any) event.Event {
	f := fieldReader{raw: payload, source: "flexible", logger: n.logger}
	evt := event.Event{
		Title:       f.str("title"),
		Category:    f.str("category"),
		Location:    f.str("location"),
		ImageURL:    f.str("imageUrl"),
		EventDate:   dateOrNil(f.str("eventDate")),
		EventTime:   f.str("eventTime"),
		SourceLink:  f.str("sourceLink"),
		Price:       f.str("price"),
		Description: f.list("description"),
		Tags:        f.list("tags"),
		Genres:      f.list("genres"),
		ScrapedAt:   n.clock.Now(),
	}
	extra := make(event.AdditionalData, len(payload))
	maps.Copy(extra, payload)
	evt.AdditionalData = extra
	return evt
}

func dateOrNil(v *string) *string {
	if v == nil || strings.EqualFold(*v, unknownDate) {
		return nil
	}
	return v
}

type fieldReader struct {
	raw    map[string]any
	source string
	logger *zap.Logger
}

func (r fieldReader) str(key string) *string {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		r.mismatch(key, v)
		return nil
	}
	return &s
}

func (r fieldReader) list(key string) []string {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return nil
	}
	switch items := v.(type) {
	case []string:
		return append([]string{}, items...)
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				r.mismatch(key, item)
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		r.mismatch(key, v)
		return nil
	}
}

func (r fieldReader) mismatch(key string, v any) {
	r.logger.Warn("field type mismatch, storing null",
		zap.String("backend", r.source),
		zap.String("field", key),
		zap.String("type", fmt.Sprintf("%T", v)),
	)
	metrics.ObserveFieldMismatch(key)
}
