package event

import (
	"slices"
	"strings"
	"time"
)

// Filter selects events from a Store. Zero-valued fields match everything.
type Filter struct {
	Category      string
	Location      string
	TitleContains string
	Tag           string
	Genre         string
	// ScrapedAfter matches events whose scrapedAt is strictly later.
	ScrapedAfter time.Time
	// ScrapedBefore matches events whose scrapedAt is strictly earlier.
	ScrapedBefore time.Time
}

// Match reports whether e satisfies every populated field of f.
func (f Filter) Match(e Event) bool {
	if f.Category != "" && (e.Category == nil || *e.Category != f.Category) {
		return false
	}
	if f.Location != "" && (e.Location == nil || *e.Location != f.Location) {
		return false
	}
	if f.TitleContains != "" {
		if e.Title == nil || !strings.Contains(strings.ToLower(*e.Title), strings.ToLower(f.TitleContains)) {
			return false
		}
	}
	if f.Tag != "" && !slices.Contains(e.Tags, f.Tag) {
		return false
	}
	if f.Genre != "" && !slices.Contains(e.Genres, f.Genre) {
		return false
	}
	if !f.ScrapedAfter.IsZero() && !e.ScrapedAt.After(f.ScrapedAfter) {
		return false
	}
	if !f.ScrapedBefore.IsZero() && !e.ScrapedAt.Before(f.ScrapedBefore) {
		return false
	}
	return true
}

// SortByScrapedAt orders events by scrapedAt, then ID.
func SortByScrapedAt(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		if c := a.ScrapedAt.Compare(b.ScrapedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
