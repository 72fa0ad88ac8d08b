// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock returns UTC time truncated to microseconds so stamps survive a round
// trip through every supported store unchanged.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
