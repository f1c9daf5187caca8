// Package watermark tracks per-partition event-time watermarks.
//
// A tracker belongs to one windowed pipeline: allowed lateness is a
// pipeline constant, so each pipeline watches its own maximum observed
// event time per partition. The watermark for a partition is
// max(event_time seen) minus allowed lateness and never decreases, even
// when an unusually early event arrives.
package watermark

import (
	"context"
	"sync"
	"time"
)

// Tracker maintains the maximum observed event time per partition.
type Tracker struct {
	mu       sync.RWMutex
	maxSeen  map[int]time.Time
	lateness time.Duration
}

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithAllowedLateness sets the lateness bound subtracted from the
// maximum observed event time.
func WithAllowedLateness(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.lateness = d
		}
	}
}

// NewTracker creates a tracker with configuration options.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		maxSeen: make(map[int]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe records an event time for a partition. The maximum never
// regresses.
func (t *Tracker) Observe(_ context.Context, partition int, eventTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if eventTime.After(t.maxSeen[partition]) {
		t.maxSeen[partition] = eventTime
	}
}

// Current returns the watermark for a partition: the maximum observed
// event time minus allowed lateness. The zero time means nothing has
// been observed yet.
func (t *Tracker) Current(_ context.Context, partition int) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	max, ok := t.maxSeen[partition]
	if !ok {
		return time.Time{}
	}
	return max.Add(-t.lateness)
}

// MaxSeen returns the raw maximum observed event time for a partition,
// used by checkpoint snapshots.
func (t *Tracker) MaxSeen(_ context.Context, partition int) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxSeen[partition]
}

// Snapshot returns a copy of the per-partition maxima keyed by
// partition.
func (t *Tracker) Snapshot(_ context.Context) map[int]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]time.Time, len(t.maxSeen))
	for p, ts := range t.maxSeen {
		out[p] = ts
	}
	return out
}

// Restore seeds the per-partition maxima from a checkpoint. Existing
// later values win so a restore can never move a watermark backwards.
func (t *Tracker) Restore(_ context.Context, maxima map[int]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p, ts := range maxima {
		if ts.After(t.maxSeen[p]) {
			t.maxSeen[p] = ts
		}
	}
}
