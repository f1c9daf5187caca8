// Package windowstore owns the keyed, time-bucketed accumulator state.
//
// One store instance serves one source partition. The partition's
// ingestion worker writes through Accumulate, the scheduler
// reads-and-removes through CloseWindowsBelow, and the checkpoint
// manager reads through Snapshot; no caller ever holds a reference to
// an accumulator across calls.
package windowstore

import (
	"context"
	"time"

	"github.com/devscout/streamengine/internal/domain/model"
)

// Closed pairs a removed window key with its final accumulator value.
type Closed struct {
	Key model.WindowKey   `json:"key"`
	Acc model.Accumulator `json:"acc"`
}

// Store provides the only access path to in-flight window state.
type Store interface {
	// Accumulate creates the accumulator on first touch, else merges the
	// delta. Merging is associative and commutative, so arrival order
	// within a window never affects the final aggregate.
	Accumulate(ctx context.Context, key model.WindowKey, delta model.Delta)

	// CloseWindowsBelow atomically removes and returns every accumulator
	// of the named pipeline whose window end is at or below the
	// watermark. Windows that never received an event do not exist in
	// the store and therefore are never returned.
	CloseWindowsBelow(ctx context.Context, pipeline string, watermark time.Time) []Closed

	// ForceCloseAll removes and returns every open accumulator
	// regardless of watermark; used for the best-effort shutdown flush.
	ForceCloseAll(ctx context.Context) []Closed

	// OpenCount returns the number of open accumulators.
	OpenCount(ctx context.Context) int

	// Snapshot serializes all open accumulators for checkpointing.
	Snapshot(ctx context.Context) ([]byte, error)

	// Restore replaces the store contents with a snapshot blob.
	Restore(ctx context.Context, blob []byte) error
}
