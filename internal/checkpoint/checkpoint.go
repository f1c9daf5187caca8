// Package checkpoint snapshots and restores engine state.
//
// A checkpoint captures consumer offsets per partition, the watermark
// maxima per pipeline and partition, and the window store contents per
// partition. Files are written atomically (write to temp, then rename)
// and rotated keeping the most recent K, so a crash mid-write can never
// leave the latest checkpoint corrupt.
package checkpoint

import (
	"encoding/json"
	"time"
)

// Checkpoint is the serialized engine state.
type Checkpoint struct {
	CreatedAt time.Time `json:"created_at"`

	// Offsets holds the next offset to consume, per partition.
	Offsets map[int]int64 `json:"offsets"`

	// Watermarks holds the maximum observed event time, per pipeline
	// and partition. The lateness bound is configuration, not state.
	Watermarks map[string]map[int]time.Time `json:"watermarks"`

	// Windows holds one window store snapshot blob per partition.
	Windows map[int]json.RawMessage `json:"windows"`
}

// New creates an empty checkpoint stamped now.
func New() *Checkpoint {
	return &Checkpoint{
		CreatedAt:  time.Now().UTC(),
		Offsets:    make(map[int]int64),
		Watermarks: make(map[string]map[int]time.Time),
		Windows:    make(map[int]json.RawMessage),
	}
}
