// Package source defines the partitioned message feed the engine
// consumes.
//
// The feed is ordered per partition and at-least-once; the engine must
// be able to resume each partition from an arbitrary offset recorded in
// a checkpoint. Kafka is the production implementation; the in-memory
// implementation serves tests and local runs.
package source

import (
	"context"
	"time"
)

// Message is one raw payload read from a partition.
type Message struct {
	Partition  int
	Offset     int64
	Value      []byte
	IngestTime time.Time
}

// Source is a partitioned, resumable byte-message feed.
type Source interface {
	// Partitions lists the partitions this source serves.
	Partitions() []int

	// Poll blocks until the next message for a partition is available,
	// ctx is done, or the source is closed (ErrClosed).
	Poll(ctx context.Context, partition int) (Message, error)

	// Seek positions a partition so the next Poll returns the message
	// at the given offset; used to resume from a checkpoint.
	Seek(partition int, offset int64) error

	// Close stops the source. In-flight Polls return ErrClosed.
	Close() error
}
