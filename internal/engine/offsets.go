// Package engine contains the per-partition ingestion workers and the
// window scheduler that together drive the streaming core.
package engine

import "sync"

// Offsets tracks the next offset to consume per partition. Workers
// advance it on every message; the checkpoint manager snapshots it.
type Offsets struct {
	mu   sync.RWMutex
	next map[int]int64
}

// NewOffsets creates an empty offset registry.
func NewOffsets() *Offsets {
	return &Offsets{next: make(map[int]int64)}
}

// Set records the next offset to consume for a partition.
func (o *Offsets) Set(partition int, next int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next[partition] = next
}

// Get returns the next offset for a partition and whether one is known.
func (o *Offsets) Get(partition int) (int64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n, ok := o.next[partition]
	return n, ok
}

// Snapshot returns a copy of all tracked offsets.
func (o *Offsets) Snapshot() map[int]int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[int]int64, len(o.next))
	for p, n := range o.next {
		out[p] = n
	}
	return out
}

// Restore seeds the registry from a checkpoint.
func (o *Offsets) Restore(offsets map[int]int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for p, n := range offsets {
		o.next[p] = n
	}
}
