package windowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devscout/streamengine/internal/domain/model"
	"github.com/devscout/streamengine/pkg/metrics"
)

// MemStore is the in-memory Store implementation: an arena of
// accumulator slots plus a WindowKey index into it. Slots freed by a
// close are recycled through a free list, so steady-state operation
// allocates nothing per window.
type MemStore struct {
	partition int

	mu    sync.Mutex
	arena []slot
	index map[model.WindowKey]int
	free  []int
}

type slot struct {
	key   model.WindowKey
	acc   model.Accumulator
	alive bool
}

// Option applies a configuration option to the MemStore.
type Option func(*MemStore)

// WithPartition tags the store with its source partition, labeling the
// open-window gauge so per-partition stores never clobber each other.
func WithPartition(p int) Option {
	return func(s *MemStore) {
		if p >= 0 {
			s.partition = p
		}
	}
}

// WithInitialCapacity pre-sizes the arena and index.
func WithInitialCapacity(n int) Option {
	return func(s *MemStore) {
		if n > 0 {
			s.arena = make([]slot, 0, n)
			s.index = make(map[model.WindowKey]int, n)
		}
	}
}

// NewMemStore creates an empty store with configuration options.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		index: make(map[model.WindowKey]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accumulate creates or merges the accumulator for key. Reopening a key
// that was closed earlier is normal as long as the caller admitted the
// event against the watermark.
func (s *MemStore) Accumulate(_ context.Context, key model.WindowKey, delta model.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[key]; ok {
		s.arena[i].acc.Merge(delta)
		return
	}

	i := s.alloc()
	s.arena[i] = slot{key: key, acc: delta, alive: true}
	s.index[key] = i
	metrics.UpdateOpenWindows(s.partition, len(s.index))
}

// CloseWindowsBelow removes and returns matured windows for a pipeline.
// The inclusion check and the removal happen under one lock, so no
// concurrent Accumulate can land between them.
func (s *MemStore) CloseWindowsBelow(_ context.Context, pipeline string, watermark time.Time) []Closed {
	wm := watermark.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Closed
	for key, i := range s.index {
		if key.Pipeline != pipeline || key.WindowEnd > wm {
			continue
		}
		out = append(out, Closed{Key: key, Acc: s.arena[i].acc})
		s.release(key, i)
	}
	metrics.UpdateOpenWindows(s.partition, len(s.index))
	return out
}

// ForceCloseAll drains every open accumulator for the shutdown flush.
func (s *MemStore) ForceCloseAll(_ context.Context) []Closed {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Closed, 0, len(s.index))
	for key, i := range s.index {
		out = append(out, Closed{Key: key, Acc: s.arena[i].acc})
		s.release(key, i)
	}
	metrics.UpdateOpenWindows(s.partition, 0)
	return out
}

// OpenCount returns the number of open accumulators.
func (s *MemStore) OpenCount(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Snapshot serializes the open accumulators as a JSON list of
// key/accumulator pairs.
func (s *MemStore) Snapshot(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Closed, 0, len(s.index))
	for key, i := range s.index {
		entries = append(entries, Closed{Key: key, Acc: s.arena[i].acc})
	}
	blob, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("marshal window snapshot: %w", err)
	}
	return blob, nil
}

// Restore replaces the store contents with a snapshot blob.
func (s *MemStore) Restore(_ context.Context, blob []byte) error {
	var entries []Closed
	if err := json.Unmarshal(blob, &entries); err != nil {
		return fmt.Errorf("unmarshal window snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.arena = s.arena[:0]
	s.free = s.free[:0]
	s.index = make(map[model.WindowKey]int, len(entries))
	for _, e := range entries {
		i := s.alloc()
		s.arena[i] = slot{key: e.Key, acc: e.Acc, alive: true}
		s.index[e.Key] = i
	}
	metrics.UpdateOpenWindows(s.partition, len(s.index))
	return nil
}

// alloc returns a free arena slot index, growing the arena if the free
// list is empty. Callers hold the lock.
func (s *MemStore) alloc() int {
	if n := len(s.free); n > 0 {
		i := s.free[n-1]
		s.free = s.free[:n-1]
		return i
	}
	s.arena = append(s.arena, slot{})
	return len(s.arena) - 1
}

// release drops a slot back onto the free list. Callers hold the lock.
func (s *MemStore) release(key model.WindowKey, i int) {
	delete(s.index, key)
	s.arena[i] = slot{}
	s.free = append(s.free, i)
}
