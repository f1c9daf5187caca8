package source

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemorySource is an in-memory partitioned feed. Messages are retained
// after consumption so a partition can be re-read from any offset, the
// same way a log-backed broker allows.
type MemorySource struct {
	mu     sync.Mutex
	logs   map[int][]Message
	next   map[int]int64
	wakeup chan struct{}
	closed bool
}

// MemoryOption applies a configuration option to the MemorySource.
type MemoryOption func(*MemorySource)

// WithPartitions pre-creates empty partitions.
func WithPartitions(partitions ...int) MemoryOption {
	return func(s *MemorySource) {
		for _, p := range partitions {
			if _, ok := s.logs[p]; !ok {
				s.logs[p] = nil
				s.next[p] = 0
			}
		}
	}
}

// NewMemorySource creates an in-memory source with configuration
// options.
func NewMemorySource(opts ...MemoryOption) *MemorySource {
	s := &MemorySource{
		logs:   make(map[int][]Message),
		next:   make(map[int]int64),
		wakeup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a payload to a partition's log and returns its offset.
func (s *MemorySource) Append(partition int, value []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := int64(len(s.logs[partition]))
	s.logs[partition] = append(s.logs[partition], Message{
		Partition:  partition,
		Offset:     offset,
		Value:      value,
		IngestTime: time.Now().UTC(),
	})
	s.broadcast()
	return offset
}

// Partitions lists partitions that exist (pre-created or appended to).
func (s *MemorySource) Partitions() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.logs))
	for p := range s.logs {
		out = append(out, p)
	}
	return out
}

// Poll blocks until the partition has an unconsumed message.
func (s *MemorySource) Poll(ctx context.Context, partition int) (Message, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Message{}, ErrClosed
		}
		log, ok := s.logs[partition]
		if !ok {
			s.mu.Unlock()
			return Message{}, fmt.Errorf("%w: %d", ErrUnknownPartition, partition)
		}
		if pos := s.next[partition]; pos < int64(len(log)) {
			msg := log[pos]
			s.next[partition] = pos + 1
			s.mu.Unlock()
			return msg, nil
		}
		wake := s.wakeup
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Seek positions a partition's cursor.
func (s *MemorySource) Seek(partition int, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[partition]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPartition, partition)
	}
	if offset < 0 {
		offset = 0
	}
	s.next[partition] = offset
	return nil
}

// Close stops the source and wakes all blocked Polls.
func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.broadcast()
	}
	return nil
}

// broadcast wakes every blocked Poll. Callers hold the lock.
func (s *MemorySource) broadcast() {
	close(s.wakeup)
	s.wakeup = make(chan struct{})
}
