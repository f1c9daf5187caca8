package sink

import (
	"context"
	"sync"

	"github.com/devscout/streamengine/internal/domain/model"
)

// MemorySink is an in-memory upsert-by-key Sink for tests and local
// runs. Writing the same upsert key twice keeps the latest row, which
// is exactly the idempotency the downstream store provides.
type MemorySink struct {
	mu   sync.Mutex
	rows map[string]model.Row

	// failNext injects transient failures for writer retry tests.
	failNext int
	failWith error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{rows: make(map[string]model.Row)}
}

// FailNext makes the next n WriteBatch calls return err.
func (s *MemorySink) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failWith = err
}

// WriteBatch upserts each row by its key.
func (s *MemorySink) WriteBatch(_ context.Context, rows []model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return s.failWith
	}
	for _, r := range rows {
		s.rows[r.UpsertKey()] = r
	}
	return nil
}

// Rows returns a copy of the stored rows keyed by upsert key.
func (s *MemorySink) Rows() map[string]model.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.Row, len(s.rows))
	for k, v := range s.rows {
		out[k] = v
	}
	return out
}

// Len returns the number of distinct upsert keys stored.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Close is a no-op.
func (s *MemorySink) Close() error { return nil }
