package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/devscout/streamengine/internal/domain/model"
)

// StdoutSink prints each finalized row as one JSON line, mirroring the
// original job's console output mode. Useful for local debugging; not
// idempotent, so replays print duplicates.
type StdoutSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdoutSink creates a sink writing to stdout.
func NewStdoutSink() *StdoutSink {
	return &StdoutSink{out: os.Stdout}
}

// WriteBatch prints each row prefixed with its pipeline name.
func (s *StdoutSink) WriteBatch(_ context.Context, rows []model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		blob, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("%w: marshal row: %w", ErrPermanent, err)
		}
		fmt.Fprintf(s.out, "%s %s\n", r.Pipeline(), blob)
	}
	return nil
}

// Close is a no-op.
func (s *StdoutSink) Close() error { return nil }
