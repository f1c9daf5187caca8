package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devscout/streamengine/pkg/metrics"
)

// Dead-letter reasons recorded alongside entries.
const (
	ReasonUnknownType   = "unknown_type"
	ReasonInvalid       = "invalid"
	ReasonTooLate       = "too_late"
	ReasonSinkExhausted = "sink_exhausted"
)

// DeadLetterEntry captures an event or row that could not be processed
// normally, with the original payload attached for diagnosis.
type DeadLetterEntry struct {
	Reason    string          `json:"reason"`
	Detail    string          `json:"detail,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Partition int             `json:"partition"`
	Offset    int64           `json:"offset,omitempty"`
	At        time.Time       `json:"at"`
}

// DeadLetter is the side channel for malformed, too-late, and
// undeliverable data.
type DeadLetter interface {
	Write(ctx context.Context, e DeadLetterEntry) error
	Close() error
}

// MemoryDeadLetter is an in-memory DeadLetter for tests and local runs.
type MemoryDeadLetter struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
}

// NewMemoryDeadLetter creates an empty in-memory dead-letter store.
func NewMemoryDeadLetter() *MemoryDeadLetter {
	return &MemoryDeadLetter{}
}

// Write appends an entry.
func (d *MemoryDeadLetter) Write(_ context.Context, e DeadLetterEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, e)
	metrics.RecordDeadLetter(e.Reason)
	return nil
}

// Entries returns a copy of everything written so far.
func (d *MemoryDeadLetter) Entries() []DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeadLetterEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Close is a no-op.
func (d *MemoryDeadLetter) Close() error { return nil }

// FileDeadLetter appends entries to a JSONL file, one entry per line.
type FileDeadLetter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileDeadLetter opens (or creates) the dead-letter file at path.
func NewFileDeadLetter(path string) (*FileDeadLetter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dead-letter dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter file %s: %w", path, err)
	}
	return &FileDeadLetter{file: f, enc: json.NewEncoder(f)}, nil
}

// Write appends one JSON line.
func (d *FileDeadLetter) Write(_ context.Context, e DeadLetterEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enc.Encode(e); err != nil {
		return fmt.Errorf("append dead-letter entry: %w", err)
	}
	metrics.RecordDeadLetter(e.Reason)
	return nil
}

// Close closes the underlying file.
func (d *FileDeadLetter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
