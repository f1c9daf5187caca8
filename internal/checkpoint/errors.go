package checkpoint

import "errors"

// Sentinel kinds for checkpoint errors.
var (
	// ErrWrite marks a failed checkpoint write; retried on the next tick.
	ErrWrite = errors.New("checkpoint write failed")
	// ErrRestore marks an unreadable or corrupt checkpoint file.
	ErrRestore = errors.New("checkpoint restore failed")
	// ErrExhausted marks too many consecutive write failures; the engine
	// halts ingestion rather than silently losing recovery capability.
	ErrExhausted = errors.New("checkpoint retries exhausted")
)
