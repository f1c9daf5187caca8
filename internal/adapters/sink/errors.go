package sink

import "errors"

// Sentinel kinds for sink errors.
var (
	// ErrTransient marks a write failure worth retrying (connection
	// reset, timeout, downstream briefly unavailable).
	ErrTransient = errors.New("transient sink error")
	// ErrPermanent marks a write failure retrying cannot fix; the batch
	// is spilled to the dead-letter store.
	ErrPermanent = errors.New("permanent sink error")
	// ErrClosed marks a write against a closed writer.
	ErrClosed = errors.New("sink writer closed")
)
