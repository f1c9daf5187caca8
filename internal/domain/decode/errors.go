package decode

import "errors"

// Sentinel kinds for decode errors. Both classes are dead-lettered by the
// engine, never silently dropped.
var (
	// ErrUnknownType marks an event_type the router has no pipeline for.
	ErrUnknownType = errors.New("unknown event type")
	// ErrInvalid marks malformed JSON, missing required fields, bad
	// timestamps, or values outside their declared ranges.
	ErrInvalid = errors.New("invalid event")
)
