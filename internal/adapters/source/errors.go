package source

import "errors"

// Sentinel kinds for source errors.
var (
	ErrClosed           = errors.New("source closed")
	ErrUnknownPartition = errors.New("unknown partition")
)
