// Package sink delivers finalized aggregate rows downstream.
//
// A Sink is any store with an upsert-by-key operation; rows carry
// stable upsert keys, so replays after a crash-restart never
// double-count. The Writer in front of a Sink batches rows up to a size
// or time threshold and retries transient failures with exponential
// backoff before spilling to the dead-letter store.
package sink

import (
	"context"

	"github.com/devscout/streamengine/internal/domain/model"
)

// Sink accepts batches of finalized rows. Implementations must upsert
// by each row's UpsertKey and classify failures as ErrTransient or
// ErrPermanent.
type Sink interface {
	// WriteBatch durably delivers a batch of rows.
	WriteBatch(ctx context.Context, rows []model.Row) error

	// Close releases downstream resources.
	Close() error
}
