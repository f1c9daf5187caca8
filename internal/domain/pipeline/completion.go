package pipeline

import (
	"github.com/devscout/streamengine/internal/domain/model"
)

// Completions is the degenerate pipeline: one finalized row per event,
// no buffering and no windowing. A completion is keyed by (candidate,
// challenge) and a single occurrence rarely needs aggregation, so the
// row is emitted as the event arrives. Idempotency across producer
// retries comes from the row's event-id upsert key.
type Completions struct{}

// NewCompletions creates the completion pass-through pipeline.
func NewCompletions() *Completions { return &Completions{} }

func (p *Completions) Name() string { return NameCompletion }

// Emit converts a completion event straight into its sink row.
func (p *Completions) Emit(e model.ChallengeCompletion) model.CompletionRow {
	return model.CompletionRow{
		EventID:          e.EventID,
		CandidateID:      e.CandidateID,
		ChallengeID:      e.ChallengeID,
		FinalScore:       e.FinalScore,
		TimeTakenSeconds: e.TimeTakenSeconds,
		Attempts:         e.Attempts,
		EventTime:        e.EventTime,
	}
}
