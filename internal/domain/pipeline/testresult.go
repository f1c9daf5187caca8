package pipeline

import (
	"time"

	"github.com/devscout/streamengine/internal/domain/model"
)

// TestResults rolls test runs up into tumbling windows keyed by
// (candidate, challenge), tracking the running average success rate and
// execution time plus an error count.
type TestResults struct {
	window   time.Duration
	lateness time.Duration
}

// TestResultsOption applies a configuration option to TestResults.
type TestResultsOption func(*TestResults)

// WithTestResultWindow overrides the tumbling window size.
func WithTestResultWindow(d time.Duration) TestResultsOption {
	return func(p *TestResults) {
		if d > 0 {
			p.window = d
		}
	}
}

// WithTestResultLateness overrides the allowed lateness bound.
func WithTestResultLateness(d time.Duration) TestResultsOption {
	return func(p *TestResults) {
		if d >= 0 {
			p.lateness = d
		}
	}
}

// NewTestResults creates the test-result pipeline with configuration
// options.
func NewTestResults(opts ...TestResultsOption) *TestResults {
	p := &TestResults{
		window:   DefaultTestResultWindow,
		lateness: DefaultTestResultLateness,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TestResults) Name() string                   { return NameTestResult }
func (p *TestResults) WindowSize() time.Duration      { return p.window }
func (p *TestResults) AllowedLateness() time.Duration { return p.lateness }

// Classify buckets a test run into its tumbling window and produces the
// per-event delta. The delta carries sums only; averages are derived at
// finalize time so merging stays commutative.
func (p *TestResults) Classify(e model.TestResult) (model.WindowKey, model.Delta) {
	start, end := model.TumblingWindow(e.EventTime, p.window)
	key := model.WindowKey{
		Pipeline: NameTestResult,
		GroupKey: model.GroupKey{
			CandidateID: e.CandidateID,
			ChallengeID: e.ChallengeID,
		},
		WindowStart: start,
		WindowEnd:   end,
	}
	delta := model.Delta{
		Count:          1,
		SuccessRateSum: e.SuccessRate(),
		ExecTimeSum:    e.ExecutionTimeMS,
	}
	if e.HasErrors {
		delta.ErrorCount = 1
	}
	return key, delta
}

// Finalize derives the window averages. Callers guarantee Count > 0;
// zero-event windows are never emitted.
func (p *TestResults) Finalize(key model.WindowKey, acc model.Accumulator, forced bool) model.Row {
	n := float64(acc.Count)
	return model.TestResultRow{
		CandidateID:      key.GroupKey.CandidateID,
		ChallengeID:      key.GroupKey.ChallengeID,
		WindowStart:      key.Start(),
		WindowEnd:        key.End(),
		AvgSuccessRate:   acc.SuccessRateSum / n,
		AvgExecutionTime: acc.ExecTimeSum / n,
		AttemptCount:     acc.Count,
		ErrorCount:       acc.ErrorCount,
		Forced:           forced,
	}
}
