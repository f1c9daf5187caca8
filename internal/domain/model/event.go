// Package model contains domain models passed between layers.
package model

import "time"

// Kind discriminates the event variants on the wire.
type Kind string

// Event kinds emitted by the challenge platform producers.
const (
	KindTestResult          Kind = "test_result"
	KindChallengeCompletion Kind = "challenge_completion"
	KindLiveMetric          Kind = "live_coding_metric"
)

// Meta carries the fields every event variant shares.
// EventTime is producer-stamped, not ingestion time.
type Meta struct {
	EventID     string    `json:"event_id"`
	CandidateID int       `json:"candidate_id"`
	EventTime   time.Time `json:"event_time"`
}

// Event is the tagged union over the three event variants. The router
// type-switches over the concrete types, so adding a variant is a
// compile-time-checked change.
type Event interface {
	Kind() Kind
	Metadata() Meta
}

// TestResult reports a single test-suite run against a challenge.
type TestResult struct {
	Meta
	ChallengeID     string  `json:"challenge_id"`
	TestsPassed     int     `json:"tests_passed"`
	TestsTotal      int     `json:"tests_total"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
	HasErrors       bool    `json:"has_errors"`
}

// ChallengeCompletion reports a candidate finishing a challenge.
type ChallengeCompletion struct {
	Meta
	ChallengeID      string  `json:"challenge_id"`
	FinalScore       float64 `json:"final_score"`
	TimeTakenSeconds int     `json:"time_taken_seconds"`
	Attempts         int     `json:"attempts"`
}

// LiveMetric reports a live editor measurement (keystroke cadence,
// paste count, idle time) observed during a coding session.
type LiveMetric struct {
	Meta
	SessionID   string  `json:"session_id"`
	MetricType  string  `json:"metric_type"`
	MetricValue float64 `json:"metric_value"`
}

func (e TestResult) Kind() Kind          { return KindTestResult }
func (e ChallengeCompletion) Kind() Kind { return KindChallengeCompletion }
func (e LiveMetric) Kind() Kind          { return KindLiveMetric }

func (e TestResult) Metadata() Meta          { return e.Meta }
func (e ChallengeCompletion) Metadata() Meta { return e.Meta }
func (e LiveMetric) Metadata() Meta          { return e.Meta }

// SuccessRate derives the percentage of passing tests for a run.
// Decode guarantees TestsTotal > 0 for events that reach a pipeline.
func (e TestResult) SuccessRate() float64 {
	if e.TestsTotal <= 0 {
		return 0
	}
	return float64(e.TestsPassed) / float64(e.TestsTotal) * 100
}
