package model

import (
	"fmt"
	"time"
)

// Row is a finalized aggregate record headed for a sink. UpsertKey must
// be stable across replays so at-least-once delivery never double-counts
// downstream.
type Row interface {
	Pipeline() string
	UpsertKey() string
}

// TestResultRow is the finalized 10-minute rollup of test runs for one
// candidate/challenge pair.
type TestResultRow struct {
	CandidateID      int       `json:"candidate_id"`
	ChallengeID      string    `json:"challenge_id"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	AvgSuccessRate   float64   `json:"avg_success_rate"`
	AvgExecutionTime float64   `json:"avg_execution_time"`
	AttemptCount     int64     `json:"attempt_count"`
	ErrorCount       int64     `json:"error_count"`
	Forced           bool      `json:"forced,omitempty"`
}

func (r TestResultRow) Pipeline() string { return "test_result" }

func (r TestResultRow) UpsertKey() string {
	return fmt.Sprintf("test_result/%d/%s/%d", r.CandidateID, r.ChallengeID, r.WindowEnd.UnixMilli())
}

// CompletionRow is the pass-through record for one challenge completion.
// Keyed by event id so producer retries collapse to one sink row.
type CompletionRow struct {
	EventID          string    `json:"event_id"`
	CandidateID      int       `json:"candidate_id"`
	ChallengeID      string    `json:"challenge_id"`
	FinalScore       float64   `json:"final_score"`
	TimeTakenSeconds int       `json:"time_taken_seconds"`
	Attempts         int       `json:"attempts"`
	EventTime        time.Time `json:"event_time"`
}

func (r CompletionRow) Pipeline() string { return "completion" }

func (r CompletionRow) UpsertKey() string { return "completion/" + r.EventID }

// LiveMetricRow is the finalized 5-minute rollup of one live editor
// metric for a candidate session.
type LiveMetricRow struct {
	CandidateID    int       `json:"candidate_id"`
	SessionID      string    `json:"session_id"`
	MetricType     string    `json:"metric_type"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	AvgMetricValue float64   `json:"avg_metric_value"`
	MetricCount    int64     `json:"metric_count"`
	Forced         bool      `json:"forced,omitempty"`
}

func (r LiveMetricRow) Pipeline() string { return "live_metric" }

func (r LiveMetricRow) UpsertKey() string {
	return fmt.Sprintf("live_metric/%d/%s/%s/%d", r.CandidateID, r.SessionID, r.MetricType, r.WindowEnd.UnixMilli())
}
