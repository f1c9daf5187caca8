package model

import "time"

// WindowKey identifies the accumulator cell an event folds into.
// Window bounds are Unix milliseconds so the key stays a comparable
// map key; GroupKey is pipeline-specific (candidate/challenge for
// test results and completions, candidate/session/metric for live
// metrics).
type WindowKey struct {
	Pipeline    string   `json:"pipeline"`
	GroupKey    GroupKey `json:"group_key"`
	WindowStart int64    `json:"window_start"`
	WindowEnd   int64    `json:"window_end"`
}

// GroupKey is the pipeline-specific grouping tuple. Unused fields stay
// at their zero value.
type GroupKey struct {
	CandidateID int    `json:"candidate_id"`
	ChallengeID string `json:"challenge_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	MetricType  string `json:"metric_type,omitempty"`
}

// Start returns the window lower bound as a time.
func (k WindowKey) Start() time.Time { return time.UnixMilli(k.WindowStart).UTC() }

// End returns the window upper (exclusive) bound as a time.
func (k WindowKey) End() time.Time { return time.UnixMilli(k.WindowEnd).UTC() }

// TumblingWindow buckets t into the fixed-size window containing it and
// returns the [start, end) bounds in Unix milliseconds.
func TumblingWindow(t time.Time, size time.Duration) (start, end int64) {
	sz := size.Milliseconds()
	ms := t.UnixMilli()
	start = ms - mod(ms, sz)
	return start, start + sz
}

// mod is a floored modulo so pre-epoch timestamps still bucket correctly.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Accumulator is the mutable running state for one WindowKey. Merging is
// addition on every field, which keeps it associative and commutative:
// arrival order within a window never affects the finalized aggregate.
type Accumulator struct {
	Count          int64   `json:"count"`
	SuccessRateSum float64 `json:"success_rate_sum,omitempty"`
	ExecTimeSum    float64 `json:"exec_time_sum,omitempty"`
	MetricSum      float64 `json:"metric_sum,omitempty"`
	ErrorCount     int64   `json:"error_count,omitempty"`
}

// Delta is the per-event contribution folded into an accumulator.
type Delta = Accumulator

// Merge folds d into a.
func (a *Accumulator) Merge(d Delta) {
	a.Count += d.Count
	a.SuccessRateSum += d.SuccessRateSum
	a.ExecTimeSum += d.ExecTimeSum
	a.MetricSum += d.MetricSum
	a.ErrorCount += d.ErrorCount
}
