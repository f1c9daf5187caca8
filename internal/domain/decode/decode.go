// Package decode turns raw source payloads into typed events.
//
// The wire format is the JSON envelope produced by the challenge
// platform: a flat object carrying the union of all variant fields, with
// event_type as the discriminator. Decode validates required fields and
// numeric ranges per variant; anything that fails comes back wrapped in
// ErrUnknownType or ErrInvalid so the caller can dead-letter it with the
// original payload attached.
package decode

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/devscout/streamengine/internal/domain/model"
)

// Accepted timestamp layouts, most common first. The platform's Python
// producers emit RFC3339; older simulator builds emitted the space form.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// envelope mirrors the producer JSON schema. Pointer fields distinguish
// absent from zero for per-variant required checks.
type envelope struct {
	EventID     string   `json:"event_id"`
	EventType   string   `json:"event_type"`
	CandidateID *int     `json:"candidate_id"`
	ChallengeID string   `json:"challenge_id"`
	SessionID   string   `json:"session_id"`
	Timestamp   string   `json:"timestamp"`
	TestsPassed *int     `json:"tests_passed"`
	TestsTotal  *int     `json:"tests_total"`
	// SuccessRate is producer-precomputed; the engine recomputes it from
	// tests_passed/tests_total and ignores this value.
	SuccessRate      *float64 `json:"success_rate"`
	ExecutionTimeMS  *float64 `json:"execution_time_ms"`
	FinalScore       *float64 `json:"final_score"`
	TimeTakenSeconds *int     `json:"time_taken_seconds"`
	Attempts         *int     `json:"attempts"`
	MetricType       string   `json:"metric_type"`
	MetricValue      *float64 `json:"metric_value"`
	HasErrors        bool     `json:"has_errors"`
}

// Decode parses and validates one raw payload.
func Decode(raw []byte) (model.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w: %w", ErrInvalid, err)
	}

	meta, err := env.meta()
	if err != nil {
		return nil, err
	}

	switch model.Kind(env.EventType) {
	case model.KindTestResult:
		return env.testResult(meta)
	case model.KindChallengeCompletion:
		return env.completion(meta)
	case model.KindLiveMetric:
		return env.liveMetric(meta)
	case "":
		return nil, fmt.Errorf("event_type missing: %w", ErrInvalid)
	default:
		return nil, fmt.Errorf("event_type %q: %w", env.EventType, ErrUnknownType)
	}
}

func (env *envelope) meta() (model.Meta, error) {
	if strings.TrimSpace(env.EventID) == "" {
		return model.Meta{}, fmt.Errorf("event_id missing: %w", ErrInvalid)
	}
	if env.CandidateID == nil {
		return model.Meta{}, fmt.Errorf("candidate_id missing: %w", ErrInvalid)
	}
	if *env.CandidateID < 0 {
		return model.Meta{}, fmt.Errorf("candidate_id %d negative: %w", *env.CandidateID, ErrInvalid)
	}
	ts, err := parseTime(env.Timestamp)
	if err != nil {
		return model.Meta{}, err
	}
	return model.Meta{
		EventID:     env.EventID,
		CandidateID: *env.CandidateID,
		EventTime:   ts,
	}, nil
}

func (env *envelope) testResult(meta model.Meta) (model.Event, error) {
	if env.ChallengeID == "" {
		return nil, fmt.Errorf("challenge_id missing: %w", ErrInvalid)
	}
	if env.TestsPassed == nil || env.TestsTotal == nil {
		return nil, fmt.Errorf("tests_passed/tests_total missing: %w", ErrInvalid)
	}
	if *env.TestsTotal <= 0 {
		return nil, fmt.Errorf("tests_total %d not positive: %w", *env.TestsTotal, ErrInvalid)
	}
	if *env.TestsPassed < 0 || *env.TestsPassed > *env.TestsTotal {
		return nil, fmt.Errorf("tests_passed %d out of range [0,%d]: %w", *env.TestsPassed, *env.TestsTotal, ErrInvalid)
	}
	var execMS float64
	if env.ExecutionTimeMS != nil {
		execMS = *env.ExecutionTimeMS
	}
	if execMS < 0 {
		return nil, fmt.Errorf("execution_time_ms %v negative: %w", execMS, ErrInvalid)
	}
	return model.TestResult{
		Meta:            meta,
		ChallengeID:     env.ChallengeID,
		TestsPassed:     *env.TestsPassed,
		TestsTotal:      *env.TestsTotal,
		ExecutionTimeMS: execMS,
		HasErrors:       env.HasErrors,
	}, nil
}

func (env *envelope) completion(meta model.Meta) (model.Event, error) {
	if env.ChallengeID == "" {
		return nil, fmt.Errorf("challenge_id missing: %w", ErrInvalid)
	}
	if env.FinalScore == nil {
		return nil, fmt.Errorf("final_score missing: %w", ErrInvalid)
	}
	var taken int
	if env.TimeTakenSeconds != nil {
		taken = *env.TimeTakenSeconds
	}
	if taken < 0 {
		return nil, fmt.Errorf("time_taken_seconds %d negative: %w", taken, ErrInvalid)
	}
	attempts := 1
	if env.Attempts != nil {
		attempts = *env.Attempts
	}
	if attempts < 1 {
		return nil, fmt.Errorf("attempts %d not positive: %w", attempts, ErrInvalid)
	}
	return model.ChallengeCompletion{
		Meta:             meta,
		ChallengeID:      env.ChallengeID,
		FinalScore:       *env.FinalScore,
		TimeTakenSeconds: taken,
		Attempts:         attempts,
	}, nil
}

func (env *envelope) liveMetric(meta model.Meta) (model.Event, error) {
	if env.SessionID == "" {
		return nil, fmt.Errorf("session_id missing: %w", ErrInvalid)
	}
	if env.MetricType == "" {
		return nil, fmt.Errorf("metric_type missing: %w", ErrInvalid)
	}
	if env.MetricValue == nil {
		return nil, fmt.Errorf("metric_value missing: %w", ErrInvalid)
	}
	return model.LiveMetric{
		Meta:        meta,
		SessionID:   env.SessionID,
		MetricType:  env.MetricType,
		MetricValue: *env.MetricValue,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, fmt.Errorf("timestamp missing: %w", ErrInvalid)
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q unparseable: %w", s, ErrInvalid)
}
