// Package genevents produces synthetic coding-event payloads for load
// and soak testing, either to Kafka or to stdout.
package genevents

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Random generation constants.
const (
	randomFloatDivisor = 1000000
	eventKindDivisor   = 3
)

// Event shape constants.
const (
	maxTestsTotal     = 50
	maxExecTimeMS     = 5000.0
	maxFinalScore     = 100.0
	maxTimeTakenSec   = 3600
	maxAttempts       = 10
	maxMetricValue    = 100.0
	lateOffsetFloor   = 30 * time.Minute
	lateOffsetCeiling = 2 * time.Hour
)

// metricTypes are the live coding signal names the platform emits.
var metricTypes = []string{"keystroke_rate", "paste_burst", "idle_gap", "run_frequency"}

// getRandomFloat returns a random float64 in [0.0, 1.0) using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// getRandomInt returns a random int in [0, max).
func getRandomInt(max int) int {
	if max <= 0 {
		return 0
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(max)))
	return int(n.Int64())
}

// payload is the flat producer envelope, mirroring the platform schema.
type payload struct {
	EventID          string   `json:"event_id"`
	EventType        string   `json:"event_type"`
	CandidateID      int      `json:"candidate_id"`
	ChallengeID      string   `json:"challenge_id,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
	Timestamp        string   `json:"timestamp"`
	TestsPassed      *int     `json:"tests_passed,omitempty"`
	TestsTotal       *int     `json:"tests_total,omitempty"`
	ExecutionTimeMS  *float64 `json:"execution_time_ms,omitempty"`
	FinalScore       *float64 `json:"final_score,omitempty"`
	TimeTakenSeconds *int     `json:"time_taken_seconds,omitempty"`
	Attempts         *int     `json:"attempts,omitempty"`
	MetricType       string   `json:"metric_type,omitempty"`
	MetricValue      *float64 `json:"metric_value,omitempty"`
	HasErrors        bool     `json:"has_errors,omitempty"`
}

// generateEvent builds one random payload. A LateRatio fraction of
// events is stamped well behind now to exercise watermark handling.
func generateEvent(config *Config, stats *Stats) ([]byte, error) {
	now := time.Now().UTC()
	eventTime := now.Add(-time.Duration(getRandomFloat() * float64(config.Spread)))
	if getRandomFloat() < config.LateRatio {
		offset := lateOffsetFloor + time.Duration(getRandomFloat()*float64(lateOffsetCeiling-lateOffsetFloor))
		eventTime = now.Add(-offset)
		stats.LateEvents++
	}

	p := payload{
		EventID:     uuid.New().String(),
		CandidateID: getRandomInt(config.Candidates),
		Timestamp:   eventTime.Format(time.RFC3339Nano),
	}

	switch getRandomInt(eventKindDivisor) {
	case 0:
		p.EventType = "test_result"
		p.ChallengeID = fmt.Sprintf("challenge-%03d", getRandomInt(config.Challenges))
		total := 1 + getRandomInt(maxTestsTotal)
		passed := getRandomInt(total + 1)
		exec := getRandomFloat() * maxExecTimeMS
		p.TestsTotal = &total
		p.TestsPassed = &passed
		p.ExecutionTimeMS = &exec
	case 1:
		p.EventType = "challenge_completion"
		p.ChallengeID = fmt.Sprintf("challenge-%03d", getRandomInt(config.Challenges))
		score := getRandomFloat() * maxFinalScore
		taken := 1 + getRandomInt(maxTimeTakenSec)
		attempts := 1 + getRandomInt(maxAttempts)
		p.FinalScore = &score
		p.TimeTakenSeconds = &taken
		p.Attempts = &attempts
	default:
		p.EventType = "live_coding_metric"
		p.SessionID = fmt.Sprintf("session-%s", uuid.New().String()[:8])
		p.MetricType = metricTypes[getRandomInt(len(metricTypes))]
		value := getRandomFloat() * maxMetricValue
		p.MetricValue = &value
		p.HasErrors = getRandomFloat() < 0.1
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	stats.EventsGenerated++
	return raw, nil
}
