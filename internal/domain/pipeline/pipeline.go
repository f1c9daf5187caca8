// Package pipeline defines the three aggregation pipelines over the
// decoded event stream: test-result rollup, completion pass-through,
// and live-metric rollup.
//
// Windowed pipelines classify an event into a (WindowKey, Delta) pair;
// the window store does the folding and the scheduler decides closing.
// Pipelines never close windows themselves.
package pipeline

import (
	"time"

	"github.com/devscout/streamengine/internal/domain/model"
)

// Pipeline names. These appear in window keys, upsert keys, and metric
// labels, so they are stable identifiers rather than display strings.
const (
	NameTestResult = "test_result"
	NameCompletion = "completion"
	NameLiveMetric = "live_metric"
)

// Default window sizes and lateness bounds. Lateness matches window
// size so at most one window's worth of disorder is tolerated.
const (
	DefaultTestResultWindow   = 10 * time.Minute
	DefaultTestResultLateness = 10 * time.Minute
	DefaultLiveMetricWindow   = 5 * time.Minute
	DefaultLiveMetricLateness = 5 * time.Minute
)

// Windowed is the contract the scheduler and window store need from a
// windowed pipeline.
type Windowed interface {
	Name() string
	WindowSize() time.Duration
	AllowedLateness() time.Duration

	// Finalize converts a closed accumulator into the pipeline's sink
	// row shape, deriving averages from the raw sums. forced marks a
	// shutdown flush rather than a watermark-triggered close.
	Finalize(key model.WindowKey, acc model.Accumulator, forced bool) model.Row
}
