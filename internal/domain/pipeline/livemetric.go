package pipeline

import (
	"time"

	"github.com/devscout/streamengine/internal/domain/model"
)

// LiveMetrics rolls live editor measurements up into tumbling windows
// keyed by (candidate, session, metric type).
type LiveMetrics struct {
	window   time.Duration
	lateness time.Duration
}

// LiveMetricsOption applies a configuration option to LiveMetrics.
type LiveMetricsOption func(*LiveMetrics)

// WithLiveMetricWindow overrides the tumbling window size.
func WithLiveMetricWindow(d time.Duration) LiveMetricsOption {
	return func(p *LiveMetrics) {
		if d > 0 {
			p.window = d
		}
	}
}

// WithLiveMetricLateness overrides the allowed lateness bound.
func WithLiveMetricLateness(d time.Duration) LiveMetricsOption {
	return func(p *LiveMetrics) {
		if d >= 0 {
			p.lateness = d
		}
	}
}

// NewLiveMetrics creates the live-metric pipeline with configuration
// options.
func NewLiveMetrics(opts ...LiveMetricsOption) *LiveMetrics {
	p := &LiveMetrics{
		window:   DefaultLiveMetricWindow,
		lateness: DefaultLiveMetricLateness,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *LiveMetrics) Name() string                   { return NameLiveMetric }
func (p *LiveMetrics) WindowSize() time.Duration      { return p.window }
func (p *LiveMetrics) AllowedLateness() time.Duration { return p.lateness }

// Classify buckets a live metric into its tumbling window and produces
// the per-event delta.
func (p *LiveMetrics) Classify(e model.LiveMetric) (model.WindowKey, model.Delta) {
	start, end := model.TumblingWindow(e.EventTime, p.window)
	key := model.WindowKey{
		Pipeline: NameLiveMetric,
		GroupKey: model.GroupKey{
			CandidateID: e.CandidateID,
			SessionID:   e.SessionID,
			MetricType:  e.MetricType,
		},
		WindowStart: start,
		WindowEnd:   end,
	}
	delta := model.Delta{
		Count:     1,
		MetricSum: e.MetricValue,
	}
	return key, delta
}

// Finalize derives the window average. Callers guarantee Count > 0.
func (p *LiveMetrics) Finalize(key model.WindowKey, acc model.Accumulator, forced bool) model.Row {
	return model.LiveMetricRow{
		CandidateID:    key.GroupKey.CandidateID,
		SessionID:      key.GroupKey.SessionID,
		MetricType:     key.GroupKey.MetricType,
		WindowStart:    key.Start(),
		WindowEnd:      key.End(),
		AvgMetricValue: acc.MetricSum / float64(acc.Count),
		MetricCount:    acc.Count,
		Forced:         forced,
	}
}
