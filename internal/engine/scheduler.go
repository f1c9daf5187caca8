package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/devscout/streamengine/internal/adapters/sink"
	"github.com/devscout/streamengine/internal/adapters/windowstore"
	"github.com/devscout/streamengine/internal/domain/model"
	"github.com/devscout/streamengine/internal/domain/pipeline"
	"github.com/devscout/streamengine/internal/domain/watermark"
	"github.com/devscout/streamengine/pkg/logger"
	"github.com/devscout/streamengine/pkg/metrics"
)

// Default scheduler configuration constants.
const (
	defaultTick = time.Second
)

// windowedPipe binds a windowed pipeline to its watermark tracker.
type windowedPipe struct {
	pipe    pipeline.Windowed
	tracker *watermark.Tracker
}

// Scheduler drives window-closing decisions for one partition from
// watermark advances. It is the only component that closes windows;
// pipelines never close their own.
type Scheduler struct {
	partition int
	store     windowstore.Store
	pipes     []windowedPipe
	writer    *sink.Writer
	tick      time.Duration

	done   chan struct{}
	logger logger.Logger
}

// SchedulerOption applies a configuration option to the Scheduler.
type SchedulerOption func(*Scheduler)

// WithTick sets the wall-time interval between close sweeps.
func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithSchedulerLogger sets a custom logger for the scheduler.
func WithSchedulerLogger(l logger.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates the window scheduler for one partition.
func NewScheduler(
	partition int,
	store windowstore.Store,
	trackers Trackers,
	pipes Pipelines,
	writer *sink.Writer,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		partition: partition,
		store:     store,
		pipes: []windowedPipe{
			{pipe: pipes.TestResults, tracker: trackers.TestResults},
			{pipe: pipes.LiveMetrics, tracker: trackers.LiveMetrics},
		},
		writer: writer,
		tick:   defaultTick,
		done:   make(chan struct{}),
		logger: logger.Get().Named(fmt.Sprintf("scheduler-%d", partition)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on every tick until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Done is closed when the scheduler loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Sweep closes every window whose end the watermark has passed and
// pushes the finalized rows to the sink writer.
func (s *Scheduler) Sweep(ctx context.Context) {
	for _, wp := range s.pipes {
		wm := wp.tracker.Current(ctx, s.partition)
		if wm.IsZero() {
			continue
		}
		metrics.UpdateWatermark(wp.pipe.Name(), s.partition, wm.UnixMilli())

		closed := s.store.CloseWindowsBelow(ctx, wp.pipe.Name(), wm)
		if len(closed) == 0 {
			continue
		}
		rows := s.finalize(wp.pipe, closed, false)
		if len(rows) == 0 {
			continue
		}
		if !s.writer.Push(ctx, rows...) {
			s.logger.Warn(ctx, "sink writer rejected closed windows",
				logger.Int("rows", len(rows)),
			)
			continue
		}
		metrics.RecordWindowsClosed(wp.pipe.Name(), len(rows))
		s.logger.Debug(ctx, "windows closed",
			logger.String("pipeline", wp.pipe.Name()),
			logger.Int("count", len(rows)),
		)
	}
}

// FinalFlush force-closes every outstanding window regardless of
// watermark. Best-effort shutdown path; rows carry the forced marker so
// downstream can tell them from normal closes.
func (s *Scheduler) FinalFlush(ctx context.Context) {
	closed := s.store.ForceCloseAll(ctx)
	if len(closed) == 0 {
		return
	}

	byName := make(map[string][]windowstore.Closed)
	for _, c := range closed {
		byName[c.Key.Pipeline] = append(byName[c.Key.Pipeline], c)
	}

	for _, wp := range s.pipes {
		group := byName[wp.pipe.Name()]
		if len(group) == 0 {
			continue
		}
		rows := s.finalize(wp.pipe, group, true)
		if len(rows) == 0 {
			continue
		}
		if !s.writer.Push(ctx, rows...) {
			s.logger.Warn(ctx, "sink writer rejected forced flush",
				logger.Int("rows", len(rows)),
			)
			continue
		}
		metrics.RecordWindowsForcedClosed(wp.pipe.Name(), len(rows))
		s.logger.Info(ctx, "forced window flush",
			logger.String("pipeline", wp.pipe.Name()),
			logger.Int("count", len(rows)),
		)
	}
}

// finalize converts closed accumulators into sink rows, skipping any
// that somehow closed empty.
func (s *Scheduler) finalize(pipe pipeline.Windowed, closed []windowstore.Closed, forced bool) []model.Row {
	rows := make([]model.Row, 0, len(closed))
	for _, c := range closed {
		if c.Acc.Count == 0 {
			metrics.RecordWindowDroppedEmpty(pipe.Name())
			continue
		}
		rows = append(rows, pipe.Finalize(c.Key, c.Acc, forced))
	}
	return rows
}
