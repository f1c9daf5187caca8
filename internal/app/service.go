// Package app wires the streaming engine together: source partitions,
// ingestion workers, window schedulers, checkpointing, and the sink
// writer. Engine state is explicit here, with documented init (restore
// the last checkpoint) and teardown (flush plus final checkpoint); no
// component keeps ambient global state.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devscout/streamengine/internal/adapters/sink"
	"github.com/devscout/streamengine/internal/adapters/source"
	"github.com/devscout/streamengine/internal/adapters/windowstore"
	"github.com/devscout/streamengine/internal/checkpoint"
	"github.com/devscout/streamengine/internal/domain/pipeline"
	"github.com/devscout/streamengine/internal/domain/watermark"
	"github.com/devscout/streamengine/internal/engine"
	"github.com/devscout/streamengine/pkg/logger"
)

// Default engine configuration constants.
const (
	defaultSchedulerTick = time.Second
	defaultDrainTimeout  = 10 * time.Second
)

// Engine owns the full streaming topology for one source.
type Engine struct {
	mu sync.Mutex

	// Collaborators
	src    source.Source
	snk    sink.Sink
	dlq    sink.DeadLetter
	writer *sink.Writer
	ckpt   *checkpoint.Manager

	// Topology, one entry per partition
	stores     map[int]windowstore.Store
	workers    map[int]*engine.Worker
	schedulers map[int]*engine.Scheduler
	offsets    *engine.Offsets
	pipes      engine.Pipelines
	trackers   engine.Trackers

	// Configuration
	tick          time.Duration
	drainTimeout  time.Duration
	writerOptions []sink.WriterOption
	workerOptions []engine.WorkerOption
	pipeOptions   pipeOptions

	// State
	started      bool
	cancelIngest context.CancelFunc
	haltErr      error

	logger logger.Logger
}

type pipeOptions struct {
	testResults []pipeline.TestResultsOption
	liveMetrics []pipeline.LiveMetricsOption
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithSchedulerTick sets the window scheduler sweep interval.
func WithSchedulerTick(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithDrainTimeout bounds how long shutdown waits for the sink writer.
func WithDrainTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.drainTimeout = d
		}
	}
}

// WithWriterOptions forwards options to the sink writer.
func WithWriterOptions(opts ...sink.WriterOption) Option {
	return func(e *Engine) {
		e.writerOptions = append(e.writerOptions, opts...)
	}
}

// WithWorkerOptions forwards options to every partition worker.
func WithWorkerOptions(opts ...engine.WorkerOption) Option {
	return func(e *Engine) {
		e.workerOptions = append(e.workerOptions, opts...)
	}
}

// WithTestResultOptions forwards options to the test-result pipeline.
func WithTestResultOptions(opts ...pipeline.TestResultsOption) Option {
	return func(e *Engine) {
		e.pipeOptions.testResults = append(e.pipeOptions.testResults, opts...)
	}
}

// WithLiveMetricOptions forwards options to the live-metric pipeline.
func WithLiveMetricOptions(opts ...pipeline.LiveMetricsOption) Option {
	return func(e *Engine) {
		e.pipeOptions.liveMetrics = append(e.pipeOptions.liveMetrics, opts...)
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an engine over the given source, sink, dead-letter
// store, and checkpoint manager.
func New(src source.Source, snk sink.Sink, dlq sink.DeadLetter, ckpt *checkpoint.Manager, opts ...Option) *Engine {
	e := &Engine{
		src:          src,
		snk:          snk,
		dlq:          dlq,
		ckpt:         ckpt,
		stores:       make(map[int]windowstore.Store),
		workers:      make(map[int]*engine.Worker),
		schedulers:   make(map[int]*engine.Scheduler),
		offsets:      engine.NewOffsets(),
		tick:         defaultSchedulerTick,
		drainTimeout: defaultDrainTimeout,
		logger:       nil, // set at Start if still unset
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start restores the last checkpoint and launches all partition loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}

	e.logger.Info(ctx, "starting streaming engine...")

	e.pipes = engine.Pipelines{
		TestResults: pipeline.NewTestResults(e.pipeOptions.testResults...),
		Completions: pipeline.NewCompletions(),
		LiveMetrics: pipeline.NewLiveMetrics(e.pipeOptions.liveMetrics...),
	}
	e.trackers = engine.Trackers{
		TestResults: watermark.NewTracker(
			watermark.WithAllowedLateness(e.pipes.TestResults.AllowedLateness()),
		),
		LiveMetrics: watermark.NewTracker(
			watermark.WithAllowedLateness(e.pipes.LiveMetrics.AllowedLateness()),
		),
	}

	cp, err := e.ckpt.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}

	partitions := e.src.Partitions()
	for _, p := range partitions {
		e.stores[p] = windowstore.NewMemStore(windowstore.WithPartition(p))
	}
	if cp != nil {
		if err := e.applyCheckpoint(ctx, cp); err != nil {
			return err
		}
	}

	e.writer = sink.NewWriter(e.snk, e.dlq, e.writerOptions...)

	ingestCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancelIngest = cancel

	// The writer outlives ingest cancellation; Stop ends it via Drain
	// after the final flush, so forced rows are never dropped.
	e.writer.Start(context.WithoutCancel(ingestCtx))
	for _, p := range partitions {
		w := engine.NewWorker(p, e.src, e.stores[p], e.trackers, e.pipes, e.writer, e.dlq, e.offsets, e.ckpt, e.workerOptions...)
		s := engine.NewScheduler(p, e.stores[p], e.trackers, e.pipes, e.writer, engine.WithTick(e.tick))
		e.workers[p] = w
		e.schedulers[p] = s
		go w.Run(ingestCtx)
		go s.Run(ingestCtx)
	}

	go e.ckpt.Run(ingestCtx, e.Snapshot)

	e.started = true
	e.logger.Info(ctx, "streaming engine started",
		logger.Int("partitions", len(partitions)),
		logger.Any("tick", e.tick.String()),
	)
	return nil
}

// applyCheckpoint seeds offsets, watermarks, and window state, then
// seeks the source. Callers hold the lock.
func (e *Engine) applyCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error {
	e.offsets.Restore(cp.Offsets)
	for p, off := range cp.Offsets {
		if err := e.src.Seek(p, off); err != nil {
			return fmt.Errorf("seek partition %d: %w", p, err)
		}
	}
	e.trackers.TestResults.Restore(ctx, cp.Watermarks[pipeline.NameTestResult])
	e.trackers.LiveMetrics.Restore(ctx, cp.Watermarks[pipeline.NameLiveMetric])
	for p, blob := range cp.Windows {
		store, ok := e.stores[p]
		if !ok {
			store = windowstore.NewMemStore(windowstore.WithPartition(p))
			e.stores[p] = store
		}
		if err := store.Restore(ctx, blob); err != nil {
			return fmt.Errorf("restore windows for partition %d: %w", p, err)
		}
	}
	return nil
}

// Snapshot gathers the current engine state for a checkpoint. Each
// partition's window blob and offset are captured together through its
// worker, so the pair stays coherent under live ingestion.
func (e *Engine) Snapshot(ctx context.Context) (*checkpoint.Checkpoint, error) {
	cp := checkpoint.New()
	cp.Watermarks[pipeline.NameTestResult] = e.trackers.TestResults.Snapshot(ctx)
	cp.Watermarks[pipeline.NameLiveMetric] = e.trackers.LiveMetrics.Snapshot(ctx)

	e.mu.Lock()
	workers := make(map[int]*engine.Worker, len(e.workers))
	for p, w := range e.workers {
		workers[p] = w
	}
	orphans := make(map[int]windowstore.Store)
	for p, s := range e.stores {
		if _, ok := e.workers[p]; !ok {
			orphans[p] = s
		}
	}
	e.mu.Unlock()

	for p, w := range workers {
		if err := w.SnapshotInto(ctx, cp); err != nil {
			return nil, fmt.Errorf("snapshot partition %d: %w", p, err)
		}
	}
	// Stores restored from an older checkpoint for partitions the
	// source no longer serves carry over untouched.
	for p, s := range orphans {
		blob, err := s.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot windows for partition %d: %w", p, err)
		}
		cp.Windows[p] = json.RawMessage(blob)
	}
	for p, off := range e.offsets.Snapshot() {
		if _, ok := cp.Offsets[p]; !ok {
			cp.Offsets[p] = off
		}
	}
	return cp, nil
}

// Halt stops ingestion without the graceful flush; used when the
// checkpoint manager exhausts its failure budget. Other partitions of a
// healthy engine are unaffected by per-event errors, but losing
// recovery capability must not silently continue.
func (e *Engine) Halt(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.haltErr != nil {
		return
	}
	e.haltErr = cause
	e.logger.Error(context.Background(), "halting ingestion", logger.Error(cause))
	if e.cancelIngest != nil {
		e.cancelIngest()
	}
}

// HaltErr reports the halt cause, if the engine was halted.
func (e *Engine) HaltErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haltErr
}

// Stop shuts the engine down: stop ingestion, force-flush outstanding
// windows, drain the sink writer, then write one final checkpoint.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancelIngest
	e.mu.Unlock()

	e.logger.Info(ctx, "stopping streaming engine...")

	// Stop polling; workers and schedulers exit their loops.
	e.src.Close()
	cancel()
	for _, w := range e.workers {
		<-w.Done()
	}
	for _, s := range e.schedulers {
		<-s.Done()
	}
	// The checkpoint loop must be out before the final snapshot below,
	// or the two would write and rotate files concurrently.
	<-e.ckpt.Done()

	// Best-effort flush of everything still open, then drain the writer.
	flushCtx := context.WithoutCancel(ctx)
	for _, s := range e.schedulers {
		s.FinalFlush(flushCtx)
	}
	drainCtx, cancelDrain := context.WithTimeout(flushCtx, e.drainTimeout)
	defer cancelDrain()
	if err := e.writer.Drain(drainCtx); err != nil {
		e.logger.Error(ctx, "sink writer drain incomplete", logger.Error(err))
	}

	// One last checkpoint so restart resumes past everything flushed.
	if err := e.ckpt.Snapshot(flushCtx, e.Snapshot); err != nil {
		e.logger.Error(ctx, "final checkpoint failed", logger.Error(err))
	}

	e.snk.Close()
	e.dlq.Close()
	e.logger.Info(ctx, "streaming engine stopped")
}

// Stats is a point-in-time view of engine state for the /stats surface.
type Stats struct {
	Started      bool           `json:"started"`
	Halted       bool           `json:"halted"`
	Partitions   int            `json:"partitions"`
	OpenWindows  int            `json:"open_windows"`
	Offsets      map[int]int64  `json:"offsets"`
	State        string         `json:"checkpoint_state"`
	WatermarksMS map[string]any `json:"watermarks_ms"`
}

// Snapshot of counters for the HTTP stats surface.
func (e *Engine) Stats(ctx context.Context) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	open := 0
	for _, s := range e.stores {
		open += s.OpenCount(ctx)
	}
	wms := make(map[string]any, 2)
	if e.trackers.TestResults != nil {
		wms[pipeline.NameTestResult] = watermarkMillis(ctx, e.trackers.TestResults)
		wms[pipeline.NameLiveMetric] = watermarkMillis(ctx, e.trackers.LiveMetrics)
	}
	return Stats{
		Started:      e.started,
		Halted:       e.haltErr != nil,
		Partitions:   len(e.stores),
		OpenWindows:  open,
		Offsets:      e.offsets.Snapshot(),
		State:        e.ckpt.State().String(),
		WatermarksMS: wms,
	}
}

func watermarkMillis(ctx context.Context, t *watermark.Tracker) map[int]int64 {
	out := make(map[int]int64)
	for p, ts := range t.Snapshot(ctx) {
		out[p] = ts.UnixMilli()
	}
	return out
}
