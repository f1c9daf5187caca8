package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/devscout/streamengine/internal/adapters/sink"
	"github.com/devscout/streamengine/internal/adapters/source"
	"github.com/devscout/streamengine/internal/adapters/windowstore"
	"github.com/devscout/streamengine/internal/checkpoint"
	"github.com/devscout/streamengine/internal/domain/decode"
	"github.com/devscout/streamengine/internal/domain/model"
	"github.com/devscout/streamengine/internal/domain/pipeline"
	"github.com/devscout/streamengine/internal/domain/watermark"
	"github.com/devscout/streamengine/pkg/logger"
	"github.com/devscout/streamengine/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultMaxPollRetries     = 5
	defaultPollInitialBackoff = 100 * time.Millisecond
	defaultPollMaxBackoff     = 5 * time.Second
)

// Pipelines bundles the three aggregation pipelines the router
// dispatches into.
type Pipelines struct {
	TestResults *pipeline.TestResults
	Completions *pipeline.Completions
	LiveMetrics *pipeline.LiveMetrics
}

// Trackers holds one watermark tracker per windowed pipeline.
type Trackers struct {
	TestResults *watermark.Tracker
	LiveMetrics *watermark.Tracker
}

// Worker runs one partition's sequential ingestion loop:
// poll, decode, classify, accumulate. No other goroutine touches this
// partition's offsets; the scheduler shares only the window store and
// watermark trackers, both of which guard their own state.
type Worker struct {
	partition int
	src       source.Source
	store     windowstore.Store
	trackers  Trackers
	pipes     Pipelines
	writer    *sink.Writer
	dlq       sink.DeadLetter
	offsets   *Offsets
	ckpt      *checkpoint.Manager

	maxPollRetries     int
	pollInitialBackoff time.Duration
	pollMaxBackoff     time.Duration

	// mu keeps each message's store mutation and offset advance atomic
	// with respect to SnapshotState, so a checkpoint never pairs an
	// offset with window state from a different point in the stream.
	mu     sync.Mutex
	done   chan struct{}
	logger logger.Logger
}

// WorkerOption applies a configuration option to the Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets a custom logger for the worker.
func WithWorkerLogger(l logger.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxPollRetries bounds consecutive poll failures before the
// partition is abandoned.
func WithMaxPollRetries(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxPollRetries = n
		}
	}
}

// WithPollBackoff sets the initial and maximum delays between poll
// retries.
func WithPollBackoff(initial, max time.Duration) WorkerOption {
	return func(w *Worker) {
		if initial > 0 && max >= initial {
			w.pollInitialBackoff = initial
			w.pollMaxBackoff = max
		}
	}
}

// NewWorker creates the ingestion worker for one partition.
func NewWorker(
	partition int,
	src source.Source,
	store windowstore.Store,
	trackers Trackers,
	pipes Pipelines,
	writer *sink.Writer,
	dlq sink.DeadLetter,
	offsets *Offsets,
	ckpt *checkpoint.Manager,
	opts ...WorkerOption,
) *Worker {
	w := &Worker{
		partition:          partition,
		src:                src,
		store:              store,
		trackers:           trackers,
		pipes:              pipes,
		writer:             writer,
		dlq:                dlq,
		offsets:            offsets,
		ckpt:               ckpt,
		maxPollRetries:     defaultMaxPollRetries,
		pollInitialBackoff: defaultPollInitialBackoff,
		pollMaxBackoff:     defaultPollMaxBackoff,
		done:               make(chan struct{}),
		logger:             logger.Get().Named(fmt.Sprintf("worker-%d", partition)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls the partition until ctx is canceled or the source closes.
// Per-event errors never abort the loop; persistent poll failures do,
// once they exhaust the retry budget, halting only this partition.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	retry := w.pollRetryBackoff()
	failures := 0
	for {
		msg, err := w.src.Poll(ctx, w.partition)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, source.ErrClosed) {
				return
			}
			metrics.RecordSourceError()
			failures++
			if failures > w.maxPollRetries {
				metrics.RecordPartitionHalt(w.partition)
				w.logger.Error(ctx, "poll retries exhausted, halting partition",
					logger.Int("partition", w.partition),
					logger.Int("failures", failures),
					logger.Error(err),
				)
				return
			}
			wait := retry.NextBackOff()
			w.logger.Error(ctx, "source poll failed, retrying",
				logger.Int("consecutive_failures", failures),
				logger.Any("retry_in", wait.String()),
				logger.Error(err),
			)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		failures = 0
		retry.Reset()

		w.mu.Lock()
		w.process(ctx, msg)
		w.offsets.Set(w.partition, msg.Offset+1)
		w.mu.Unlock()
		metrics.UpdateSourceOffset(w.partition, msg.Offset)
		w.ckpt.NoteEvents(1)
	}
}

// Done is closed when the worker loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// SnapshotInto captures this partition's window blob and next offset
// into cp as one coherent pair: no message can land between the two
// reads, so a restore never replays an event that the snapshotted
// accumulators already counted.
func (w *Worker) SnapshotInto(ctx context.Context, cp *checkpoint.Checkpoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	blob, err := w.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	cp.Windows[w.partition] = json.RawMessage(blob)
	if off, ok := w.offsets.Get(w.partition); ok {
		cp.Offsets[w.partition] = off
	}
	return nil
}

func (w *Worker) pollRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.pollInitialBackoff
	b.MaxInterval = w.pollMaxBackoff
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall time
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// process decodes and routes one message.
func (w *Worker) process(ctx context.Context, msg source.Message) {
	ev, err := decode.Decode(msg.Value)
	if err != nil {
		w.deadLetterDecode(ctx, msg, err)
		return
	}

	switch e := ev.(type) {
	case model.TestResult:
		key, delta := w.pipes.TestResults.Classify(e)
		w.accumulate(ctx, w.trackers.TestResults, key, delta, e.EventTime, msg)
	case model.ChallengeCompletion:
		row := w.pipes.Completions.Emit(e)
		if w.writer.Push(ctx, row) {
			metrics.RecordEventProcessed(pipeline.NameCompletion)
		}
	case model.LiveMetric:
		key, delta := w.pipes.LiveMetrics.Classify(e)
		w.accumulate(ctx, w.trackers.LiveMetrics, key, delta, e.EventTime, msg)
	default:
		// Unreachable while the decoder and this switch cover the same
		// variants; kept so a new variant fails loudly instead of
		// vanishing.
		w.deadLetterDecode(ctx, msg, fmt.Errorf("unroutable event kind %q: %w", ev.Kind(), decode.ErrUnknownType))
	}
}

// accumulate admits an event against the pipeline watermark, then folds
// it into its window.
func (w *Worker) accumulate(
	ctx context.Context,
	tracker *watermark.Tracker,
	key model.WindowKey,
	delta model.Delta,
	eventTime time.Time,
	msg source.Message,
) {
	wm := tracker.Current(ctx, w.partition)
	if !wm.IsZero() && eventTime.Before(wm) {
		w.deadLetterLate(ctx, key, msg)
		return
	}

	tracker.Observe(ctx, w.partition, eventTime)
	w.store.Accumulate(ctx, key, delta)
	metrics.RecordEventProcessed(key.Pipeline)
}

func (w *Worker) deadLetterDecode(ctx context.Context, msg source.Message, cause error) {
	reason := sink.ReasonInvalid
	if errors.Is(cause, decode.ErrUnknownType) {
		reason = sink.ReasonUnknownType
	}
	metrics.RecordDecodeError(reason)
	w.logger.Warn(ctx, "event dead-lettered",
		logger.String("reason", reason),
		logger.Int("partition", w.partition),
		logger.Error(cause),
	)

	entry := sink.DeadLetterEntry{
		Reason:    reason,
		Detail:    cause.Error(),
		Payload:   json.RawMessage(msg.Value),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		At:        time.Now().UTC(),
	}
	if err := w.dlq.Write(ctx, entry); err != nil {
		w.logger.Error(ctx, "dead-letter write failed", logger.Error(err))
	}
}

// deadLetterLate routes a too-late event, with its window key attached,
// to the dead-letter sink so operators can audit lateness loss.
func (w *Worker) deadLetterLate(ctx context.Context, key model.WindowKey, msg source.Message) {
	metrics.RecordLateEventDropped(key.Pipeline)

	detail, _ := json.Marshal(key)
	entry := sink.DeadLetterEntry{
		Reason:    sink.ReasonTooLate,
		Detail:    string(detail),
		Payload:   json.RawMessage(msg.Value),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		At:        time.Now().UTC(),
	}
	if err := w.dlq.Write(ctx, entry); err != nil {
		w.logger.Error(ctx, "dead-letter write failed", logger.Error(err))
	}
}
