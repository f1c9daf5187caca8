package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/devscout/streamengine/internal/domain/model"
	"github.com/devscout/streamengine/pkg/logger"
	"github.com/devscout/streamengine/pkg/metrics"
)

// Default writer configuration constants.
const (
	defaultBatchSize      = 100
	defaultFlushInterval  = 2 * time.Second
	defaultMaxRetries     = 5
	defaultBufferSize     = 10000
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Writer batches finalized rows and delivers them to a Sink with
// bounded exponential-backoff retry. On retry exhaustion the batch is
// spilled to the dead-letter store and an alert is logged; the pipeline
// is never blocked indefinitely on downstream unavailability.
type Writer struct {
	sink Sink
	dlq  DeadLetter

	batchSize      int
	flushInterval  time.Duration
	maxRetries     uint64
	bufferSize     int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	in     chan model.Row
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	logger logger.Logger
}

// WriterOption applies a configuration option to the Writer.
type WriterOption func(*Writer)

// WithBatchSize sets the row count that triggers a flush.
func WithBatchSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithFlushInterval sets the time threshold that triggers a flush of a
// partial batch.
func WithFlushInterval(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.flushInterval = d
		}
	}
}

// WithMaxRetries bounds retry attempts per batch.
func WithMaxRetries(n uint64) WriterOption {
	return func(w *Writer) {
		w.maxRetries = n
	}
}

// WithBufferSize sets the internal row buffer capacity.
func WithBufferSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.bufferSize = n
		}
	}
}

// WithBackoffBounds sets the initial and maximum retry intervals.
func WithBackoffBounds(initial, max time.Duration) WriterOption {
	return func(w *Writer) {
		if initial > 0 && max >= initial {
			w.initialBackoff = initial
			w.maxBackoff = max
		}
	}
}

// WithWriterLogger sets a custom logger for the writer.
func WithWriterLogger(l logger.Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWriter creates a writer in front of sink, spilling to dlq.
func NewWriter(s Sink, dlq DeadLetter, opts ...WriterOption) *Writer {
	w := &Writer{
		sink:           s,
		dlq:            dlq,
		batchSize:      defaultBatchSize,
		flushInterval:  defaultFlushInterval,
		maxRetries:     defaultMaxRetries,
		bufferSize:     defaultBufferSize,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		done:           make(chan struct{}),
		logger:         logger.Get().Named("sink-writer"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.in = make(chan model.Row, w.bufferSize)
	return w
}

// Start launches the background flush loop.
func (w *Writer) Start(ctx context.Context) {
	go w.run(ctx)
}

// Push enqueues rows for delivery. It blocks while the buffer is full
// and returns false once the writer is closed or ctx is done.
func (w *Writer) Push(ctx context.Context, rows ...model.Row) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	for _, r := range rows {
		select {
		case w.in <- r:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Drain stops intake, flushes everything buffered, and waits up to
// ctx's deadline for delivery to finish.
func (w *Writer) Drain(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	close(w.in)
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run collects rows into batches and flushes on size or time.
func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]model.Row, 0, w.batchSize)
	for {
		select {
		case row, ok := <-w.in:
			if !ok {
				// Intake closed; drain what remains and flush.
				for r := range w.in {
					batch = append(batch, r)
				}
				w.flush(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			w.flush(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

// flush delivers one batch, retrying transient errors with exponential
// backoff, and spills to the dead-letter store on exhaustion.
func (w *Writer) flush(ctx context.Context, batch []model.Row) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	op := func() error {
		err := w.sink.WriteBatch(ctx, batch)
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(w.retryBackoff(), w.maxRetries),
		ctx,
	)
	notify := func(err error, next time.Duration) {
		metrics.RecordSinkRetry()
		w.logger.Warn(ctx, "sink write failed, retrying",
			logger.Int("rows", len(batch)),
			logger.Any("retry_in", next.String()),
			logger.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		w.spill(ctx, batch, err)
		return
	}

	metrics.RecordSinkBatch(len(batch))
	metrics.RecordSinkLatency(float64(time.Since(start).Milliseconds()))
}

func (w *Writer) retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialBackoff
	b.MaxInterval = w.maxBackoff
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall time
	return b
}

// spill routes an undeliverable batch to the dead-letter store and
// raises an alertable condition in the logs.
func (w *Writer) spill(ctx context.Context, batch []model.Row, cause error) {
	metrics.RecordSinkFailure()
	metrics.RecordSinkSpill(len(batch))
	w.logger.Error(ctx, "sink retries exhausted, spilling batch to dead-letter",
		logger.Int("rows", len(batch)),
		logger.Error(cause),
	)

	for _, row := range batch {
		payload, err := json.Marshal(row)
		if err != nil {
			w.logger.Error(ctx, "cannot marshal spilled row", logger.Error(err))
			continue
		}
		entry := DeadLetterEntry{
			Reason:  ReasonSinkExhausted,
			Detail:  cause.Error(),
			Payload: payload,
			At:      time.Now().UTC(),
		}
		if err := w.dlq.Write(ctx, entry); err != nil {
			w.logger.Error(ctx, "dead-letter write failed for spilled row", logger.Error(err))
		}
	}
}
