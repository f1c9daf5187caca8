package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devscout/streamengine/pkg/logger"
	"github.com/devscout/streamengine/pkg/metrics"
)

// Default manager configuration constants.
const (
	defaultInterval    = 30 * time.Second
	defaultEveryEvents = 10000
	defaultKeep        = 3
	defaultMaxFailures = 5

	filePrefix = "checkpoint-"
	fileSuffix = ".json"
	dirPerm    = 0o755
	filePerm   = 0o644
)

// State is the manager's lifecycle state.
type State int32

// Manager states.
const (
	StateRestoring State = iota
	StateRunning
	StateSnapshotting
)

func (s State) String() string {
	switch s {
	case StateRestoring:
		return "restoring"
	case StateRunning:
		return "running"
	case StateSnapshotting:
		return "snapshotting"
	default:
		return "unknown"
	}
}

// Snapshotter gathers the current engine state for a checkpoint.
type Snapshotter func(ctx context.Context) (*Checkpoint, error)

// Manager periodically snapshots engine state to durable storage and
// restores the most recent valid checkpoint on startup.
type Manager struct {
	dir         string
	interval    time.Duration
	everyEvents int64
	keep        int
	maxFailures int

	state  atomic.Int32
	events atomic.Int64

	// snapMu makes snapshots single-flight: the periodic Run loop and
	// the engine's final shutdown snapshot may overlap, and the failure
	// streak plus file rotation must not interleave.
	snapMu   sync.Mutex
	failures int

	done chan struct{}

	// onHalt is invoked once when consecutive write failures exceed the
	// budget; the engine stops ingestion in response.
	onHalt   func(error)
	haltOnce sync.Once

	logger logger.Logger
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithInterval sets the periodic snapshot interval.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithEveryEvents triggers a snapshot after this many processed events,
// whichever of interval or event count comes first.
func WithEveryEvents(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.everyEvents = n
		}
	}
}

// WithKeep sets how many checkpoint files rotation retains.
func WithKeep(k int) Option {
	return func(m *Manager) {
		if k > 0 {
			m.keep = k
		}
	}
}

// WithMaxFailures sets the consecutive write-failure budget before the
// manager halts ingestion.
func WithMaxFailures(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxFailures = n
		}
	}
}

// WithHaltFunc sets the callback invoked on failure-budget exhaustion.
func WithHaltFunc(fn func(error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.onHalt = fn
		}
	}
}

// WithLogger sets a custom logger for the manager.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a checkpoint manager storing files under dir.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:         dir,
		interval:    defaultInterval,
		everyEvents: defaultEveryEvents,
		keep:        defaultKeep,
		maxFailures: defaultMaxFailures,
		onHalt:      func(error) {},
		done:        make(chan struct{}),
		logger:      logger.Get().Named("checkpoint"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(int32(StateRestoring))
	return m
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// NoteEvents records processed events toward the event-count trigger.
func (m *Manager) NoteEvents(n int) {
	m.events.Add(int64(n))
}

// Restore loads the most recent valid checkpoint. A corrupt or
// unreadable file falls back to the next-oldest; with no usable file
// the engine cold-starts from empty state (nil checkpoint, no error).
func (m *Manager) Restore(ctx context.Context) (*Checkpoint, error) {
	defer m.state.Store(int32(StateRunning))

	if err := os.MkdirAll(m.dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", m.dir, err)
	}

	files, err := m.list()
	if err != nil {
		return nil, err
	}

	// Newest first.
	for i := len(files) - 1; i >= 0; i-- {
		path := files[i]
		cp, err := readFile(path)
		if err != nil {
			m.logger.Error(ctx, "checkpoint unreadable, falling back to older",
				logger.String("path", path),
				logger.Error(fmt.Errorf("%w: %w", ErrRestore, err)),
			)
			continue
		}
		m.logger.Info(ctx, "restored checkpoint",
			logger.String("path", path),
			logger.String("created_at", cp.CreatedAt.Format(time.RFC3339)),
		)
		metrics.RecordCheckpointRestore()
		return cp, nil
	}

	m.logger.Warn(ctx, "no usable checkpoint, cold start", logger.String("dir", m.dir))
	return nil, nil
}

// Run drives periodic and event-count-triggered snapshots until ctx is
// canceled. It never returns an error; write failures are logged,
// counted, and retried on the next tick.
func (m *Manager) Run(ctx context.Context, snap Snapshotter) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Event-count trigger polls at a fraction of the interval.
	pollEvery := m.interval / 10
	if pollEvery < 10*time.Millisecond {
		pollEvery = 10 * time.Millisecond
	}
	poll := time.NewTicker(pollEvery)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.snapshot(ctx, snap)
			m.events.Store(0)
		case <-poll.C:
			if m.events.Load() >= m.everyEvents {
				m.snapshot(ctx, snap)
				m.events.Store(0)
			}
		}
	}
}

// Done is closed when the Run loop has exited. Shutdown waits on it
// before taking the final checkpoint.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Snapshot takes and writes one checkpoint immediately; used by Run and
// by the engine's shutdown path for the final checkpoint.
func (m *Manager) Snapshot(ctx context.Context, snap Snapshotter) error {
	return m.snapshot(ctx, snap)
}

func (m *Manager) snapshot(ctx context.Context, snap Snapshotter) error {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()

	m.state.Store(int32(StateSnapshotting))
	defer m.state.Store(int32(StateRunning))

	start := time.Now()
	cp, err := snap(ctx)
	if err == nil {
		err = m.write(cp)
	}
	if err != nil {
		metrics.RecordCheckpointFailure()
		m.failures++
		m.logger.Error(ctx, "checkpoint failed",
			logger.Int("consecutive_failures", m.failures),
			logger.Error(err),
		)
		if m.failures >= m.maxFailures {
			exhausted := fmt.Errorf("%w after %d attempts: %w", ErrExhausted, m.failures, err)
			m.haltOnce.Do(func() { m.onHalt(exhausted) })
			return exhausted
		}
		return err
	}

	m.failures = 0
	metrics.RecordCheckpointSuccess()
	metrics.RecordCheckpointLatency(float64(time.Since(start).Milliseconds()))
	m.logger.Debug(ctx, "checkpoint written",
		logger.Int("offsets", len(cp.Offsets)),
		logger.Int("window_partitions", len(cp.Windows)),
	)
	return nil
}

// write persists a checkpoint atomically and rotates old files.
func (m *Manager) write(cp *Checkpoint) error {
	blob, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrWrite, err)
	}

	name := fmt.Sprintf("%s%020d%s", filePrefix, time.Now().UnixNano(), fileSuffix)
	final := filepath.Join(m.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, blob, filePerm); err != nil {
		return fmt.Errorf("%w: write temp: %w", ErrWrite, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename: %w", ErrWrite, err)
	}

	m.rotate()
	return nil
}

// rotate removes checkpoint files beyond the keep budget, oldest first.
func (m *Manager) rotate() {
	files, err := m.list()
	if err != nil {
		return
	}
	for len(files) > m.keep {
		os.Remove(files[0])
		files = files[1:]
	}
}

// list returns checkpoint file paths sorted oldest to newest.
func (m *Manager) list() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir %s: %w", m.dir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(m.dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func readFile(path string) (*Checkpoint, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(blob, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
