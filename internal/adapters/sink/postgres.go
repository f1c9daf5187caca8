package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Postgres driver, registered as "postgres".
	_ "github.com/lib/pq"

	"github.com/devscout/streamengine/internal/domain/model"
)

// Upsert statements for the silver-layer aggregate tables.
const (
	upsertTestResult = `
		INSERT INTO silver.test_result_aggregates
			(candidate_id, challenge_id, window_start, window_end,
			 avg_success_rate, avg_execution_time, attempt_count, error_count, forced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (candidate_id, challenge_id, window_end) DO UPDATE SET
			avg_success_rate = EXCLUDED.avg_success_rate,
			avg_execution_time = EXCLUDED.avg_execution_time,
			attempt_count = EXCLUDED.attempt_count,
			error_count = EXCLUDED.error_count,
			forced = EXCLUDED.forced`

	upsertCompletion = `
		INSERT INTO silver.coding_challenge_scores
			(event_id, candidate_id, challenge_id, final_score,
			 time_taken_seconds, attempts, event_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`

	upsertLiveMetric = `
		INSERT INTO silver.live_metric_aggregates
			(candidate_id, session_id, metric_type, window_start, window_end,
			 avg_metric_value, metric_count, forced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (candidate_id, session_id, metric_type, window_end) DO UPDATE SET
			avg_metric_value = EXCLUDED.avg_metric_value,
			metric_count = EXCLUDED.metric_count,
			forced = EXCLUDED.forced`
)

// PostgresSink upserts finalized rows into the silver-layer tables the
// downstream scoring jobs read. Upsert keys make replays harmless.
type PostgresSink struct {
	db *sql.DB
}

// PostgresOption applies a configuration option to the PostgresSink.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	maxOpenConns int
	maxIdleConns int
	connLifetime time.Duration
}

// WithMaxOpenConns caps the connection pool size.
func WithMaxOpenConns(n int) PostgresOption {
	return func(c *postgresConfig) {
		if n > 0 {
			c.maxOpenConns = n
		}
	}
}

// WithConnLifetime bounds how long a pooled connection lives.
func WithConnLifetime(d time.Duration) PostgresOption {
	return func(c *postgresConfig) {
		if d > 0 {
			c.connLifetime = d
		}
	}
}

// NewPostgresSink opens a connection pool against dsn and verifies it.
func NewPostgresSink(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresSink, error) {
	cfg := &postgresConfig{
		maxOpenConns: 4,
		maxIdleConns: 2,
		connLifetime: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	db.SetConnMaxLifetime(cfg.connLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// WriteBatch upserts the batch inside one transaction. Database errors
// are reported as transient: the writer's backoff handles broker blips,
// and exhaustion spills the batch rather than blocking the pipeline.
func (s *PostgresSink) WriteBatch(ctx context.Context, rows []model.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrTransient, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for _, row := range rows {
		if err := upsertRow(ctx, tx, row); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTransient, err)
	}
	return nil
}

func upsertRow(ctx context.Context, tx *sql.Tx, row model.Row) error {
	var err error
	switch r := row.(type) {
	case model.TestResultRow:
		_, err = tx.ExecContext(ctx, upsertTestResult,
			r.CandidateID, r.ChallengeID, r.WindowStart, r.WindowEnd,
			r.AvgSuccessRate, r.AvgExecutionTime, r.AttemptCount, r.ErrorCount, r.Forced)
	case model.CompletionRow:
		_, err = tx.ExecContext(ctx, upsertCompletion,
			r.EventID, r.CandidateID, r.ChallengeID, r.FinalScore,
			r.TimeTakenSeconds, r.Attempts, r.EventTime)
	case model.LiveMetricRow:
		_, err = tx.ExecContext(ctx, upsertLiveMetric,
			r.CandidateID, r.SessionID, r.MetricType, r.WindowStart, r.WindowEnd,
			r.AvgMetricValue, r.MetricCount, r.Forced)
	default:
		return fmt.Errorf("%w: no table for row type %T", ErrPermanent, row)
	}
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ErrTransient, row.UpsertKey(), err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
