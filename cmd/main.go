package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/devscout/streamengine/internal/adapters/http/api"
	"github.com/devscout/streamengine/internal/adapters/sink"
	"github.com/devscout/streamengine/internal/adapters/source"
	"github.com/devscout/streamengine/internal/app"
	"github.com/devscout/streamengine/internal/checkpoint"
	"github.com/devscout/streamengine/internal/config"
	"github.com/devscout/streamengine/internal/domain/pipeline"
	"github.com/devscout/streamengine/internal/engine"
	"github.com/devscout/streamengine/pkg/logger"
	"github.com/devscout/streamengine/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics;
	// we collect our own system metrics instead.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			logger.Error(err)
		}
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	src, err := buildSource(cfg)
	if err != nil {
		log.Error(ctx, "failed to build source", logger.Error(err))
		return
	}

	snk, err := buildSink(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to build sink", logger.Error(err))
		return
	}

	dlq, err := buildDeadLetter(cfg)
	if err != nil {
		log.Error(ctx, "failed to build dead letter store", logger.Error(err))
		return
	}

	// The halt hook needs the engine, which needs the manager. Wire the
	// hook through a late-bound variable.
	var eng *app.Engine
	ckpt := checkpoint.NewManager(cfg.CheckpointDir,
		checkpoint.WithInterval(time.Duration(cfg.CheckpointIntervalSec)*time.Second),
		checkpoint.WithEveryEvents(cfg.CheckpointEveryEvents),
		checkpoint.WithKeep(cfg.CheckpointKeep),
		checkpoint.WithMaxFailures(cfg.CheckpointMaxFailures),
		checkpoint.WithHaltFunc(func(cause error) {
			if eng != nil {
				eng.Halt(cause)
			}
		}),
		checkpoint.WithLogger(log),
	)

	eng = app.New(src, snk, dlq, ckpt,
		app.WithLogger(log),
		app.WithSchedulerTick(time.Duration(cfg.SchedulerTickMS)*time.Millisecond),
		app.WithDrainTimeout(time.Duration(cfg.DrainTimeoutSec)*time.Second),
		app.WithTestResultOptions(
			pipeline.WithTestResultWindow(time.Duration(cfg.TestResultWindowSec)*time.Second),
			pipeline.WithTestResultLateness(time.Duration(cfg.TestResultLatenessSec)*time.Second),
		),
		app.WithLiveMetricOptions(
			pipeline.WithLiveMetricWindow(time.Duration(cfg.LiveMetricWindowSec)*time.Second),
			pipeline.WithLiveMetricLateness(time.Duration(cfg.LiveMetricLatenessSec)*time.Second),
		),
		app.WithWriterOptions(
			sink.WithBatchSize(cfg.SinkBatchSize),
			sink.WithFlushInterval(time.Duration(cfg.SinkFlushMS)*time.Millisecond),
			sink.WithMaxRetries(uint64(cfg.SinkMaxRetries)),
			sink.WithWriterLogger(log),
		),
		app.WithWorkerOptions(
			engine.WithMaxPollRetries(cfg.SourcePollRetries),
		),
	)
	if err := eng.Start(ctx); err != nil {
		log.Error(ctx, "failed to start engine", logger.Error(err))
		return
	}

	go startSystemMetricsUpdater(ctx)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	apiServer := api.NewServer(api.WithStatsProvider(eng))
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	log.Info(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	eng.Stop(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "stopped")
}

// buildSource selects the feed implementation from configuration.
func buildSource(cfg *config.Config) (source.Source, error) {
	switch cfg.SourceKind {
	case config.SourceKafka:
		parts := make([]int, cfg.Partitions)
		for i := range parts {
			parts[i] = i
		}
		return source.NewKafkaSource(cfg.Brokers, cfg.Topic, parts)
	default:
		parts := make([]int, cfg.Partitions)
		for i := range parts {
			parts[i] = i
		}
		return source.NewMemorySource(source.WithPartitions(parts...)), nil
	}
}

// buildSink selects the aggregate store implementation from configuration.
func buildSink(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
	switch cfg.SinkKind {
	case config.SinkPostgres:
		return sink.NewPostgresSink(ctx, cfg.PostgresDSN)
	case config.SinkStdout:
		return sink.NewStdoutSink(), nil
	default:
		return sink.NewMemorySink(), nil
	}
}

// buildDeadLetter selects the dead letter store from configuration.
func buildDeadLetter(cfg *config.Config) (sink.DeadLetter, error) {
	if cfg.DeadLetterPath != "" {
		return sink.NewFileDeadLetter(cfg.DeadLetterPath)
	}
	return sink.NewMemoryDeadLetter(), nil
}

// startSystemMetricsUpdater periodically refreshes runtime gauges.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
