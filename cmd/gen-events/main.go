package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/devscout/streamengine/internal/genevents"
	"github.com/devscout/streamengine/pkg/logger"
)

// Default configuration constants.
const (
	defaultNumEvents  = 10000
	defaultCandidates = 200
	defaultChallenges = 40
	defaultTimeout    = 10 * time.Second
	defaultSpread     = 15 * time.Minute
	defaultLateRatio  = 0.02
	defaultDupRatio   = 0.01
)

func main() {
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers; empty writes to stdout")
	topic := flag.String("topic", "coding-events", "Kafka topic to produce to")
	events := flag.Int("events", defaultNumEvents, "number of events to generate")
	candidates := flag.Int("candidates", defaultCandidates, "number of distinct candidates")
	challenges := flag.Int("challenges", defaultChallenges, "number of distinct challenges")
	workers := flag.Int("workers", runtime.NumCPU(), "number of concurrent producers")
	timeout := flag.Duration("timeout", defaultTimeout, "per-write timeout")
	spread := flag.Duration("spread", defaultSpread, "event time spread into the past")
	lateRatio := flag.Float64("late", defaultLateRatio, "fraction of events stamped far in the past")
	dupRatio := flag.Float64("dup", defaultDupRatio, "fraction of events emitted twice")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &genevents.Config{
		Topic:      *topic,
		NumEvents:  *events,
		Candidates: *candidates,
		Challenges: *challenges,
		Workers:    *workers,
		Timeout:    *timeout,
		Spread:     *spread,
		LateRatio:  *lateRatio,
		DupRatio:   *dupRatio,
		Verbose:    *verbose,
	}
	if *brokers != "" {
		cfg.Brokers = strings.Split(*brokers, ",")
	}

	if _, err := genevents.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "event generation failed", logger.Error(err))
		os.Exit(1)
	}
}
