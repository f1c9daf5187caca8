package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if DEVSCOUT_CONFIG is set
//  3. env (prefix DEVSCOUT_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("DEVSCOUT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: DEVSCOUT_TOPIC, DEVSCOUT_SINK_BATCH_SIZE, ...
	// Map env keys like DEVSCOUT_CHECKPOINT_DIR -> checkpoint_dir (flat keys).
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("DEVSCOUT_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "devscout_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.SourceKind {
	case SourceKafka:
		if len(c.Brokers) == 0 {
			return fmt.Errorf("%w: kafka source needs brokers", ErrInvalidConfig)
		}
		if c.Topic == "" {
			return fmt.Errorf("%w: kafka source needs a topic", ErrInvalidConfig)
		}
	case SourceMemory:
	default:
		return fmt.Errorf("%w: unknown source_kind %q", ErrInvalidConfig, c.SourceKind)
	}
	switch c.SinkKind {
	case SinkPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres sink needs a dsn", ErrInvalidConfig)
		}
	case SinkStdout, SinkMemory:
	default:
		return fmt.Errorf("%w: unknown sink_kind %q", ErrInvalidConfig, c.SinkKind)
	}
	if c.Partitions <= 0 {
		return fmt.Errorf("%w: partitions must be positive", ErrInvalidConfig)
	}
	if c.SourcePollRetries <= 0 {
		return fmt.Errorf("%w: source_poll_retries must be positive", ErrInvalidConfig)
	}
	if c.TestResultWindowSec <= 0 || c.LiveMetricWindowSec <= 0 {
		return fmt.Errorf("%w: window sizes must be positive", ErrInvalidConfig)
	}
	if c.TestResultLatenessSec < 0 || c.LiveMetricLatenessSec < 0 {
		return fmt.Errorf("%w: lateness must not be negative", ErrInvalidConfig)
	}
	if c.CheckpointDir == "" {
		return fmt.Errorf("%w: checkpoint_dir must not be empty", ErrInvalidConfig)
	}
	return nil
}
