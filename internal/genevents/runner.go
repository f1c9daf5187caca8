package genevents

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/devscout/streamengine/pkg/logger"
)

// emitter writes raw payloads to a destination.
type emitter interface {
	Emit(ctx context.Context, key string, raw []byte) error
	Close() error
}

// kafkaEmitter produces to a topic, keyed by candidate so a candidate's
// events land on one partition.
type kafkaEmitter struct {
	writer *kafka.Writer
}

func newKafkaEmitter(config *Config) *kafkaEmitter {
	return &kafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: config.Timeout,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (e *kafkaEmitter) Emit(ctx context.Context, key string, raw []byte) error {
	return e.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: raw})
}

func (e *kafkaEmitter) Close() error {
	return e.writer.Close()
}

// stdoutEmitter prints one JSON payload per line.
type stdoutEmitter struct {
	mu  sync.Mutex
	buf *bufio.Writer
}

func newStdoutEmitter() *stdoutEmitter {
	return &stdoutEmitter{buf: bufio.NewWriter(os.Stdout)}
}

func (e *stdoutEmitter) Emit(_ context.Context, _ string, raw []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.buf.Write(raw); err != nil {
		return err
	}
	return e.buf.WriteByte('\n')
}

func (e *stdoutEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Flush()
}

// Run generates and emits the configured number of events.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	log := logger.Get().Named("genevents")
	log.Info(ctx, "starting event generation",
		logger.Int("events", config.NumEvents),
		logger.Int("workers", config.Workers),
		logger.Int("candidates", config.Candidates),
		logger.String("topic", config.Topic),
		logger.Any("brokers", config.Brokers))

	var em emitter
	if len(config.Brokers) > 0 {
		em = newKafkaEmitter(config)
	} else {
		em = newStdoutEmitter()
	}
	defer func() {
		if err := em.Close(); err != nil {
			log.Warn(ctx, "emitter close failed", logger.Error(err))
		}
	}()

	// Generation is cheap relative to emission; generate in one pass
	// and fan out the emission across workers.
	type job struct {
		key string
		raw []byte
	}
	jobs := make(chan job, config.Workers*2)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				err := em.Emit(ctx, j.key, j.raw)
				mu.Lock()
				if err != nil {
					stats.EventsFailed++
				} else {
					stats.EventsEmitted++
				}
				mu.Unlock()
				if err != nil && config.Verbose {
					log.Warn(ctx, "emit failed", logger.Error(err))
				}
			}
		}()
	}

	for i := 0; i < config.NumEvents; i++ {
		if ctx.Err() != nil {
			break
		}
		raw, err := generateEvent(config, stats)
		if err != nil {
			close(jobs)
			wg.Wait()
			return stats, err
		}
		key := candidateKey(raw)
		jobs <- job{key: key, raw: raw}

		if getRandomFloat() < config.DupRatio {
			stats.Duplicates++
			jobs <- job{key: key, raw: raw}
		}
	}
	close(jobs)
	wg.Wait()

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	log.Info(ctx, "event generation finished",
		logger.Int("generated", stats.EventsGenerated),
		logger.Int("emitted", stats.EventsEmitted),
		logger.Int("failed", stats.EventsFailed),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("late", stats.LateEvents),
		logger.String("duration", stats.Duration.String()))

	return stats, ctx.Err()
}

// candidateKey extracts the candidate_id for partition-sticky keying.
func candidateKey(raw []byte) string {
	var peek struct {
		CandidateID int `json:"candidate_id"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return ""
	}
	return fmt.Sprintf("%d", peek.CandidateID)
}
