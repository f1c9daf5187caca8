package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Default Kafka reader configuration constants.
const (
	defaultMinBytes = 1
	defaultMaxBytes = 10 * 1024 * 1024
	defaultMaxWait  = 500 * time.Millisecond
)

// KafkaSource consumes one topic through explicit per-partition
// readers. Offsets are managed by the engine's checkpoints rather than
// a consumer group: after a restart each partition is Seek'd to its
// checkpointed offset, which keeps the source aligned with the restored
// window state.
type KafkaSource struct {
	brokers    []string
	topic      string
	partitions []int
	minBytes   int
	maxBytes   int
	maxWait    time.Duration

	mu      sync.Mutex
	readers map[int]*kafka.Reader
	closed  bool
}

// KafkaOption applies a configuration option to the KafkaSource.
type KafkaOption func(*KafkaSource)

// WithFetchBounds sets the reader's min/max fetch sizes.
func WithFetchBounds(minBytes, maxBytes int) KafkaOption {
	return func(s *KafkaSource) {
		if minBytes > 0 && maxBytes >= minBytes {
			s.minBytes = minBytes
			s.maxBytes = maxBytes
		}
	}
}

// WithMaxWait bounds how long a fetch waits for minBytes.
func WithMaxWait(d time.Duration) KafkaOption {
	return func(s *KafkaSource) {
		if d > 0 {
			s.maxWait = d
		}
	}
}

// NewKafkaSource creates readers for the given partitions of a topic.
func NewKafkaSource(brokers []string, topic string, partitions []int, opts ...KafkaOption) (*KafkaSource, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka source needs at least one broker")
	}
	if len(partitions) == 0 {
		return nil, errors.New("kafka source needs at least one partition")
	}

	s := &KafkaSource{
		brokers:    brokers,
		topic:      topic,
		partitions: partitions,
		minBytes:   defaultMinBytes,
		maxBytes:   defaultMaxBytes,
		maxWait:    defaultMaxWait,
		readers:    make(map[int]*kafka.Reader, len(partitions)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, p := range partitions {
		s.readers[p] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     topic,
			Partition: p,
			MinBytes:  s.minBytes,
			MaxBytes:  s.maxBytes,
			MaxWait:   s.maxWait,
		})
	}
	return s, nil
}

// Partitions lists the configured partitions.
func (s *KafkaSource) Partitions() []int {
	out := make([]int, len(s.partitions))
	copy(out, s.partitions)
	return out
}

// Poll fetches the next message for a partition.
func (s *KafkaSource) Poll(ctx context.Context, partition int) (Message, error) {
	reader, err := s.reader(partition)
	if err != nil {
		return Message{}, err
	}

	msg, err := reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return Message{}, ErrClosed
		}
		return Message{}, fmt.Errorf("fetch partition %d: %w", partition, err)
	}
	return Message{
		Partition:  partition,
		Offset:     msg.Offset,
		Value:      msg.Value,
		IngestTime: time.Now().UTC(),
	}, nil
}

// Seek positions a partition reader at an offset for checkpoint resume.
func (s *KafkaSource) Seek(partition int, offset int64) error {
	reader, err := s.reader(partition)
	if err != nil {
		return err
	}
	if err := reader.SetOffset(offset); err != nil {
		return fmt.Errorf("seek partition %d to %d: %w", partition, offset, err)
	}
	return nil
}

// Close closes all partition readers.
func (s *KafkaSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, r := range s.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *KafkaSource) reader(partition int) (*kafka.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	r, ok := s.readers[partition]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPartition, partition)
	}
	return r, nil
}
