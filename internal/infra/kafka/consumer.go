package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/ports"
)

// Config describes how to connect to a Kafka cluster for consuming jobs.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

var _ ports.JobProducer = (*Consumer)(nil)

// Consumer wraps a kafka-go reader to implement ports.JobProducer.
type Consumer struct {
	reader messageReader
	logger zerolog.Logger
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// NewConsumer builds a new Consumer from the provided configuration.
func NewConsumer(cfg Config, logger zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "tutorexec-worker"
	}

	readerConfig := kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	}

	if readerConfig.MinBytes == 0 {
		readerConfig.MinBytes = 1
	}
	if readerConfig.MaxBytes == 0 {
		readerConfig.MaxBytes = 10 * 1024 * 1024
	}
	if readerConfig.MaxWait == 0 {
		readerConfig.MaxWait = time.Second
	}

	return newConsumer(kafkago.NewReader(readerConfig), logger), nil
}

func newConsumer(reader messageReader, logger zerolog.Logger) *Consumer {
	return &Consumer{reader: reader, logger: logger.With().Str("component", "kafka-consumer").Logger()}
}

// NextJob blocks until the next job message is available in Kafka or the
// context is cancelled. A "done" message ends the stream with io.EOF.
// Malformed messages are logged and skipped so one bad submission cannot
// stall the worker.
func (c *Consumer) NextJob(ctx context.Context) (execution.Job, error) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return execution.Job{}, err
		}

		job, err := decodeJobMessage(msg)
		if err == nil || errors.Is(err, io.EOF) {
			return job, err
		}

		c.logger.Warn().
			Err(err).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping malformed job message")
	}
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
