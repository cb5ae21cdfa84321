// Package kafka publishes completed resolution runs to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/settle/internal/resolution"
)

// Config selects the brokers and topic. An empty Brokers list disables
// publishing.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Validate checks a config that has brokers set.
func (c *Config) Validate() error {
	if len(c.Brokers) > 0 && c.Topic == "" {
		return errors.New("kafka: topic required when brokers are set")
	}
	return nil
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per run, keyed by run ID so all records for
// a run land on the same partition.
type Publisher struct {
	w      writer
	topic  string
	logger log.Logger
}

// New creates a publisher backed by a kafka-go Writer.
func New(cfg Config, logger log.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newPublisher(w, cfg.Topic, logger), nil
}

func newPublisher(w writer, topic string, logger log.Logger) *Publisher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Publisher{w: w, topic: topic, logger: logger}
}

// Publish implements resolution.Publisher.
func (p *Publisher) Publish(ctx context.Context, run *resolution.Run) error {
	value, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("kafka: marshal run %s: %w", run.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(run.ID),
		Value: value,
		Time:  run.CompletedAt,
		Headers: []kafka.Header{
			{Key: "mode", Value: []byte(run.Mode)},
			{Key: "status", Value: []byte(run.Status)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write to %s: %w", p.topic, err)
	}
	p.logger.Info(ctx, "run published", "run_id", run.ID, "topic", p.topic, "bytes", len(value))
	return nil
}

// Close flushes pending writes and releases the connection.
func (p *Publisher) Close() error {
	return p.w.Close()
}
