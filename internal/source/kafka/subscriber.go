package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source"
)

const sourceName = "kafka"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber consumes measurements from a Kafka topic. Without a consumer
// group it starts at the end of the topic and never commits.
type Subscriber struct {
	cfg       config.KafkaConfig
	metrics   *source.Metrics
	newReader func() messageReader
}

func NewSubscriber(cfg config.KafkaConfig, metrics *source.Metrics) (*Subscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	s := &Subscriber{cfg: cfg, metrics: metrics}
	s.newReader = func() messageReader {
		return kafka.NewReader(s.readerConfig())
	}
	return s, nil
}

func (s *Subscriber) readerConfig() kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:  s.cfg.Brokers,
		GroupID:  s.cfg.GroupID,
		Topic:    s.cfg.Topic,
		MinBytes: s.cfg.MinBytes,
		MaxBytes: s.cfg.MaxBytes,
		MaxWait:  500 * time.Millisecond,
	}
	if rc.MinBytes <= 0 {
		rc.MinBytes = 1
	}
	if rc.MaxBytes <= 0 {
		rc.MaxBytes = 10e6
	}
	if rc.GroupID == "" {
		rc.StartOffset = kafka.LastOffset
	}
	return rc
}

// Subscribe reads the topic until ctx is done or the reader fails.
func (s *Subscriber) Subscribe(ctx context.Context, fn func(dashboard.Measurement)) error {
	r := s.newReader()
	defer func() {
		if err := r.Close(); err != nil {
			slog.Error("failed to close kafka reader", "err", err)
		}
	}()

	slog.Info("consuming kafka topic", "topic", s.cfg.Topic, "group", s.cfg.GroupID)
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from %q: %w", s.cfg.Topic, err)
		}

		source.Deliver(sourceName, s.metrics, msg.Value, fn)

		if s.cfg.GroupID == "" {
			continue
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("failed to commit kafka message", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
	}
}
