package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/rueidis"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source"
)

const sourceName = "redis"

// Subscriber receives measurements published on a Redis pub/sub channel.
type Subscriber struct {
	opts    rueidis.ClientOption
	channel string
	metrics *source.Metrics
}

func NewSubscriber(cfg config.RedisConfig, metrics *source.Metrics) (*Subscriber, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("redis addresses are required")
	}
	if cfg.Channel == "" {
		return nil, errors.New("redis channel is required")
	}

	opts := rueidis.ClientOption{
		InitAddress: cfg.Addresses,
	}
	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	return &Subscriber{opts: opts, channel: cfg.Channel, metrics: metrics}, nil
}

// Subscribe blocks until ctx is done or the subscription fails.
func (s *Subscriber) Subscribe(ctx context.Context, fn func(dashboard.Measurement)) error {
	client, err := rueidis.NewClient(s.opts)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer client.Close()

	slog.Info("subscribing to redis channel", "channel", s.channel)
	err = client.Receive(ctx, client.B().Subscribe().Channel(s.channel).Build(), func(msg rueidis.PubSubMessage) {
		source.Deliver(sourceName, s.metrics, []byte(msg.Message), fn)
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis subscription on %q: %w", s.channel, err)
	}
	return nil
}
