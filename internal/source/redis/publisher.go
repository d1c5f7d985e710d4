package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source"
)

// Publisher publishes measurements on a Redis pub/sub channel.
type Publisher struct {
	client  rueidis.Client
	channel string
}

func NewPublisher(cfg config.RedisConfig) (*Publisher, error) {
	if cfg.Channel == "" {
		return nil, errors.New("redis channel is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: cfg.Addresses,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return &Publisher{client: client, channel: cfg.Channel}, nil
}

func (p *Publisher) Publish(ctx context.Context, m dashboard.Measurement) error {
	payload, err := source.EncodeMeasurement(m)
	if err != nil {
		return err
	}
	cmd := p.client.B().Publish().Channel(p.channel).Message(string(payload)).Build()
	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("publish to %q: %w", p.channel, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.client.Close()
	return nil
}
