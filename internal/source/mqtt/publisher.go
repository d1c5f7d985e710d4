package mqtt

import (
	"context"
	"errors"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source"
)

// Publisher publishes measurements on an MQTT topic.
type Publisher struct {
	cfg    config.MQTTConfig
	client paho.Client
}

// NewPublisher connects to the broker.
func NewPublisher(cfg config.MQTTConfig) (*Publisher, error) {
	s, err := NewSubscriber(cfg, nil)
	if err != nil {
		return nil, err
	}
	client := paho.NewClient(s.clientOptions())
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out after %s", cfg.Broker, s.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return &Publisher{cfg: s.cfg, client: client}, nil
}

func (p *Publisher) Publish(ctx context.Context, m dashboard.Measurement) error {
	payload, err := source.EncodeMeasurement(m)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.cfg.Topic, byte(p.cfg.QoS), false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %q: %w", p.cfg.Topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.client == nil {
		return errors.New("mqtt publisher not connected")
	}
	p.client.Disconnect(250)
	return nil
}
