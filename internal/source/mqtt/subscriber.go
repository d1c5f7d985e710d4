package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source"
)

const sourceName = "mqtt"

// Subscriber receives measurements published on an MQTT topic. The topic is
// subscribed again after every reconnect.
type Subscriber struct {
	cfg     config.MQTTConfig
	metrics *source.Metrics
}

func NewSubscriber(cfg config.MQTTConfig, metrics *source.Metrics) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Subscriber{cfg: cfg, metrics: metrics}, nil
}

func (s *Subscriber) clientOptions() *paho.ClientOptions {
	prefix := s.cfg.ClientIDPrefix
	if prefix == "" {
		prefix = "opsdash"
	}
	opts := paho.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(prefix + "-" + uuid.NewString()).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectTimeout(s.cfg.ConnectTimeout)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	return opts
}

// handler serializes deliveries to fn.
func (s *Subscriber) handler(fn func(dashboard.Measurement)) paho.MessageHandler {
	var mu sync.Mutex
	return func(_ paho.Client, msg paho.Message) {
		mu.Lock()
		defer mu.Unlock()
		source.Deliver(sourceName, s.metrics, msg.Payload(), fn)
	}
}

// Subscribe blocks until ctx is done or the topic subscription is refused.
func (s *Subscriber) Subscribe(ctx context.Context, fn func(dashboard.Measurement)) error {
	handler := s.handler(fn)
	subErr := make(chan error, 1)

	opts := s.clientOptions()
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.cfg.Topic, byte(s.cfg.QoS), handler)
		token.Wait()
		if err := token.Error(); err != nil {
			select {
			case subErr <- err:
			default:
			}
			return
		}
		slog.Info("subscribed to mqtt topic", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost, reconnecting", "broker", s.cfg.Broker, "err", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("connect to %s: timed out after %s", s.cfg.Broker, s.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", s.cfg.Broker, err)
	}
	defer client.Disconnect(250)

	select {
	case <-ctx.Done():
		return nil
	case err := <-subErr:
		return fmt.Errorf("subscribe to %q: %w", s.cfg.Topic, err)
	}
}
