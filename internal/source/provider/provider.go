package provider

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source"
	"github.com/nicolastakashi/opsdash/internal/source/kafka"
	"github.com/nicolastakashi/opsdash/internal/source/mqtt"
	"github.com/nicolastakashi/opsdash/internal/source/otlp"
	"github.com/nicolastakashi/opsdash/internal/source/prom"
	"github.com/nicolastakashi/opsdash/internal/source/redis"
	"github.com/nicolastakashi/opsdash/internal/source/sqlstore"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewQuerier builds the configured history source, wrapped with the retry
// policy. The returned closer releases its connections.
func NewQuerier(ctx context.Context, cfg config.HistoryConfig) (dashboard.Querier, io.Closer, error) {
	var (
		q      dashboard.Querier
		closer io.Closer = nopCloser{}
	)
	switch cfg.Provider {
	case config.HistoryPrometheus:
		pq, err := prom.NewQuerier(cfg.Prometheus.URL, cfg.Prometheus.Query,
			prom.WithMetrics(cfg.Prometheus.Metrics),
			prom.WithMatchers(cfg.Prometheus.Matchers),
			prom.WithStep(cfg.Prometheus.Step),
			prom.WithUnits(cfg.Prometheus.Units),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus history source: %w", err)
		}
		q = pq
	case config.HistorySQL:
		store, err := sqlstore.Open(ctx, cfg.SQL)
		if err != nil {
			return nil, nil, fmt.Errorf("create sql history source: %w", err)
		}
		q, closer = store, store
	default:
		return nil, nil, fmt.Errorf("%w: history provider %q", source.ErrUnsupportedProvider, cfg.Provider)
	}

	return source.WithRetry(q, source.RetryConfig{
		MaxTries:        cfg.Retry.MaxTries,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		MaxElapsedTime:  cfg.Retry.MaxElapsedTime,
	}), closer, nil
}

// NewSubscriber builds the configured live source. The OTLP receiver is also
// returned so its readiness can be probed; it is nil for other providers.
func NewSubscriber(cfg config.LiveConfig, metrics *source.Metrics) (dashboard.Subscriber, *otlp.Receiver, error) {
	switch cfg.Provider {
	case config.LiveNone, "":
		return dashboard.NopSubscriber, nil, nil
	case config.LiveOTLP:
		r := otlp.NewReceiver(cfg.OTLP.ListenAddress,
			otlp.WithGracefulTimeout(cfg.OTLP.GracefulShutdownTimeout),
			otlp.WithMetrics(metrics),
		)
		return r, r, nil
	case config.LiveRedis:
		s, err := redis.NewSubscriber(cfg.Redis, metrics)
		return s, nil, err
	case config.LiveKafka:
		s, err := kafka.NewSubscriber(cfg.Kafka, metrics)
		return s, nil, err
	case config.LiveMQTT:
		s, err := mqtt.NewSubscriber(cfg.MQTT, metrics)
		return s, nil, err
	default:
		return nil, nil, fmt.Errorf("%w: live provider %q", source.ErrUnsupportedProvider, cfg.Provider)
	}
}

// Publisher sends measurements to a live source.
type Publisher interface {
	Publish(ctx context.Context, m dashboard.Measurement) error
	io.Closer
}

// NewPublisher builds a publisher for the configured live source. Without a
// live source measurements are written to out as newline-delimited JSON. The
// OTLP publisher dials the receiver's listen address, on localhost when the
// address has no host.
func NewPublisher(cfg config.LiveConfig, out io.Writer) (Publisher, error) {
	switch cfg.Provider {
	case config.LiveNone, "":
		return source.NewLineWriter(out), nil
	case config.LiveOTLP:
		target := cfg.OTLP.ListenAddress
		if strings.HasPrefix(target, ":") {
			target = "localhost" + target
		}
		return otlp.NewExporter(target)
	case config.LiveRedis:
		return redis.NewPublisher(cfg.Redis)
	case config.LiveKafka:
		return kafka.NewPublisher(cfg.Kafka)
	case config.LiveMQTT:
		return mqtt.NewPublisher(cfg.MQTT)
	default:
		return nil, fmt.Errorf("%w: live provider %q", source.ErrUnsupportedProvider, cfg.Provider)
	}
}
