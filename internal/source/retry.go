package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

// RetryConfig controls how history requests are retried.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// RetryingQuerier retries failed history requests with exponential backoff.
// Context cancellation is never retried.
type RetryingQuerier struct {
	next dashboard.Querier
	cfg  RetryConfig
}

// WithRetry wraps q. A config with MaxTries of one or less returns q as is.
func WithRetry(q dashboard.Querier, cfg RetryConfig) dashboard.Querier {
	if cfg.MaxTries <= 1 {
		return q
	}
	return &RetryingQuerier{next: q, cfg: cfg}
}

func (r *RetryingQuerier) Metrics(ctx context.Context) ([]string, error) {
	return retry(ctx, r.cfg, "metrics", func() ([]string, error) {
		return r.next.Metrics(ctx)
	})
}

func (r *RetryingQuerier) Measurements(ctx context.Context, reqs []dashboard.HistoryRequest) ([]dashboard.MetricBatch, error) {
	return retry(ctx, r.cfg, "measurements", func() ([]dashboard.MetricBatch, error) {
		return r.next.Measurements(ctx, reqs)
	})
}

func retry[T any](ctx context.Context, cfg RetryConfig, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("history request failed, retrying", "op", op, "err", err, "next", next)
		}),
	}
	if cfg.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
