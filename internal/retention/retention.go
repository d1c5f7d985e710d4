package retention

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nicolastakashi/opsdash/internal/config"
)

// Pruner deletes stored measurements older than a cutoff.
type Pruner interface {
	DeleteMeasurementsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Worker keeps the SQL history store bounded by deleting measurements
// older than the configured max age.
type Worker struct {
	pruner     Pruner
	interval   time.Duration
	runTimeout time.Duration
	maxAge     time.Duration
	now        func() time.Time

	runDuration *prometheus.HistogramVec
	deleted     prometheus.Counter
}

func NewWorker(pruner Pruner, cfg config.RetentionConfig, reg prometheus.Registerer) (*Worker, error) {
	if pruner == nil {
		return nil, fmt.Errorf("pruner is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("retention.interval must be positive (got: %v)", cfg.Interval)
	}
	if cfg.RunTimeout <= 0 {
		return nil, fmt.Errorf("retention.run_timeout must be positive (got: %v)", cfg.RunTimeout)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention.max_age must be positive (got: %v)", cfg.MaxAge)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	w := &Worker{
		pruner:     pruner,
		interval:   cfg.Interval,
		runTimeout: cfg.RunTimeout,
		maxAge:     cfg.MaxAge,
		now:        time.Now,
	}
	w.runDuration = promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opsdash_retention_run_duration_seconds",
		Help:    "Duration of retention runs in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	w.deleted = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "opsdash_retention_deleted_measurements_total",
		Help: "Total number of measurements deleted by retention runs",
	})
	return w, nil
}

// Run prunes once immediately, then on every interval until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	// Up to 20% jitter on the interval.
	jitterBase := w.interval / 5
	if jitterBase <= 0 {
		jitterBase = 1
	}
	ticker := time.NewTicker(w.interval + rand.N(jitterBase))
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, w.runTimeout)
	defer cancel()

	cutoff := w.now().UTC().Add(-w.maxAge)
	deleted, err := w.pruner.DeleteMeasurementsBefore(runCtx, cutoff)
	if err != nil {
		slog.Error("retention: failed to delete old measurements", "err", err, "cutoff", cutoff)
		w.runDuration.WithLabelValues("failure").Observe(time.Since(start).Seconds())
		return
	}

	w.deleted.Add(float64(deleted))
	slog.Info("retention: cleanup complete", "deleted", deleted, "cutoff", cutoff)
	w.runDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
}
