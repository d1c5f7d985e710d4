package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session owns the dashboard state for its lifetime. Run bootstraps the
// dataset, subscribes to live updates and applies them one at a time in
// arrival order. Every state change is published as a new Snapshot.
type Session struct {
	querier    Querier
	subscriber Subscriber

	window        time.Duration
	retryInterval time.Duration
	updateBuffer  int
	now           func() time.Time

	current   atomic.Pointer[Snapshot]
	snapshots *Broadcaster[*Snapshot]
	version   uint64

	refreshC chan struct{}

	mu      sync.Mutex
	running bool
	closed  bool

	updatesTotal      *prometheus.CounterVec
	bootstrapDuration prometheus.Histogram
	bootstrapFailures prometheus.Counter
	subscribeErrors   prometheus.Counter
	seriesGauge       prometheus.Gauge
	pointsGauge       prometheus.Gauge
}

type SessionOption func(*Session)

// WithWindow sets how far back the bootstrap history reaches.
func WithWindow(window time.Duration) SessionOption {
	return func(s *Session) {
		s.window = window
	}
}

// WithRetryInterval makes a failed bootstrap retry on its own after interval.
// With a zero interval the session waits for Refresh.
func WithRetryInterval(interval time.Duration) SessionOption {
	return func(s *Session) {
		s.retryInterval = interval
	}
}

// WithUpdateBuffer sets how many live updates may be queued between the
// subscriber and the merge loop.
func WithUpdateBuffer(size int) SessionOption {
	return func(s *Session) {
		s.updateBuffer = size
	}
}

// WithClock overrides the time source used to compute the history window.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// WithRegisterer registers the session metrics with reg.
func WithRegisterer(reg prometheus.Registerer) SessionOption {
	return func(s *Session) {
		s.registerMetrics(reg)
	}
}

func NewSession(querier Querier, subscriber Subscriber, opts ...SessionOption) *Session {
	if subscriber == nil {
		subscriber = NopSubscriber
	}
	s := &Session{
		querier:      querier,
		subscriber:   subscriber,
		window:       DefaultWindow,
		updateBuffer: 64,
		now:          time.Now,
		snapshots:    NewBroadcaster[*Snapshot]("snapshots"),
		refreshC:     make(chan struct{}, 1),
	}
	s.registerMetrics(nil)

	for _, opt := range opts {
		opt(s)
	}

	s.current.Store(&Snapshot{Status: StatusLoading, Metrics: []string{}})
	return s
}

func (s *Session) registerMetrics(reg prometheus.Registerer) {
	f := promauto.With(reg)
	s.updatesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdash_live_updates_total",
			Help: "Total number of live updates received, by merge outcome.",
		},
		[]string{"outcome"},
	)
	s.bootstrapDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsdash_bootstrap_duration_seconds",
		Help:    "Time spent fetching and assembling the historical dataset.",
		Buckets: prometheus.DefBuckets,
	})
	s.bootstrapFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "opsdash_bootstrap_failures_total",
		Help: "Total number of failed bootstrap attempts.",
	})
	s.subscribeErrors = f.NewCounter(prometheus.CounterOpts{
		Name: "opsdash_subscription_errors_total",
		Help: "Total number of live subscriptions that ended with an error.",
	})
	s.seriesGauge = f.NewGauge(prometheus.GaugeOpts{
		Name: "opsdash_series",
		Help: "Number of series in the current collection.",
	})
	s.pointsGauge = f.NewGauge(prometheus.GaugeOpts{
		Name: "opsdash_points",
		Help: "Number of points across all series in the current collection.",
	})
}

// Current returns the last published snapshot.
func (s *Session) Current() *Snapshot {
	return s.current.Load()
}

// Snapshots registers an observer of published snapshots. The channel first
// yields the last published snapshot, then every newer one a slow reader has
// not skipped. It is closed after the session tears down or cancel is called.
func (s *Session) Snapshots() (<-chan *Snapshot, func()) {
	return s.snapshots.Subscribe()
}

// Refresh asks for a new bootstrap attempt. It only applies while the session
// has not bootstrapped yet.
func (s *Session) Refresh() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if s.Current().Ready() {
		return ErrAlreadyBootstrapped
	}
	select {
	case s.refreshC <- struct{}{}:
	default:
	}
	return nil
}

// Run drives the session until ctx is done. It returns nil on cancellation;
// transport failures are published as state, never returned.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("session already running")
	}
	s.running = true
	s.mu.Unlock()

	defer s.teardown()

	engine, metrics, ok := s.bootstrap(ctx)
	if !ok {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updatesC := make(chan Measurement, s.updateBuffer)
	subDone := make(chan error, 1)
	go func() {
		subDone <- s.subscriber.Subscribe(subCtx, func(m Measurement) {
			select {
			case updatesC <- m:
			case <-subCtx.Done():
			}
		})
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			if subDone != nil {
				<-subDone
			}
			return nil
		case err := <-subDone:
			subDone = nil
			if err != nil && ctx.Err() == nil {
				s.subscribeErrors.Inc()
				slog.Error("live subscription ended, keeping last state", "err", err)
			}
		case m := <-updatesC:
			s.apply(engine, metrics, m)
		}
	}
}

func (s *Session) bootstrap(ctx context.Context) (*Engine, []string, bool) {
	for {
		start := time.Now()
		series, latest, metrics, err := Bootstrap(ctx, s.querier, s.window, s.now())
		s.bootstrapDuration.Observe(time.Since(start).Seconds())
		if ctx.Err() != nil {
			return nil, nil, false
		}

		if err == nil {
			engine := NewEngine(series, latest)
			slog.Info("dashboard bootstrapped", "metrics", len(metrics), "points", series.Points())
			s.publish(StatusReady, metrics, engine, nil)
			return engine, metrics, true
		}

		s.bootstrapFailures.Inc()
		slog.Error("unable to bootstrap dashboard", "err", err)
		s.publish(StatusFailed, []string{}, nil, err)

		if !s.waitForRetry(ctx) {
			return nil, nil, false
		}
		s.publish(StatusLoading, []string{}, nil, nil)
	}
}

func (s *Session) waitForRetry(ctx context.Context) bool {
	var retry <-chan time.Time
	if s.retryInterval > 0 {
		t := time.NewTimer(s.retryInterval)
		defer t.Stop()
		retry = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.refreshC:
		return true
	case <-retry:
		return true
	}
}

func (s *Session) apply(engine *Engine, metrics []string, m Measurement) {
	outcome := engine.Apply(m)
	s.updatesTotal.WithLabelValues(outcome.String()).Inc()

	switch outcome {
	case OutcomeApplied:
		s.publish(StatusReady, metrics, engine, nil)
	case OutcomeDuplicate:
		slog.Debug("dropping duplicate update", "metric", m.Metric, "at", m.At)
	case OutcomeUnknownMetric:
		slog.Debug("dropping update", "err", outcome.Err(), "metric", m.Metric)
	case OutcomeMalformed:
		slog.Warn("dropping update", "err", outcome.Err(), "metric", m.Metric, "value", m.Value)
	}
}

func (s *Session) publish(status Status, metrics []string, engine *Engine, err error) {
	s.version++
	snap := &Snapshot{
		Version: s.version,
		Status:  status,
		Metrics: metrics,
		Series:  Collection{},
		Latest:  LatestTable{},
		Err:     err,
	}
	if engine != nil {
		snap.Series = engine.Series()
		snap.Latest = engine.Latest()
	}
	s.seriesGauge.Set(float64(len(snap.Series)))
	s.pointsGauge.Set(float64(snap.Series.Points()))

	s.current.Store(snap)
	s.snapshots.Publish(snap)
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	prev := s.Current()
	s.version++
	snap := &Snapshot{
		Version: s.version,
		Status:  StatusClosed,
		Metrics: prev.Metrics,
		Series:  prev.Series,
		Latest:  prev.Latest,
	}
	s.current.Store(snap)
	s.snapshots.Publish(snap)
	s.snapshots.Close()
	slog.Info("dashboard session closed")
}
