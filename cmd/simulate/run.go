package simulate

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source/provider"
)

type options struct {
	interval         time.Duration
	duration         time.Duration
	backfill         time.Duration
	progressInterval time.Duration
	seed             uint64
}

var opts = options{
	interval:         time.Second,
	progressInterval: 10 * time.Second,
}

func RegisterFlags(fs *flag.FlagSet, configFile *string) {
	fs.StringVar(configFile, "config-file", "", "Path to the configuration file, it takes precedence over the command line flags.")
	fs.DurationVar(&opts.interval, "interval", opts.interval, "Time between two readings of every metric.")
	fs.DurationVar(&opts.duration, "duration", opts.duration, "Run duration (e.g., 30s, 5m, 1h). Zero runs until interrupted.")
	fs.DurationVar(&opts.backfill, "backfill", opts.backfill, "Emit readings covering this long a period before now first, for seeding a history store.")
	fs.DurationVar(&opts.progressInterval, "progress-interval", opts.progressInterval, "Progress reporting interval.")
	fs.Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "Random seed.")
	config.RegisterLiveFlags(fs)
}

type stats struct {
	published atomic.Int64
	failed    atomic.Int64
}

func (s *stats) log(msg string) {
	slog.Info(msg, "published", s.published.Load(), "failed", s.failed.Load())
}

type publisher interface {
	Publish(ctx context.Context, m dashboard.Measurement) error
}

func Run() error {
	if opts.interval <= 0 {
		return errors.New("interval must be positive")
	}

	pub, err := provider.NewPublisher(config.DefaultConfig.Live, os.Stdout)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			slog.Error("error closing publisher", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if opts.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	st := &stats{}
	gen := newGenerator(opts.seed, defaultSignals)

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return simulate(ctx, gen, pub, st, time.Now, opts.interval, opts.backfill)
		}, func(error) {
			cancel()
		})
	}
	if opts.progressInterval > 0 {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			t := time.NewTicker(opts.progressInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					st.log("simulation progress")
				}
			}
		}, func(error) {
			cancel()
		})
	}
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()
	st.log("simulation finished")
	if err == nil || errors.As(err, &run.SignalError{}) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// simulate publishes the backfill readings, then one reading per signal every
// interval until ctx is done. Publish failures are counted and skipped.
func simulate(ctx context.Context, gen *generator, pub publisher, st *stats, now func() time.Time, interval, backfill time.Duration) error {
	emit := func(t time.Time) {
		for _, m := range gen.next(t) {
			if err := pub.Publish(ctx, m); err != nil {
				if ctx.Err() != nil {
					return
				}
				st.failed.Add(1)
				slog.Debug("publish failed", "metric", m.Metric, "err", err)
				continue
			}
			st.published.Add(1)
		}
	}

	start := now()
	for t := start.Add(-backfill); t.Before(start); t = t.Add(interval) {
		if ctx.Err() != nil {
			return nil
		}
		emit(t)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		emit(now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
