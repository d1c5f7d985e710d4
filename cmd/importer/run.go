package importer

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source"
	"github.com/nicolastakashi/opsdash/internal/source/sqlstore"
)

const maxLineSize = 1 << 20

var (
	inputPath string
	batchSize int
)

func RegisterFlags(fs *flag.FlagSet, configFile *string) {
	fs.StringVar(configFile, "config-file", "", "Path to the configuration file, it takes precedence over the command line flags.")
	fs.StringVar(&inputPath, "input", "-", "Newline-delimited JSON measurements to import, - reads stdin.")
	fs.IntVar(&batchSize, "batch-size", 500, "Number of measurements written per transaction.")
	config.RegisterSQLFlags(fs)
}

type measurementWriter interface {
	Metrics(ctx context.Context) ([]string, error)
	UpsertMetrics(ctx context.Context, names []string) error
	Insert(ctx context.Context, ms []dashboard.Measurement) error
}

type result struct {
	Imported  int
	Malformed int
	Metrics   int
}

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in := io.Reader(os.Stdin)
	if inputPath != "-" {
		f, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	store, err := sqlstore.Open(ctx, config.DefaultConfig.History.SQL)
	if err != nil {
		slog.Error("unable to open measurement store", "err", err)
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("error closing measurement store", "err", err)
		}
	}()

	res, err := importMeasurements(ctx, in, store, batchSize)
	slog.Info("import finished", "imported", res.Imported, "malformed", res.Malformed, "metrics", res.Metrics)
	return err
}

// importMeasurements reads one envelope per line and writes the measurements
// in batches. Metrics are registered in first-seen order after the ones
// already known to the store. Malformed lines are skipped.
func importMeasurements(ctx context.Context, r io.Reader, w measurementWriter, size int) (result, error) {
	var res result
	if size <= 0 {
		size = 1
	}

	metrics, err := w.Metrics(ctx)
	if err != nil {
		return res, fmt.Errorf("list metrics: %w", err)
	}
	known := len(metrics)

	batch := make([]dashboard.Measurement, 0, size)
	flush := func() error {
		if len(metrics) > known {
			if err := w.UpsertMetrics(ctx, metrics); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}
			known = len(metrics)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := w.Insert(ctx, batch); err != nil {
			return fmt.Errorf("insert measurements: %w", err)
		}
		res.Imported += len(batch)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		m, err := source.DecodeMeasurement(scanner.Bytes())
		if err != nil {
			res.Malformed++
			slog.Warn("skipping malformed measurement", "line", line, "err", err)
			continue
		}
		if !slices.Contains(metrics, m.Metric) {
			metrics = append(metrics, m.Metric)
		}
		batch = append(batch, m)
		if len(batch) >= size {
			if err := flush(); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return res, fmt.Errorf("read input: %w", err)
	}
	if err := flush(); err != nil {
		return res, err
	}
	res.Metrics = len(metrics)
	return res, nil
}
