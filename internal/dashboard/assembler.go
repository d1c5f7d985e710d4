package dashboard

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultWindow is how far back the historical dataset reaches.
const DefaultWindow = 30 * time.Minute

// Assemble builds the initial collection and latest table from the metric list
// and the historical batches. Series follow the order of metrics; a batch for a
// metric that is not in the list is ignored. Duplicate and empty names are
// skipped so each metric owns exactly one series.
//
// The latest table starts zeroed for every metric. It is only filled by live
// updates.
func Assemble(metrics []string, batches []MetricBatch) (Collection, LatestTable) {
	byMetric := make(map[string][]Measurement, len(batches))
	for _, b := range batches {
		if _, ok := byMetric[b.Metric]; ok {
			continue
		}
		byMetric[b.Metric] = b.Measurements
	}

	series := make(Collection, 0, len(metrics))
	latest := make(LatestTable, 0, len(metrics))
	seen := make(map[string]struct{}, len(metrics))

	for _, name := range metrics {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		ms := byMetric[name]
		s := &Series{
			Name:   name,
			Points: make([]Point, 0, len(ms)),
			Color:  PaletteColor(len(series)),
		}
		for _, m := range ms {
			s.Points = append(s.Points, Point{At: m.At, Value: m.Value})
		}
		if len(ms) > 0 {
			s.Axis = AxisForUnit(ms[0].Unit)
			s.axisFixed = true
		}

		series = append(series, s)
		latest = append(latest, Measurement{Metric: name})
	}

	return series, latest
}

// Bootstrap fetches the metric list and the history of each metric after
// now-window, then assembles them. The lower bound is computed once and shared
// by every request. Fetch errors are returned as they are.
func Bootstrap(ctx context.Context, q Querier, window time.Duration, now time.Time) (Collection, LatestTable, []string, error) {
	ctx, span := otel.Tracer("dashboard").Start(ctx, "bootstrap")
	defer span.End()

	metrics, err := q.Metrics(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, nil, nil, fmt.Errorf("fetch metrics: %w", err)
	}
	span.SetAttributes(attribute.Int("metrics", len(metrics)))

	if len(metrics) == 0 {
		series, latest := Assemble(nil, nil)
		return series, latest, []string{}, nil
	}

	after := now.Add(-window)
	reqs := make([]HistoryRequest, 0, len(metrics))
	for _, name := range metrics {
		reqs = append(reqs, HistoryRequest{Metric: name, After: after})
	}

	batches, err := q.Measurements(ctx, reqs)
	if err != nil {
		span.RecordError(err)
		return nil, nil, nil, fmt.Errorf("fetch measurements: %w", err)
	}

	series, latest := Assemble(metrics, batches)
	return series, latest, series.Names(), nil
}
