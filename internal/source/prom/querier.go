package prom

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

// DefaultQueryTemplate selects the raw series of a metric.
const DefaultQueryTemplate = `{{.Metric}}`

// Querier reads the metric list and metric history from the Prometheus HTTP
// API.
type Querier struct {
	promAPI v1.API

	metrics  []string
	matchers []string
	query    *template.Template
	step     time.Duration
	units    map[string]string
	now      func() time.Time

	mu           sync.Mutex
	metadataUnit map[string]string
}

type Option func(*Querier)

// WithMetrics fixes the metric list instead of discovering it.
func WithMetrics(metrics []string) Option {
	return func(q *Querier) {
		q.metrics = metrics
	}
}

// WithMatchers restricts metric discovery to series matching any selector.
func WithMatchers(matchers []string) Option {
	return func(q *Querier) {
		q.matchers = matchers
	}
}

// WithStep sets the range query resolution.
func WithStep(step time.Duration) Option {
	return func(q *Querier) {
		q.step = step
	}
}

// WithUnits sets the unit reported for each metric. Metrics without an entry
// use the unit from the metadata API.
func WithUnits(units map[string]string) Option {
	return func(q *Querier) {
		q.units = units
	}
}

// WithClock overrides the range end time source.
func WithClock(now func() time.Time) Option {
	return func(q *Querier) {
		q.now = now
	}
}

// NewQuerier returns a querier for the Prometheus server at address. The
// range query is rendered from queryTemplate with {{.Metric}} set to each
// metric name.
func NewQuerier(address, queryTemplate string, opts ...Option) (*Querier, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return newQuerier(v1.NewAPI(client), queryTemplate, opts...)
}

func newQuerier(promAPI v1.API, queryTemplate string, opts ...Option) (*Querier, error) {
	if queryTemplate == "" {
		queryTemplate = DefaultQueryTemplate
	}
	tmpl, err := template.New("query").Option("missingkey=error").Parse(queryTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse query template: %w", err)
	}

	q := &Querier{
		promAPI:      promAPI,
		query:        tmpl,
		step:         15 * time.Second,
		now:          time.Now,
		metadataUnit: map[string]string{},
	}
	for _, opt := range opts {
		opt(q)
	}

	if _, err := q.render("up"); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Querier) render(metric string) (string, error) {
	var buf bytes.Buffer
	if err := q.query.Execute(&buf, struct{ Metric string }{Metric: metric}); err != nil {
		return "", fmt.Errorf("render query for %q: %w", metric, err)
	}
	expr := buf.String()
	if _, err := parser.NewParser(parser.Options{}).ParseExpr(expr); err != nil {
		return "", fmt.Errorf("invalid query for %q: %w", metric, err)
	}
	return expr, nil
}

func (q *Querier) Metrics(ctx context.Context) ([]string, error) {
	if len(q.metrics) > 0 {
		return q.metrics, nil
	}

	values, warnings, err := q.promAPI.LabelValues(ctx, model.MetricNameLabel, q.matchers, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list metric names: %w", err)
	}
	logWarnings("label values", warnings)

	metrics := make([]string, 0, len(values))
	for _, v := range values {
		metrics = append(metrics, string(v))
	}
	return metrics, nil
}

func (q *Querier) Measurements(ctx context.Context, reqs []dashboard.HistoryRequest) ([]dashboard.MetricBatch, error) {
	end := q.now()
	batches := make([]dashboard.MetricBatch, 0, len(reqs))
	for _, req := range reqs {
		ms, err := q.history(ctx, req, end)
		if err != nil {
			return nil, err
		}
		batches = append(batches, dashboard.MetricBatch{Metric: req.Metric, Measurements: ms})
	}
	return batches, nil
}

func (q *Querier) history(ctx context.Context, req dashboard.HistoryRequest, end time.Time) ([]dashboard.Measurement, error) {
	expr, err := q.render(req.Metric)
	if err != nil {
		return nil, err
	}

	result, warnings, err := q.promAPI.QueryRange(ctx, expr, v1.Range{Start: req.After, End: end, Step: q.step})
	if err != nil {
		return nil, fmt.Errorf("query range for %q: %w", req.Metric, err)
	}
	logWarnings("query range", warnings)

	matrix, ok := result.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("query range for %q: unexpected result type %s", req.Metric, result.Type())
	}
	if len(matrix) == 0 {
		return []dashboard.Measurement{}, nil
	}
	if len(matrix) > 1 {
		slog.Warn("query returned several series, using the first", "metric", req.Metric, "series", len(matrix))
	}

	unit := q.unit(ctx, req.Metric)
	values := matrix[0].Values
	ms := make([]dashboard.Measurement, 0, len(values))
	for _, v := range values {
		ms = append(ms, dashboard.Measurement{
			Metric: req.Metric,
			At:     int64(v.Timestamp),
			Value:  float64(v.Value),
			Unit:   unit,
		})
	}
	return ms, nil
}

func (q *Querier) unit(ctx context.Context, metric string) string {
	if u, ok := q.units[metric]; ok {
		return u
	}

	q.mu.Lock()
	u, ok := q.metadataUnit[metric]
	q.mu.Unlock()
	if ok {
		return u
	}

	// Concurrent misses for one metric may both ask; the answers agree.
	meta, err := q.promAPI.Metadata(ctx, metric, "1")
	if err != nil {
		slog.Debug("unable to fetch metric metadata", "metric", metric, "err", err)
		return ""
	}
	if entries := meta[metric]; len(entries) > 0 {
		u = entries[0].Unit
	}
	q.mu.Lock()
	q.metadataUnit[metric] = u
	q.mu.Unlock()
	return u
}

func logWarnings(op string, warnings v1.Warnings) {
	for _, w := range warnings {
		slog.Warn("prometheus returned a warning", "op", op, "warning", w)
	}
}
