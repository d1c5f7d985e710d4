package dashboard

import "context"

// Querier is the request/response side of the transport. Implementations own
// connection management, retries and timeouts.
type Querier interface {
	// Metrics returns the ordered list of metric names to display.
	Metrics(ctx context.Context) ([]string, error)
	// Measurements returns, for each request, the measurements of the metric
	// recorded after the requested time, in the order they should be plotted.
	Measurements(ctx context.Context, reqs []HistoryRequest) ([]MetricBatch, error)
}

// Subscriber is the push side of the transport.
type Subscriber interface {
	// Subscribe delivers live measurements to fn, one at a time, until ctx is
	// done or the stream fails. fn must not be called concurrently.
	Subscribe(ctx context.Context, fn func(Measurement)) error
}

// QuerierFunc adapts a pair of functions to the Querier interface.
type QuerierFunc struct {
	MetricsFunc      func(ctx context.Context) ([]string, error)
	MeasurementsFunc func(ctx context.Context, reqs []HistoryRequest) ([]MetricBatch, error)
}

func (q QuerierFunc) Metrics(ctx context.Context) ([]string, error) {
	return q.MetricsFunc(ctx)
}

func (q QuerierFunc) Measurements(ctx context.Context, reqs []HistoryRequest) ([]MetricBatch, error) {
	return q.MeasurementsFunc(ctx, reqs)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, fn func(Measurement)) error

func (f SubscriberFunc) Subscribe(ctx context.Context, fn func(Measurement)) error {
	return f(ctx, fn)
}

// NopSubscriber never delivers anything and returns when ctx is done.
var NopSubscriber Subscriber = SubscriberFunc(func(ctx context.Context, _ func(Measurement)) error {
	<-ctx.Done()
	return nil
})
