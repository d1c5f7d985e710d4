package otlp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

func gauge(name, unit string, points ...*metricspb.NumberDataPoint) *metricspb.Metric {
	return &metricspb.Metric{
		Name: name,
		Unit: unit,
		Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{DataPoints: points}},
	}
}

func doublePoint(atMs int64, v float64) *metricspb.NumberDataPoint {
	return &metricspb.NumberDataPoint{
		TimeUnixNano: uint64(atMs) * uint64(time.Millisecond),
		Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: v},
	}
}

func exportRequest(metrics ...*metricspb.Metric) *colmetricspb.ExportMetricsServiceRequest {
	return &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{
			{ScopeMetrics: []*metricspb.ScopeMetrics{{Metrics: metrics}}},
		},
	}
}

func TestMeasurements(t *testing.T) {
	req := exportRequest(
		gauge("T1", "F", doublePoint(1000, 72), doublePoint(2000, 73)),
		&metricspb.Metric{
			Name: "P1",
			Unit: "PSI",
			Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{DataPoints: []*metricspb.NumberDataPoint{{
				TimeUnixNano: 3000 * uint64(time.Millisecond),
				Value:        &metricspb.NumberDataPoint_AsInt{AsInt: 30},
			}}}},
		},
		&metricspb.Metric{
			Name: "latency",
			Data: &metricspb.Metric_Histogram{Histogram: &metricspb.Histogram{
				DataPoints: []*metricspb.HistogramDataPoint{{}, {}},
			}},
		},
		gauge("", "F", doublePoint(1, 1)),
		gauge("H1", "%", &metricspb.NumberDataPoint{TimeUnixNano: 1}),
	)

	ms, rejected := Measurements(req)
	assert.Equal(t, []dashboard.Measurement{
		{Metric: "T1", At: 1000, Value: 72, Unit: "F"},
		{Metric: "T1", At: 2000, Value: 73, Unit: "F"},
		{Metric: "P1", At: 3000, Value: 30, Unit: "PSI"},
	}, ms)
	assert.Equal(t, int64(4), rejected)
}

type collector struct {
	mu  sync.Mutex
	got []dashboard.Measurement
}

func (c *collector) add(m dashboard.Measurement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, m)
}

func (c *collector) all() []dashboard.Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dashboard.Measurement(nil), c.got...)
}

func TestReceiver_ExportOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	r := NewReceiver("", WithListener(lis), WithGracefulTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	done := make(chan error, 1)
	go func() { done <- r.Subscribe(ctx, c.add) }()

	require.Eventually(t, func() bool { return r.IsReady(context.Background()) }, 2*time.Second, 5*time.Millisecond)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := colmetricspb.NewMetricsServiceClient(conn)
	resp, err := client.Export(context.Background(), exportRequest(
		gauge("T1", "F", doublePoint(1000, 72)),
		&metricspb.Metric{Name: "s", Data: &metricspb.Metric_Summary{Summary: &metricspb.Summary{
			DataPoints: []*metricspb.SummaryDataPoint{{}},
		}}},
	))
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.GetPartialSuccess().GetRejectedDataPoints())
	assert.Equal(t, []dashboard.Measurement{{Metric: "T1", At: 1000, Value: 72, Unit: "F"}}, c.all())

	cancel()
	require.NoError(t, <-done)
	assert.False(t, r.IsReady(context.Background()))
}

func TestReceiver_ExportBeforeSubscribe(t *testing.T) {
	r := NewReceiver(":0")
	_, err := r.Export(context.Background(), exportRequest(gauge("T1", "F", doublePoint(1, 1))))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestExporter_RoundTrip(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	r := NewReceiver("", WithListener(lis), WithGracefulTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	done := make(chan error, 1)
	go func() { done <- r.Subscribe(ctx, c.add) }()
	require.Eventually(t, func() bool { return r.IsReady(context.Background()) }, 2*time.Second, 5*time.Millisecond)

	e, err := NewExporter("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	)
	require.NoError(t, err)
	defer e.Close()

	want := []dashboard.Measurement{
		{Metric: "T1", At: 1000, Value: 72.5, Unit: "F"},
		{Metric: "H1", At: 2000, Value: 45, Unit: "%"},
	}
	for _, m := range want {
		require.NoError(t, e.Publish(context.Background(), m))
	}
	assert.Equal(t, want, c.all())

	cancel()
	require.NoError(t, <-done)
}
