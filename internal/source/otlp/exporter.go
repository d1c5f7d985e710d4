package otlp

import (
	"context"
	"fmt"
	"time"

	metricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	otlpmetrics "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

// Exporter sends measurements to an OTLP/gRPC metrics endpoint, one gauge
// data point per measurement.
type Exporter struct {
	conn   *grpc.ClientConn
	client metricspb.MetricsServiceClient
}

// NewExporter dials target without transport security. Extra dial options
// are applied after the defaults.
func NewExporter(target string, opts ...grpc.DialOption) (*Exporter, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Exporter{conn: conn, client: metricspb.NewMetricsServiceClient(conn)}, nil
}

func (e *Exporter) Publish(ctx context.Context, m dashboard.Measurement) error {
	resp, err := e.client.Export(ctx, ExportRequest(m))
	if err != nil {
		return fmt.Errorf("export %q: %w", m.Metric, err)
	}
	if rejected := resp.GetPartialSuccess().GetRejectedDataPoints(); rejected > 0 {
		return fmt.Errorf("export %q: %d data points rejected: %s", m.Metric, rejected, resp.GetPartialSuccess().GetErrorMessage())
	}
	return nil
}

func (e *Exporter) Close() error {
	return e.conn.Close()
}

// ExportRequest wraps m in a single gauge data point.
func ExportRequest(m dashboard.Measurement) *metricspb.ExportMetricsServiceRequest {
	return &metricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*otlpmetrics.ResourceMetrics{{
			ScopeMetrics: []*otlpmetrics.ScopeMetrics{{
				Metrics: []*otlpmetrics.Metric{{
					Name: m.Metric,
					Unit: m.Unit,
					Data: &otlpmetrics.Metric_Gauge{Gauge: &otlpmetrics.Gauge{
						DataPoints: []*otlpmetrics.NumberDataPoint{{
							TimeUnixNano: uint64(m.At) * uint64(time.Millisecond),
							Value:        &otlpmetrics.NumberDataPoint_AsDouble{AsDouble: m.Value},
						}},
					}},
				}},
			}},
		}},
	}
}
