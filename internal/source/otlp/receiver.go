package otlp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	metricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	otlpmetrics "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source"
)

const sourceName = "otlp"

// Receiver is an OTLP/gRPC metrics endpoint that turns every gauge and sum
// number data point into a live measurement.
type Receiver struct {
	metricspb.UnimplementedMetricsServiceServer

	listenAddress   string
	listener        net.Listener
	gracefulTimeout time.Duration
	metrics         *source.Metrics

	mu sync.Mutex
	fn func(dashboard.Measurement)

	health *health.Server
}

type Option func(*Receiver)

// WithListener serves on lis instead of listening on the configured address.
func WithListener(lis net.Listener) Option {
	return func(r *Receiver) {
		r.listener = lis
	}
}

// WithGracefulTimeout bounds how long in-flight exports may take on shutdown.
func WithGracefulTimeout(d time.Duration) Option {
	return func(r *Receiver) {
		r.gracefulTimeout = d
	}
}

// WithMetrics records received and dropped points.
func WithMetrics(m *source.Metrics) Option {
	return func(r *Receiver) {
		r.metrics = m
	}
}

func NewReceiver(listenAddress string, opts ...Option) *Receiver {
	r := &Receiver{
		listenAddress:   listenAddress,
		gracefulTimeout: 30 * time.Second,
		health:          health.NewServer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// Subscribe serves OTLP exports until ctx is done, delivering each data point
// to fn.
func (r *Receiver) Subscribe(ctx context.Context, fn func(dashboard.Measurement)) error {
	lis := r.listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", r.listenAddress)
		if err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.fn = nil
		r.mu.Unlock()
	}()

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAgeGrace: 30 * time.Second,
			Time:                  2 * time.Minute,
			Timeout:               20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             1 * time.Minute,
			PermitWithoutStream: true,
		}),
	)
	metricspb.RegisterMetricsServiceServer(grpcServer, r)
	healthpb.RegisterHealthServer(grpcServer, r.health)
	reflection.Register(grpcServer)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	slog.Info("otlp receiver listening", "addr", lis.Addr())

	select {
	case <-ctx.Done():
		r.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownDone := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(r.gracefulTimeout):
			grpcServer.Stop()
		}
		return nil
	case err := <-serveErrCh:
		r.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}
}

// IsReady reports whether the receiver accepts exports.
func (r *Receiver) IsReady(ctx context.Context) bool {
	resp, err := r.health.Check(ctx, &healthpb.HealthCheckRequest{})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (r *Receiver) Export(ctx context.Context, req *metricspb.ExportMetricsServiceRequest) (*metricspb.ExportMetricsServiceResponse, error) {
	ms, rejected := Measurements(req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fn == nil {
		return nil, status.Error(codes.Unavailable, "receiver is not subscribed")
	}
	for range rejected {
		r.metrics.Received(sourceName)
		r.metrics.Malformed(sourceName)
	}
	for _, m := range ms {
		r.metrics.Received(sourceName)
		r.fn(m)
	}

	resp := &metricspb.ExportMetricsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &metricspb.ExportMetricsPartialSuccess{
			RejectedDataPoints: rejected,
			ErrorMessage:       "only gauge and sum number data points are accepted",
		}
	}
	return resp, nil
}

// Measurements flattens the gauge and sum number data points of req in
// request order. It also returns how many data points were rejected.
func Measurements(req *metricspb.ExportMetricsServiceRequest) ([]dashboard.Measurement, int64) {
	var (
		out      []dashboard.Measurement
		rejected int64
	)
	for _, rm := range req.GetResourceMetrics() {
		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				var points []*otlpmetrics.NumberDataPoint
				switch data := m.GetData().(type) {
				case *otlpmetrics.Metric_Gauge:
					points = data.Gauge.GetDataPoints()
				case *otlpmetrics.Metric_Sum:
					points = data.Sum.GetDataPoints()
				default:
					rejected += int64(countDataPoints(m))
					continue
				}
				if m.GetName() == "" {
					rejected += int64(len(points))
					continue
				}
				for _, dp := range points {
					v, ok := numberValue(dp)
					if !ok {
						rejected++
						continue
					}
					out = append(out, dashboard.Measurement{
						Metric: m.GetName(),
						At:     int64(dp.GetTimeUnixNano() / uint64(time.Millisecond)),
						Value:  v,
						Unit:   m.GetUnit(),
					})
				}
			}
		}
	}
	return out, rejected
}

func numberValue(dp *otlpmetrics.NumberDataPoint) (float64, bool) {
	switch v := dp.GetValue().(type) {
	case *otlpmetrics.NumberDataPoint_AsDouble:
		return v.AsDouble, true
	case *otlpmetrics.NumberDataPoint_AsInt:
		return float64(v.AsInt), true
	default:
		return 0, false
	}
}

func countDataPoints(m *otlpmetrics.Metric) int {
	switch data := m.GetData().(type) {
	case *otlpmetrics.Metric_Histogram:
		return len(data.Histogram.GetDataPoints())
	case *otlpmetrics.Metric_ExponentialHistogram:
		return len(data.ExponentialHistogram.GetDataPoints())
	case *otlpmetrics.Metric_Summary:
		return len(data.Summary.GetDataPoints())
	default:
		return 0
	}
}
