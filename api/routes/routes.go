package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/metalmatze/signal/server/signalhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

const defaultKeepAlive = 15 * time.Second

type routes struct {
	mux *http.ServeMux

	session   *dashboard.Session
	view      *dashboard.View
	readiness []func(context.Context) bool
	keepAlive time.Duration

	streamClients prometheus.Gauge
}

type Option func(*routes)

func WithSession(session *dashboard.Session) Option {
	return func(r *routes) {
		r.session = session
	}
}

func WithView(view *dashboard.View) Option {
	return func(r *routes) {
		r.view = view
	}
}

// WithReadiness adds a check that must pass for /-/ready to report ready.
func WithReadiness(check func(context.Context) bool) Option {
	return func(r *routes) {
		if check != nil {
			r.readiness = append(r.readiness, check)
		}
	}
}

// WithKeepAlive sets the interval of comment lines sent on idle streams.
func WithKeepAlive(d time.Duration) Option {
	return func(r *routes) {
		r.keepAlive = d
	}
}

func WithHandlers(registry *prometheus.Registry, isTracingEnabled bool) Option {
	return func(r *routes) {
		i := signalhttp.NewHandlerInstrumenter(registry, []string{"handler"})
		instrument := func(name, pattern string, h http.HandlerFunc) http.Handler {
			var handler http.Handler = h
			if isTracingEnabled {
				handler = otelhttp.NewHandler(handler, pattern)
			}
			return i.NewHandler(prometheus.Labels{"handler": name}, handler)
		}

		r.streamClients = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "opsdash_stream_clients",
			Help: "Number of connected frame stream clients.",
		})

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("GET /-/healthy", r.healthy)
		mux.HandleFunc("GET /-/ready", r.ready)
		mux.Handle("GET /api/v1/metrics", instrument("metrics", "/api/v1/metrics", r.metrics))
		mux.Handle("GET /api/v1/series", instrument("series", "/api/v1/series", r.series))
		mux.Handle("GET /api/v1/latest", instrument("latest", "/api/v1/latest", r.latest))
		mux.Handle("GET /api/v1/selection", instrument("selection", "/api/v1/selection", r.selection))
		mux.Handle("PUT /api/v1/selection", instrument("set_selection", "/api/v1/selection", r.setSelection))
		mux.Handle("GET /api/v1/chart.png", instrument("chart", "/api/v1/chart.png", r.chart))
		mux.Handle("POST /api/v1/refresh", instrument("refresh", "/api/v1/refresh", r.refresh))
		// The stream is long lived; request duration histograms would only
		// measure client session length.
		mux.HandleFunc("GET /api/v1/stream", r.stream)
		r.mux = mux
	}
}

func NewRoutes(opts ...Option) (*routes, error) {
	r := &routes{
		mux:       http.NewServeMux(),
		keepAlive: defaultKeepAlive,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.session == nil {
		return nil, fmt.Errorf("a dashboard session is required")
	}
	if r.view == nil {
		return nil, fmt.Errorf("a dashboard view is required")
	}
	if r.streamClients == nil {
		r.streamClients = promauto.With(nil).NewGauge(prometheus.GaugeOpts{Name: "opsdash_stream_clients"})
	}
	return r, nil
}

func (r *routes) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func getQueryParamAsInt(req *http.Request, param string, defaultValue int) (int, error) {
	value := req.URL.Query().Get(param)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

func writeJSONResponse(req *http.Request, w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
		writeErrorResponse(req, w, fmt.Errorf("failed to encode response: %w", err), http.StatusInternalServerError)
		return
	}
}

func writeErrorResponse(r *http.Request, w http.ResponseWriter, err error, status int) {
	response := struct {
		Error   string `json:"error"`
		Code    int    `json:"code"`
		TraceID string `json:"traceId,omitempty"`
	}{
		Error: err.Error(),
		Code:  status,
	}
	if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.HasTraceID() {
		response.TraceID = sc.TraceID().String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err = json.NewEncoder(w).Encode(response)
	if err != nil {
		slog.Error("failed to encode JSON response", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (r *routes) healthy(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (r *routes) ready(w http.ResponseWriter, req *http.Request) {
	if !r.session.Current().Ready() {
		http.Error(w, "dashboard not bootstrapped", http.StatusServiceUnavailable)
		return
	}
	for _, check := range r.readiness {
		if !check(req.Context()) {
			http.Error(w, "live source not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}
