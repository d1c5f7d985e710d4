package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thanos-io/thanos/pkg/tracing/otlp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/nicolastakashi/opsdash/internal/config"
)

// kitLogger adapts slog to the go-kit logger the thanos exporter expects.
type kitLogger struct {
	logger *slog.Logger
}

func (kl *kitLogger) Log(keyvals ...interface{}) error {
	kl.logger.Log(context.Background(), slog.LevelInfo, "", keyvals...)
	return nil
}

// WithTracing installs a global tracer provider built from the tracing
// section of cfg. Callers shut the provider down on exit.
func WithTracing(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*trace.TracerProvider, error) {
	tracingCfg := *cfg.Tracing
	tracingCfg.ServiceName = cfg.GetTracingServiceName()

	b, err := yaml.Marshal(tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal tracing config: %w", err)
	}

	tp, err := otlp.NewTracerProvider(ctx, &kitLogger{logger: logger}, b)
	if err != nil {
		return nil, fmt.Errorf("unable to create tracer provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	return tp, nil
}
