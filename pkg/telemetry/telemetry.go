package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/bulkllm/pkg/config"
	"mercator-hq/bulkllm/pkg/telemetry/health"
	"mercator-hq/bulkllm/pkg/telemetry/logging"
	"mercator-hq/bulkllm/pkg/telemetry/metrics"
	"mercator-hq/bulkllm/pkg/telemetry/tracing"
)

// Telemetry holds the process-wide observability components.
type Telemetry struct {
	Logger   *logging.Logger
	Tracer   *tracing.Tracer
	Registry *prometheus.Registry
	Health   *health.Checker

	cfg    config.TelemetryConfig
	build  metrics.BuildInfo
	server *metrics.Server
}

// New creates the logger, tracer, registry and health checker. The metrics
// server is not started until Serve is called.
func New(cfg config.TelemetryConfig, build metrics.BuildInfo) (*Telemetry, error) {
	logger, err := logging.New(logging.FromConfig(cfg.Logging))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	tracer, err := tracing.New(cfg.Tracing, build.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	return &Telemetry{
		Logger:   logger,
		Tracer:   tracer,
		Registry: metrics.NewRegistry(cfg.Metrics.Namespace, build),
		Health:   health.New(0),
		cfg:      cfg,
		build:    build,
	}, nil
}

// Slog returns the process logger.
func (t *Telemetry) Slog() *slog.Logger {
	return t.Logger.Slog()
}

// MetricsEnabled reports whether collectors should be registered with
// Registry. When false, components run with nil metrics.
func (t *Telemetry) MetricsEnabled() bool {
	return t.cfg.Metrics.Enabled
}

// Namespace is the metric namespace.
func (t *Telemetry) Namespace() string {
	return t.cfg.Metrics.Namespace
}

// Serve starts the metrics and health endpoints when metrics are enabled
// and a listen address is configured. It returns the bound address, or ""
// when nothing was started.
func (t *Telemetry) Serve() (string, error) {
	if !t.cfg.Metrics.Enabled || t.cfg.Metrics.ListenAddress == "" {
		return "", nil
	}
	t.server = metrics.NewServer(t.cfg.Metrics, t.Registry, t.Health, t.build, t.Slog())
	return t.server.Start()
}

// Shutdown stops the metrics server and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	return errors.Join(errs...)
}
