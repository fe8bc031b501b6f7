// Package telemetry assembles logging, tracing, metrics and health probes
// from the telemetry section of the configuration.
//
//	tel, err := telemetry.New(cfg.Telemetry, build)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Subpackages can be used on their own:
//
//   - logging: slog based structured logging with run, task and trace fields
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//   - metrics: Prometheus registry and HTTP exposition
//   - health: liveness and readiness probes
package telemetry
