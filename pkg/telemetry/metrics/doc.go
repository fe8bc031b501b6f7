// Package metrics serves the Prometheus registry that the limits and
// scheduler packages register their collectors with.
//
//	reg := metrics.NewRegistry("bulkllm", build)
//	limitsMetrics := limits.NewMetrics(reg, "bulkllm")
//	srv := metrics.NewServer(cfg.Telemetry.Metrics, reg, checker, build, logger)
//	addr, err := srv.Start()
package metrics
