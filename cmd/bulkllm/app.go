package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"mercator-hq/bulkllm/pkg/catalog"
	"mercator-hq/bulkllm/pkg/cli"
	"mercator-hq/bulkllm/pkg/config"
	"mercator-hq/bulkllm/pkg/limits"
	"mercator-hq/bulkllm/pkg/limits/storage"
	"mercator-hq/bulkllm/pkg/scheduler"
	"mercator-hq/bulkllm/pkg/telemetry"
	"mercator-hq/bulkllm/pkg/telemetry/health"
	"mercator-hq/bulkllm/pkg/tokens"
)

// appOptions selects which parts of the runtime a command needs.
type appOptions struct {
	// journal opens the storage backend and restores the rolling windows.
	journal bool

	// background starts the metrics server, journal pruning and the alias
	// file watcher.
	background bool
}

// app is the assembled runtime shared by the commands.
type app struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  *slog.Logger
	backend storage.Backend
	manager *limits.Manager

	cache    *catalog.Cache
	aliases  *catalog.FileSource
	resolver catalog.Resolver

	estimator *tokens.Estimator

	retention        *storage.RetentionScheduler
	schedulerMetrics *scheduler.Metrics
	restored         int
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	tel, err := telemetry.New(cfg.Telemetry, buildInfo())
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	a = &app{
		cfg:       cfg,
		tel:       tel,
		logger:    tel.Slog(),
		resolver:  catalog.Identity,
		estimator: tokens.NewEstimator(cfg.Estimation),
	}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	var limitsMetrics *limits.Metrics
	if tel.MetricsEnabled() {
		limitsMetrics = limits.NewMetrics(tel.Registry, tel.Namespace())
		a.schedulerMetrics = scheduler.NewMetrics(tel.Registry, tel.Namespace())
	}

	if opts.journal {
		a.backend, err = storage.Open(ctx, cfg.Storage)
		if err != nil {
			return a, fmt.Errorf("failed to open usage journal: %w", err)
		}
		tel.Health.Register("journal", health.JournalCheck(a.backend))
	}

	instanceID := cfg.Storage.InstanceID
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}
	a.manager, err = limits.NewManager(limits.Config{
		RateLimits:    cfg.RateLimits,
		Storage:       a.backend,
		JournalBuffer: cfg.Storage.JournalBuffer,
		InstanceID:    instanceID,
		Metrics:       limitsMetrics,
		Logger:        a.logger,
	})
	if err != nil {
		return a, cli.NewConfigError(cfgFile, err)
	}

	if opts.journal {
		a.restored, err = a.manager.Restore(ctx)
		if err != nil {
			a.logger.Warn("usage journal restore failed, starting with empty windows", "error", err)
			err = nil
		}
	}

	if cfg.Catalog.AliasesFile != "" {
		a.aliases, err = catalog.NewFileSource(cfg.Catalog.AliasesFile, a.logger)
		if err != nil {
			return a, cli.NewConfigError(cfgFile, err)
		}
		a.cache = catalog.NewCache(cfg.Catalog.CacheTTL)
		a.resolver = catalog.NewCachedResolver(a.aliases, a.cache, a.logger)
	}

	if opts.background {
		if err = a.startBackground(ctx); err != nil {
			return a, err
		}
	}
	return a, nil
}

func (a *app) startBackground(ctx context.Context) error {
	if addr, err := a.tel.Serve(); err != nil {
		return err
	} else if addr != "" {
		a.logger.Info("metrics endpoint listening", "address", addr, "path", a.cfg.Telemetry.Metrics.Path)
	}

	if a.backend != nil && a.cfg.Storage.PruneSchedule != "" {
		a.retention = storage.NewRetentionScheduler(a.backend, storage.RetentionConfig{
			Retention: a.cfg.Storage.Retention,
			Schedule:  a.cfg.Storage.PruneSchedule,
		}, a.logger)
		if err := a.retention.Start(ctx); err != nil {
			return fmt.Errorf("failed to start journal pruning: %w", err)
		}
	}

	if a.aliases != nil && a.cfg.Catalog.Watch {
		go func() {
			if err := a.aliases.Watch(ctx, a.cache.Flush); err != nil {
				a.logger.Error("alias file watcher stopped", "error", err)
			}
		}()
	}
	return nil
}

// runner creates a scheduler runner over the manager's limiter.
func (a *app) runner(ctx context.Context) *scheduler.Runner {
	opts := scheduler.OptionsFromConfig(a.cfg.Scheduler)
	opts.Resolver = a.resolver
	opts.Metrics = a.schedulerMetrics
	opts.Tracer = a.tel.Tracer.Tracer()
	opts.Logger = a.logger
	opts.BaseContext = ctx
	return scheduler.NewRunner(a.manager.Limiter(), opts)
}

// close stops background work, flushes the journal and telemetry.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.retention != nil {
		a.retention.Stop()
	}
	if a.manager != nil {
		if err := a.manager.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("usage journal: %w", err))
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
