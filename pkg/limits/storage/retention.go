package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig configures journal pruning.
type RetentionConfig struct {
	// Retention is how long records are kept.
	Retention time.Duration

	// Schedule is a cron expression or descriptor such as "@every 10m".
	// Empty disables scheduled pruning.
	Schedule string
}

// RetentionScheduler prunes a Backend on a cron schedule.
type RetentionScheduler struct {
	backend Backend
	config  RetentionConfig
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
	now     func() time.Time
}

// NewRetentionScheduler creates a retention scheduler for backend.
// A nil logger uses slog.Default.
func NewRetentionScheduler(backend Backend, cfg RetentionConfig, logger *slog.Logger) *RetentionScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionScheduler{
		backend: backend,
		config:  cfg,
		cron:    cron.New(),
		logger:  logger.With("component", "storage.retention"),
		now:     time.Now,
	}
}

// Start schedules pruning until Stop is called or ctx is done.
//
// Common schedules:
//   - "@every 10m"   - Every ten minutes
//   - "0 */6 * * *"  - Every 6 hours
//   - "0 3 * * *"    - Daily at 3 AM
//
// If Schedule is empty, Start does nothing.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" {
		s.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}
	if s.config.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", s.config.Retention)
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.runPruning(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		"schedule", s.config.Schedule,
		"retention", s.config.Retention,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Prune deletes records older than the retention period now.
func (s *RetentionScheduler) Prune(ctx context.Context) (int, error) {
	return s.backend.Cleanup(ctx, s.now().Add(-s.config.Retention))
}

func (s *RetentionScheduler) runPruning(ctx context.Context) {
	deleted, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled pruning failed", "error", err)
		return
	}

	if deleted > 0 {
		s.logger.Info("scheduled pruning completed", "deleted_count", deleted)
	} else {
		s.logger.Debug("scheduled pruning completed, no records deleted")
	}
}

// Stop stops the scheduler and waits for any running job to complete.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled pruning time, or nil when not scheduled.
func (s *RetentionScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
