package limits

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/bulkllm/pkg/config"
	"mercator-hq/bulkllm/pkg/limits/ratelimit"
	"mercator-hq/bulkllm/pkg/limits/storage"
)

const journalWriteTimeout = 5 * time.Second

// Manager owns the rate limiter built from configuration and connects its
// ledger events to metrics and the usage journal.
//
// Journal writes happen on a background goroutine. A slow or failing
// backend never blocks or fails a reservation; records that do not fit in
// the buffer are dropped with a warning.
//
// # Example
//
//	manager, err := limits.NewManager(limits.Config{
//	    RateLimits: cfg.RateLimits,
//	    Storage:    backend,
//	    Metrics:    limits.NewMetrics(reg, "bulkllm"),
//	    Logger:     logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer manager.Close(ctx)
//
//	if _, err := manager.Restore(ctx); err != nil {
//	    logger.Warn("usage journal restore failed", "error", err)
//	}
//
//	rule := manager.Limiter().GetRule("gpt-4o")
type Manager struct {
	limiter *ratelimit.Limiter
	storage storage.Backend
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	instanceID string

	jmu     sync.RWMutex
	journal chan *storage.Record
	closed  bool
	done    chan struct{}
}

// Config contains configuration for the limits manager.
type Config struct {
	// RateLimits is the window and ordered rule list.
	RateLimits config.RateLimitsConfig

	// Storage is the usage journal. Nil disables journaling and restore.
	Storage storage.Backend

	// JournalBuffer is the number of records queued for the journal writer.
	// Default: 1024
	JournalBuffer int

	// InstanceID is attached to journal records as the "instance" label.
	InstanceID string

	// Metrics receives ledger events. Nil disables metrics.
	Metrics *Metrics

	// Logger is used for journal warnings. Default: slog.Default()
	Logger *slog.Logger

	// Clock overrides the rules' time source.
	Clock func() time.Time
}

// NewManager creates a manager and starts its journal writer when a
// storage backend is configured.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		storage:    cfg.Storage,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
		instanceID: cfg.InstanceID,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "limits.manager")
	if cfg.Clock != nil {
		m.now = cfg.Clock
	}

	limiter, err := NewLimiterFromConfig(cfg.RateLimits,
		ratelimit.WithObserver(m),
		ratelimit.WithClock(m.now),
	)
	if err != nil {
		return nil, err
	}
	m.limiter = limiter

	if m.storage != nil {
		size := cfg.JournalBuffer
		if size <= 0 {
			size = config.DefaultStorageJournalBuffer
		}
		m.journal = make(chan *storage.Record, size)
		m.done = make(chan struct{})
		go m.writeJournal()
	}

	return m, nil
}

// Limiter returns the rule registry.
func (m *Manager) Limiter() *ratelimit.Limiter {
	return m.limiter
}

// GetRule returns the rule governing a resource identifier.
func (m *Manager) GetRule(id string) *ratelimit.Rule {
	return m.limiter.GetRule(id)
}

// Missing returns the identifiers that only the default rule would govern.
func (m *Manager) Missing(ids []string) []string {
	return m.limiter.Unmatched(ids)
}

// Restore loads journal records completed inside each rule's window back
// into the rule. Records of rules that no longer exist are ignored.
// It returns the number of records restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.storage == nil {
		return 0, nil
	}

	rules := m.allRules()
	var longest time.Duration
	for _, r := range rules {
		if r.Window() > longest {
			longest = r.Window()
		}
	}

	records, err := m.storage.LoadSince(ctx, m.now().Add(-longest))
	if err != nil {
		m.metrics.RecordJournalError("load")
		return 0, fmt.Errorf("load usage journal: %w", err)
	}

	byRule := make(map[string][]ratelimit.UsageRecord)
	for _, rec := range records {
		byRule[rec.Rule] = append(byRule[rec.Rule], ratelimit.UsageRecord{
			Rule:          rec.Rule,
			ReservationID: rec.ID,
			InputTokens:   rec.InputTokens,
			OutputTokens:  rec.OutputTokens,
			CompletedAt:   rec.CompletedAt,
		})
	}

	total := 0
	for _, r := range rules {
		recs, ok := byRule[r.Name()]
		if !ok {
			continue
		}
		n := r.Restore(recs)
		m.metrics.RecordRestored(r.Name(), n)
		total += n
	}

	m.logger.Info("usage journal restored", "records", total, "loaded", len(records))
	return total, nil
}

// Snapshots returns the ledger state of every rule, default rule last.
func (m *Manager) Snapshots() []ratelimit.Snapshot {
	rules := m.allRules()
	out := make([]ratelimit.Snapshot, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Snapshot())
	}
	return out
}

// RefreshGauges updates the window utilization metrics of every rule.
func (m *Manager) RefreshGauges() {
	if m.metrics == nil {
		return
	}
	for _, s := range m.Snapshots() {
		m.metrics.UpdateUtilization(s)
	}
}

// Close stops accepting journal records and waits for queued records to be
// written or for ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	if m.journal == nil {
		return nil
	}

	m.jmu.Lock()
	if !m.closed {
		m.closed = true
		close(m.journal)
	}
	m.jmu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain usage journal: %w", ctx.Err())
	}
}

// ReservationAdmitted implements ratelimit.Observer.
func (m *Manager) ReservationAdmitted(rule string) {
	m.metrics.RecordAdmitted(rule)
}

// ReservationRejected implements ratelimit.Observer.
func (m *Manager) ReservationRejected(rule string, dim ratelimit.Dimension) {
	m.metrics.RecordRejected(rule, dim)
}

// ReservationCancelled implements ratelimit.Observer.
func (m *Manager) ReservationCancelled(rule string) {
	m.metrics.RecordCancelled(rule)
}

// UsageRecorded implements ratelimit.Observer. It queues the record for the
// journal without blocking.
func (m *Manager) UsageRecorded(rec ratelimit.UsageRecord) {
	m.metrics.RecordUsage(rec.Rule, rec.InputTokens, rec.OutputTokens)
	if m.journal == nil {
		return
	}

	r := &storage.Record{
		ID:           rec.ReservationID,
		Rule:         rec.Rule,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		CompletedAt:  rec.CompletedAt,
	}
	if m.instanceID != "" {
		r.Labels = map[string]string{"instance": m.instanceID}
	}

	m.jmu.RLock()
	defer m.jmu.RUnlock()
	if m.closed {
		m.metrics.RecordJournalError("closed")
		return
	}
	select {
	case m.journal <- r:
	default:
		m.metrics.RecordJournalError("dropped")
		m.logger.Warn("usage journal buffer full, dropping record",
			"rule", rec.Rule,
			"reservation_id", rec.ReservationID,
		)
	}
}

func (m *Manager) writeJournal() {
	defer close(m.done)
	for rec := range m.journal {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		err := m.storage.Append(ctx, rec)
		cancel()
		if err != nil {
			m.metrics.RecordJournalError("append")
			m.logger.Warn("failed to append usage record",
				"rule", rec.Rule,
				"reservation_id", rec.ID,
				"error", err,
			)
		}
	}
}

func (m *Manager) allRules() []*ratelimit.Rule {
	return append(m.limiter.Rules(), m.limiter.Default())
}
