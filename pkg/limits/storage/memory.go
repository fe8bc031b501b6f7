package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-memory storage.
// This is the default backend and provides fast access with no persistence.
// All data is lost when the process exits.
//
// MemoryBackend is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryBackend struct {
	// records is kept in append order; ids indexes it for de-duplication.
	records []*Record
	ids     map[string]struct{}

	// mu protects records and ids.
	mu sync.RWMutex

	// maxEntries bounds the journal; the oldest records are evicted first.
	maxEntries int

	done      chan struct{}
	closeOnce sync.Once
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxEntries is the maximum number of records to keep.
	// Default: 100,000
	MaxEntries int

	// CleanupInterval is how often to drop records older than RetentionPeriod.
	// Default: 1 minute
	CleanupInterval time.Duration

	// RetentionPeriod is how long records are kept.
	// Default: 24 hours
	RetentionPeriod time.Duration
}

// NewMemoryBackend creates a new in-memory storage backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a new in-memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.RetentionPeriod == 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}

	backend := &MemoryBackend{
		ids:        make(map[string]struct{}),
		maxEntries: cfg.MaxEntries,
		done:       make(chan struct{}),
	}

	go backend.cleanupLoop(cfg.CleanupInterval, cfg.RetentionPeriod)

	return backend
}

// Append stores a record.
func (m *MemoryBackend) Append(_ context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[rec.ID]; ok {
		return nil
	}
	if len(m.records) >= m.maxEntries {
		m.evictOldestLocked()
	}

	cp := *rec
	m.records = append(m.records, &cp)
	m.ids[rec.ID] = struct{}{}
	return nil
}

// LoadSince returns records completed after since.
func (m *MemoryBackend) LoadSince(_ context.Context, since time.Time) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, rec := range m.records {
		if rec.CompletedAt.After(since) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortRecords(out)
	return out, nil
}

// Cleanup removes records completed before olderThan.
func (m *MemoryBackend) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	deleted := 0
	for _, rec := range m.records {
		if rec.CompletedAt.Before(olderThan) {
			delete(m.ids, rec.ID)
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	for i := len(kept); i < len(m.records); i++ {
		m.records[i] = nil
	}
	m.records = kept
	return deleted, nil
}

// Len returns the number of stored records.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close stops the cleanup goroutine. Close is idempotent.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

// evictOldestLocked removes the first appended record. Records arrive in
// near completion order, so it is the oldest one.
// Caller must hold write lock.
func (m *MemoryBackend) evictOldestLocked() {
	if len(m.records) == 0 {
		return
	}
	delete(m.ids, m.records[0].ID)
	m.records[0] = nil
	m.records = m.records[1:]
}

func (m *MemoryBackend) cleanupLoop(interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Cleanup(context.Background(), time.Now().Add(-retention))
		case <-m.done:
			return
		}
	}
}
