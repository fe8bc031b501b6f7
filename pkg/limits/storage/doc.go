// Package storage provides persistence backends for the usage journal.
//
// # Overview
//
// Every reservation finalized with recorded usage becomes a Record. The
// journal lets a restarted process restore the rolling window of each rule
// and feeds usage reports. Implementations:
//
//   - Memory: Fast in-memory storage (default, no persistence)
//   - SQLite: File-based persistence for a single instance
//   - Redis: Shared journal for several instances
//
// # Usage
//
//	backend := storage.NewMemoryBackend()
//	defer backend.Close()
//
//	err := backend.Append(ctx, &storage.Record{
//	    ID:           res.ID(),
//	    Rule:         "gpt-4o",
//	    InputTokens:  1200,
//	    OutputTokens: 300,
//	    CompletedAt:  time.Now(),
//	})
//
//	recent, err := backend.LoadSince(ctx, time.Now().Add(-time.Minute))
//
// Open selects the backend named by the storage section of the
// configuration. RetentionScheduler prunes old records on a cron schedule.
//
// # Thread Safety
//
// All storage backends are thread-safe and support concurrent access
// from multiple goroutines. Locking is handled internally by each backend.
package storage
