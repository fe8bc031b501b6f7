package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mercator-hq/bulkllm/pkg/config"
)

// Open creates the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.StorageBackendMemory, "":
		return NewMemoryBackendWithConfig(MemoryBackendConfig{
			MaxEntries:      cfg.Memory.MaxEntries,
			RetentionPeriod: cfg.Retention,
		}), nil

	case config.StorageBackendSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create journal directory: %w", err)
			}
		}
		b, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
			DBPath:             cfg.SQLite.Path,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	case config.StorageBackendRedis:
		b, err := NewRedisBackendWithConfig(ctx, RedisBackendConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
