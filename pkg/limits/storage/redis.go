package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on a Redis sorted set.
//
// Each record is stored as a JSON member scored by its completion time in
// milliseconds, so window loads and retention cleanup are range queries.
// Record IDs live in a companion set used to make Append idempotent.
type RedisBackend struct {
	client    redis.UniversalClient
	keyPrefix string
	owned     bool

	appendScript  *redis.Script
	cleanupScript *redis.Script
}

// RedisOption configures RedisBackend.
type RedisOption func(*RedisBackend)

// WithRedisKeyPrefix sets the key prefix (default: "bulkllm:usage").
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(r *RedisBackend) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// withOwnedClient makes Close also close the client.
func withOwnedClient() RedisOption {
	return func(r *RedisBackend) {
		r.owned = true
	}
}

// appendLua adds the member only when its ID is new.
const appendLua = `
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
	return 1
end
return 0
`

// cleanupLua removes members scored below ARGV[1] together with their IDs
// and returns the number removed.
const cleanupLua = `
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #members == 0 then
	return 0
end
for _, m in ipairs(members) do
	local ok, rec = pcall(cjson.decode, m)
	if ok and type(rec) == 'table' and rec['id'] then
		redis.call('SREM', KEYS[2], rec['id'])
	end
end
return redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
`

// NewRedisBackend wraps an existing client. The caller keeps ownership of
// the client.
func NewRedisBackend(client redis.UniversalClient, opts ...RedisOption) *RedisBackend {
	r := &RedisBackend{
		client:       client,
		keyPrefix:    "bulkllm:usage",
		appendScript:  redis.NewScript(appendLua),
		cleanupScript: redis.NewScript(cleanupLua),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RedisBackendConfig configures a RedisBackend that owns its client.
type RedisBackendConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisBackendWithConfig dials Redis and verifies the connection.
func NewRedisBackendWithConfig(ctx context.Context, cfg RedisBackendConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisBackend(client, WithRedisKeyPrefix(cfg.KeyPrefix), withOwnedClient()), nil
}

func (r *RedisBackend) recordsKey() string { return r.keyPrefix + ":records" }
func (r *RedisBackend) idsKey() string     { return r.keyPrefix + ":ids" }

// Append stores a record.
func (r *RedisBackend) Append(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	member, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	keys := []string{r.recordsKey(), r.idsKey()}
	score := strconv.FormatInt(rec.CompletedAt.UnixMilli(), 10)
	if err := r.appendScript.Run(ctx, r.client, keys, rec.ID, score, member).Err(); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// LoadSince returns records completed after since.
func (r *RedisBackend) LoadSince(ctx context.Context, since time.Time) ([]*Record, error) {
	members, err := r.client.ZRangeByScore(ctx, r.recordsKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	records := make([]*Record, 0, len(members))
	for _, m := range members {
		var rec Record
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		// Scores have millisecond resolution; filter precisely.
		if rec.CompletedAt.After(since) {
			records = append(records, &rec)
		}
	}
	sortRecords(records)
	return records, nil
}

// Cleanup removes records completed before olderThan. Members and their
// IDs are removed in one script so a concurrent Append never sees a
// half-pruned journal.
func (r *RedisBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	keys := []string{r.recordsKey(), r.idsKey()}
	upper := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)
	n, err := r.cleanupScript.Run(ctx, r.client, keys, upper).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}
	return n, nil
}

// Close closes the client when the backend created it.
func (r *RedisBackend) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
