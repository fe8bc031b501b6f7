package config

import "time"

// Config is the root configuration structure for bulkllm.
// It contains the scheduler, rate limit rules, usage journal storage,
// resource catalog, and telemetry settings.
type Config struct {
	// Scheduler contains per-resource worker pool settings.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// RateLimits contains the rolling window and the ordered rule list.
	RateLimits RateLimitsConfig `yaml:"rate_limits"`

	// Storage configures the usage journal backend and its retention.
	Storage StorageConfig `yaml:"storage"`

	// Catalog configures resource identifier resolution.
	Catalog CatalogConfig `yaml:"catalog"`

	// Estimation configures prompt token estimation.
	Estimation EstimationConfig `yaml:"estimation"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SchedulerConfig contains task runner configuration.
type SchedulerConfig struct {
	// MaxWorkersPerResource is the number of tasks that may run at once for
	// one resource when its rule sets no max_concurrent.
	// Default: 4
	MaxWorkersPerResource int `yaml:"max_workers_per_resource"`

	// RetryDelay is the longest a worker waits after a capacity rejection
	// before re-attempting admission. Release notifications cut it short.
	// Default: 100ms
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ShutdownTimeout bounds how long in-flight tasks may take to finish
	// during shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RateLimitsConfig contains rate limiting configuration.
type RateLimitsConfig struct {
	// Window is the rolling window length shared by all rules.
	// Default: 60s
	Window time.Duration `yaml:"window"`

	// Rules is the ordered rule list. Registration order breaks ties
	// between regex rules; exact pattern matches always win.
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig describes one rate limit rule.
// A nil limit means the dimension is unbounded.
type RuleConfig struct {
	// Name identifies the rule in logs, metrics, and the usage journal.
	// Default: the first pattern
	Name string `yaml:"name"`

	// Patterns are matched against resource identifiers.
	Patterns []string `yaml:"patterns"`

	// Regex treats patterns as regular expressions.
	// Default: false
	Regex bool `yaml:"regex"`

	// RequestsPerWindow limits admitted requests per window.
	RequestsPerWindow *int64 `yaml:"requests_per_window"`

	// TotalTokensPerWindow limits input plus output tokens per window.
	TotalTokensPerWindow *int64 `yaml:"total_tokens_per_window"`

	// InputTokensPerWindow limits input tokens per window.
	InputTokensPerWindow *int64 `yaml:"input_tokens_per_window"`

	// OutputTokensPerWindow limits output tokens per window.
	OutputTokensPerWindow *int64 `yaml:"output_tokens_per_window"`

	// MaxConcurrent overrides scheduler.max_workers_per_resource for
	// resources matched by this rule. 0 means use the scheduler default.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Storage backend names.
const (
	StorageBackendMemory = "memory"
	StorageBackendSQLite = "sqlite"
	StorageBackendRedis  = "redis"
)

// StorageConfig configures the usage journal.
type StorageConfig struct {
	// Backend specifies the storage backend to use.
	// Options: "memory", "sqlite", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Redis contains Redis-specific configuration.
	Redis RedisConfig `yaml:"redis"`

	// Memory contains memory backend configuration.
	Memory MemoryConfig `yaml:"memory"`

	// Retention is how long journal records are kept.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is the cron expression for journal pruning.
	// Default: "@every 10m"
	PruneSchedule string `yaml:"prune_schedule"`

	// JournalBuffer is the number of records queued for asynchronous writes.
	// Records are dropped with a warning when the buffer is full.
	// Default: 1024
	JournalBuffer int `yaml:"journal_buffer"`

	// InstanceID labels journal records written by this process.
	InstanceID string `yaml:"instance_id"`
}

// SQLiteConfig contains SQLite storage configuration.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	// Default: "data/usage.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// RedisConfig contains Redis storage configuration.
type RedisConfig struct {
	// Addr is the Redis address.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password is the Redis password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// KeyPrefix namespaces journal keys.
	// Default: "bulkllm:usage"
	KeyPrefix string `yaml:"key_prefix"`
}

// MemoryConfig contains memory backend configuration.
type MemoryConfig struct {
	// MaxEntries is the maximum number of journal records to keep.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`
}

// CatalogConfig configures how external identifiers are resolved to
// resource identifiers.
type CatalogConfig struct {
	// AliasesFile is a YAML file mapping external identifiers to canonical
	// resource identifiers. Empty disables aliasing.
	AliasesFile string `yaml:"aliases_file"`

	// CacheTTL is how long resolved identifiers are cached.
	// Default: 10m
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Watch reloads the aliases file when it changes.
	// Default: false
	Watch bool `yaml:"watch"`
}

// EstimationConfig configures character-based token estimation.
type EstimationConfig struct {
	// CharsPerToken maps resource prefixes to characters per token. The
	// longest matching prefix wins; the "default" key applies otherwise.
	// Default: {"default": 4.0, "anthropic/": 3.5}
	CharsPerToken map[string]float64 `yaml:"chars_per_token"`

	// MinCompletionTokens is the smallest output estimate when the caller
	// gives no max tokens.
	// Default: 100
	MinCompletionTokens int64 `yaml:"min_completion_tokens"`

	// MaxCompletionTokens caps the output estimate when the caller gives no
	// max tokens.
	// Default: 1000
	MaxCompletionTokens int64 `yaml:"max_completion_tokens"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "text"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ListenAddress serves the Prometheus endpoint when set.
	// Example: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "bulkllm"
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "bulkllm"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
