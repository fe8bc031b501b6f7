package config

import "time"

// Default values for configuration fields.
const (
	// Scheduler defaults
	DefaultMaxWorkersPerResource = 4
	DefaultRetryDelay            = 100 * time.Millisecond
	DefaultShutdownTimeout       = 30 * time.Second

	// Rate limit defaults
	DefaultRateLimitWindow = 60 * time.Second

	// Storage defaults
	DefaultStorageBackend           = "memory"
	DefaultStorageSQLitePath        = "data/usage.db"
	DefaultStorageSQLiteBusyTimeout = 5 * time.Second
	DefaultStorageSQLiteCheckpoint  = 5 * time.Minute
	DefaultStorageRedisAddr         = "localhost:6379"
	DefaultStorageRedisKeyPrefix    = "bulkllm:usage"
	DefaultStorageMemoryMaxEntries  = 100000
	DefaultStorageRetention         = 24 * time.Hour
	DefaultStoragePruneSchedule     = "@every 10m"
	DefaultStorageJournalBuffer     = 1024

	// Catalog defaults
	DefaultCatalogCacheTTL = 10 * time.Minute

	// Estimation defaults
	DefaultEstimationKey          = "default"
	DefaultCharsPerToken          = 4.0
	DefaultAnthropicCharsPerToken = 3.5
	DefaultMinCompletionTokens    = 100
	DefaultMaxCompletionTokens    = 1000

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "text"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "bulkllm"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "bulkllm"
	DefaultTracingTimeout     = 10 * time.Second
)

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Scheduler defaults
	if cfg.Scheduler.MaxWorkersPerResource == 0 {
		cfg.Scheduler.MaxWorkersPerResource = DefaultMaxWorkersPerResource
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = DefaultRetryDelay
	}
	if cfg.Scheduler.ShutdownTimeout == 0 {
		cfg.Scheduler.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Rate limit defaults
	if cfg.RateLimits.Window == 0 {
		cfg.RateLimits.Window = DefaultRateLimitWindow
	}
	for i := range cfg.RateLimits.Rules {
		rule := &cfg.RateLimits.Rules[i]
		if rule.Name == "" && len(rule.Patterns) > 0 {
			rule.Name = rule.Patterns[0]
		}
	}

	applyStorageDefaults(&cfg.Storage)

	// Catalog defaults
	if cfg.Catalog.CacheTTL == 0 {
		cfg.Catalog.CacheTTL = DefaultCatalogCacheTTL
	}

	// Estimation defaults
	if cfg.Estimation.CharsPerToken == nil {
		cfg.Estimation.CharsPerToken = map[string]float64{
			DefaultEstimationKey: DefaultCharsPerToken,
			"anthropic/":         DefaultAnthropicCharsPerToken,
		}
	}
	if cfg.Estimation.MinCompletionTokens == 0 {
		cfg.Estimation.MinCompletionTokens = DefaultMinCompletionTokens
	}
	if cfg.Estimation.MaxCompletionTokens == 0 {
		cfg.Estimation.MaxCompletionTokens = DefaultMaxCompletionTokens
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStorageBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultStorageSQLitePath
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultStorageSQLiteBusyTimeout
	}
	if cfg.SQLite.CheckpointInterval == 0 {
		cfg.SQLite.CheckpointInterval = DefaultStorageSQLiteCheckpoint
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultStorageRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultStorageRedisKeyPrefix
	}
	if cfg.Memory.MaxEntries == 0 {
		cfg.Memory.MaxEntries = DefaultStorageMemoryMaxEntries
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultStorageRetention
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = DefaultStoragePruneSchedule
	}
	if cfg.JournalBuffer == 0 {
		cfg.JournalBuffer = DefaultStorageJournalBuffer
	}
}
