package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "rate_limits.rules[0].patterns").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateRateLimits(&cfg.RateLimits)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateCatalog(&cfg.Catalog)...)
	errs = append(errs, validateEstimation(&cfg.Estimation)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateScheduler(cfg *SchedulerConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxWorkersPerResource < 1 {
		errs = append(errs, FieldError{
			Field:   "scheduler.max_workers_per_resource",
			Message: "must be at least 1",
		})
	}
	if cfg.RetryDelay <= 0 {
		errs = append(errs, FieldError{
			Field:   "scheduler.retry_delay",
			Message: "must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "scheduler.shutdown_timeout",
			Message: "must not be negative",
		})
	}

	return errs
}

// validateRateLimits checks every rule. Configured limits must be positive;
// an absent limit means unbounded.
func validateRateLimits(cfg *RateLimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.Window <= 0 {
		errs = append(errs, FieldError{
			Field:   "rate_limits.window",
			Message: "window must be positive",
		})
	}

	names := make(map[string]int)
	for i, rule := range cfg.Rules {
		prefix := fmt.Sprintf("rate_limits.rules[%d]", i)

		if len(rule.Patterns) == 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".patterns",
				Message: "at least one pattern is required",
			})
		}
		for j, p := range rule.Patterns {
			if p == "" {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.patterns[%d]", prefix, j),
					Message: "pattern cannot be empty",
				})
				continue
			}
			if rule.Regex {
				if _, err := regexp.Compile(p); err != nil {
					errs = append(errs, FieldError{
						Field:   fmt.Sprintf("%s.patterns[%d]", prefix, j),
						Message: fmt.Sprintf("invalid regular expression: %v", err),
					})
				}
			}
		}

		if rule.Name != "" {
			if first, ok := names[rule.Name]; ok {
				errs = append(errs, FieldError{
					Field:   prefix + ".name",
					Message: fmt.Sprintf("duplicate rule name %q (also used by rules[%d])", rule.Name, first),
				})
			} else {
				names[rule.Name] = i
			}
		}

		limits := []struct {
			field string
			value *int64
		}{
			{"requests_per_window", rule.RequestsPerWindow},
			{"total_tokens_per_window", rule.TotalTokensPerWindow},
			{"input_tokens_per_window", rule.InputTokensPerWindow},
			{"output_tokens_per_window", rule.OutputTokensPerWindow},
		}
		for _, l := range limits {
			if l.value != nil && *l.value <= 0 {
				errs = append(errs, FieldError{
					Field:   prefix + "." + l.field,
					Message: "limit must be positive; omit it for no limit",
				})
			}
		}

		if rule.MaxConcurrent < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".max_concurrent",
				Message: "must not be negative",
			})
		}
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case StorageBackendMemory:
		if cfg.Memory.MaxEntries < 0 {
			errs = append(errs, FieldError{
				Field:   "storage.memory.max_entries",
				Message: "must not be negative",
			})
		}
	case StorageBackendSQLite:
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
	case StorageBackendRedis:
		if cfg.Redis.Addr == "" {
			errs = append(errs, FieldError{
				Field:   "storage.redis.addr",
				Message: "addr is required for the redis backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'sqlite', or 'redis'", cfg.Backend),
		})
	}

	if cfg.Retention <= 0 {
		errs = append(errs, FieldError{
			Field:   "storage.retention",
			Message: "retention must be positive",
		})
	}
	if cfg.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "storage.prune_schedule",
				Message: fmt.Sprintf("invalid cron schedule: %v", err),
			})
		}
	}
	if cfg.JournalBuffer < 1 {
		errs = append(errs, FieldError{
			Field:   "storage.journal_buffer",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateCatalog(cfg *CatalogConfig) []FieldError {
	var errs []FieldError

	if cfg.CacheTTL < 0 {
		errs = append(errs, FieldError{
			Field:   "catalog.cache_ttl",
			Message: "must not be negative",
		})
	}
	if cfg.Watch && cfg.AliasesFile == "" {
		errs = append(errs, FieldError{
			Field:   "catalog.watch",
			Message: "aliases_file is required when watch is enabled",
		})
	}

	return errs
}

func validateEstimation(cfg *EstimationConfig) []FieldError {
	var errs []FieldError

	prefixes := make([]string, 0, len(cfg.CharsPerToken))
	for prefix := range cfg.CharsPerToken {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		if cfg.CharsPerToken[prefix] <= 0 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("estimation.chars_per_token[%q]", prefix),
				Message: "must be positive",
			})
		}
	}
	if cfg.MinCompletionTokens < 0 {
		errs = append(errs, FieldError{
			Field:   "estimation.min_completion_tokens",
			Message: "must not be negative",
		})
	}
	if cfg.MaxCompletionTokens < cfg.MinCompletionTokens {
		errs = append(errs, FieldError{
			Field:   "estimation.max_completion_tokens",
			Message: "must not be less than min_completion_tokens",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddress != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}
