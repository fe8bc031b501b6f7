// Package config provides configuration management for bulkllm.
//
// This package handles loading, validating, and defaulting configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("bulkllm.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("bulkllm.yaml")
//
// An empty path passed to LoadConfigWithEnvOverrides starts from Default().
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention BULKLLM_SECTION_FIELD.
// For example:
//
//   - BULKLLM_STORAGE_BACKEND overrides storage.backend
//   - BULKLLM_SCHEDULER_MAX_WORKERS_PER_RESOURCE overrides scheduler.max_workers_per_resource
//   - BULKLLM_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Rules cannot be set from the environment.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Validation
//
// Validation errors include field paths:
//
//	configuration validation failed with 2 errors:
//	  - rate_limits.rules[1].patterns[0]: invalid regular expression: ...
//	  - storage.sqlite.path: path is required for the sqlite backend
//
// # Example Configuration
//
//	scheduler:
//	  max_workers_per_resource: 4
//
//	rate_limits:
//	  window: 60s
//	  rules:
//	    - name: gpt-4o
//	      patterns: ["gpt-4o"]
//	      requests_per_window: 500
//	      total_tokens_per_window: 300000
//	    - name: claude
//	      patterns: ["^claude-.*"]
//	      regex: true
//	      input_tokens_per_window: 400000
//	      output_tokens_per_window: 80000
//	      max_concurrent: 8
//
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: data/usage.db
//	  retention: 24h
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config
