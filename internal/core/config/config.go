package config

import (
	"time"

	"github.com/vietddude/jobrunner/internal/infra/executor"
	redisclient "github.com/vietddude/jobrunner/internal/infra/redis"
	"github.com/vietddude/jobrunner/internal/infra/storage/postgres"
	"github.com/vietddude/jobrunner/internal/processing/classify"
	"github.com/vietddude/jobrunner/internal/processing/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Engine         EngineConfig         `yaml:"engine"`
	Adaptive       AdaptiveConfig       `yaml:"adaptive"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	Recovery       RecoveryConfig       `yaml:"recovery"`
	Classifier     ClassifierConfig     `yaml:"classifier"`
	Cleanup        CleanupConfig        `yaml:"cleanup"`
	Lock           LockConfig           `yaml:"lock"`
	Sweeper        SweeperConfig        `yaml:"sweeper"`
	Executor       executor.Config      `yaml:"executor"`
	Redis          redisclient.Config   `yaml:"redis"`
	Database       postgres.Config      `yaml:"database"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`      // negative = disabled
	GRPCPort int `yaml:"grpc_port"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// EngineConfig holds worker pool and queue settings.
type EngineConfig struct {
	MaxConcurrency     int    `yaml:"max_concurrency"`
	MinConcurrency     int    `yaml:"min_concurrency"`
	InitialConcurrency int    `yaml:"initial_concurrency"` // 0 = min
	QueueCapacity      int    `yaml:"queue_capacity"`
	EvictionPolicy     string `yaml:"eviction_policy"` // lowest-oldest, reject
	PerformanceWindow  int    `yaml:"performance_window"`

	AttemptTimeoutSeconds    float64 `yaml:"attempt_timeout_seconds"`    // 0 = none
	MaxRetryWaitSeconds      float64 `yaml:"max_retry_wait_seconds"`     // 0 = unbounded
	EstimatedDurationSeconds float64 `yaml:"estimated_duration_seconds"` // passed to the lock manager
	ShutdownTimeoutSeconds   float64 `yaml:"shutdown_timeout_seconds"`
}

// AdaptiveConfig holds worker auto-scaling settings.
type AdaptiveConfig struct {
	Enabled           *bool   `yaml:"enabled"`
	IntervalSeconds   float64 `yaml:"interval_seconds"`
	CooldownSeconds   float64 `yaml:"cooldown_seconds"`
	Step              int     `yaml:"step"`
	ScaleUpQueueDepth int     `yaml:"scale_up_queue_depth"`
	LowErrorRate      float64 `yaml:"low_error_rate"`
	HighErrorRate     float64 `yaml:"high_error_rate"`
	PlateauTolerance  float64 `yaml:"plateau_tolerance"`
	MinSamples        int     `yaml:"min_samples"`
}

// CircuitBreakerConfig holds per-operation breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold       int     `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds float64 `yaml:"recovery_timeout_seconds"`
}

// RetryConfig overrides the per-category retry policy. Keys are category
// names such as "network".
type RetryConfig struct {
	BaseDelaySeconds map[string]float64 `yaml:"base_delay_seconds"`
	MaxRetries       map[string]int     `yaml:"max_retries"`
}

// RecoveryConfig tunes the recovery strategies.
type RecoveryConfig struct {
	RateLimitDelaySeconds float64          `yaml:"rate_limit_delay_seconds"`
	StashCommand          string           `yaml:"stash_command"`
	Signals               recovery.Signals `yaml:"signals"`
}

// ClassifierConfig replaces the built-in classification rules when set.
type ClassifierConfig struct {
	Rules []classify.Rule `yaml:"rules"`
}

// CleanupConfig maps remote resource kinds to delete commands.
type CleanupConfig struct {
	Commands map[string]string `yaml:"commands"`
}

// LockConfig holds job lock settings.
type LockConfig struct {
	Directory          string   `yaml:"directory"`
	OwnerID            string   `yaml:"owner_id"`
	MinIntervalSeconds *float64 `yaml:"min_interval_seconds"` // 0 disables the gate
	ExpiryFloorSeconds float64  `yaml:"expiry_floor_seconds"`
}

// SweeperConfig holds background maintenance settings.
type SweeperConfig struct {
	IntervalSeconds       float64 `yaml:"interval_seconds"`
	HistoryRetentionHours float64 `yaml:"history_retention_hours"` // 0 = keep forever
}

// Seconds converts a fractional seconds value to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// AdaptiveEnabled reports whether auto-scaling is on (default true).
func (c AdaptiveConfig) AdaptiveEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MinInterval returns the lock reprocessing interval.
func (c LockConfig) MinInterval() time.Duration {
	if c.MinIntervalSeconds == nil {
		return 0
	}
	return Seconds(*c.MinIntervalSeconds)
}
