package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/queue"
)

// Load reads configuration from a YAML file, applies defaults and
// validates the result.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.Expand(string(data), expandEnv)
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// runtimePrefixes name the variables set by the engine when it runs a
// hook or cleanup command. They are left for the shell to expand.
var runtimePrefixes = []string{"JOB_", "RESOURCE_"}

func expandEnv(name string) string {
	for _, prefix := range runtimePrefixes {
		if strings.HasPrefix(name, prefix) {
			return "${" + name + "}"
		}
	}
	return os.Getenv(name)
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	e := &c.Engine
	if e.MinConcurrency == 0 {
		e.MinConcurrency = 1
	}
	if e.MaxConcurrency == 0 {
		e.MaxConcurrency = max(10, e.MinConcurrency)
	}
	if e.InitialConcurrency == 0 {
		e.InitialConcurrency = e.MinConcurrency
	}
	if e.QueueCapacity == 0 {
		e.QueueCapacity = 1000
	}
	if e.EvictionPolicy == "" {
		e.EvictionPolicy = string(queue.EvictLowestOldest)
	}
	if e.PerformanceWindow == 0 {
		e.PerformanceWindow = 100
	}
	if e.ShutdownTimeoutSeconds == 0 {
		e.ShutdownTimeoutSeconds = 30
	}

	a := &c.Adaptive
	if a.IntervalSeconds == 0 {
		a.IntervalSeconds = 10
	}
	if a.CooldownSeconds == 0 {
		a.CooldownSeconds = 30
	}
	if a.Step == 0 {
		a.Step = 1
	}
	if a.ScaleUpQueueDepth == 0 {
		a.ScaleUpQueueDepth = 10
	}
	if a.LowErrorRate == 0 {
		a.LowErrorRate = 0.1
	}
	if a.HighErrorRate == 0 {
		a.HighErrorRate = 0.5
	}
	if a.PlateauTolerance == 0 {
		a.PlateauTolerance = 0.05
	}
	if a.MinSamples == 0 {
		a.MinSamples = 5
	}

	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.RecoveryTimeoutSeconds == 0 {
		c.CircuitBreaker.RecoveryTimeoutSeconds = 60
	}

	if c.Recovery.RateLimitDelaySeconds == 0 {
		c.Recovery.RateLimitDelaySeconds = 3600
	}

	if c.Lock.Directory == "" {
		c.Lock.Directory = ".jobrunner/locks"
	}
	if c.Lock.MinIntervalSeconds == nil {
		v := 300.0
		c.Lock.MinIntervalSeconds = &v
	}
	if c.Lock.ExpiryFloorSeconds == 0 {
		c.Lock.ExpiryFloorSeconds = 300
	}

	if c.Sweeper.IntervalSeconds == 0 {
		c.Sweeper.IntervalSeconds = 60
	}
}

// Validate checks ranges and names.
func (c *AppConfig) Validate() error {
	var errs []error
	e := c.Engine

	if e.MinConcurrency < 1 {
		errs = append(errs, fmt.Errorf("engine.min_concurrency must be >= 1, got %d", e.MinConcurrency))
	}
	if e.MaxConcurrency < e.MinConcurrency {
		errs = append(errs, fmt.Errorf("engine.max_concurrency (%d) must be >= min_concurrency (%d)",
			e.MaxConcurrency, e.MinConcurrency))
	}
	if e.InitialConcurrency < e.MinConcurrency || e.InitialConcurrency > e.MaxConcurrency {
		errs = append(errs, fmt.Errorf("engine.initial_concurrency must be within [%d, %d], got %d",
			e.MinConcurrency, e.MaxConcurrency, e.InitialConcurrency))
	}
	if e.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("engine.queue_capacity must be >= 1, got %d", e.QueueCapacity))
	}
	switch queue.EvictionPolicy(e.EvictionPolicy) {
	case queue.EvictLowestOldest, queue.RejectWhenFull:
	default:
		errs = append(errs, fmt.Errorf("engine.eviction_policy %q is not one of %s, %s",
			e.EvictionPolicy, queue.EvictLowestOldest, queue.RejectWhenFull))
	}
	if e.AttemptTimeoutSeconds < 0 || e.MaxRetryWaitSeconds < 0 || e.EstimatedDurationSeconds < 0 {
		errs = append(errs, errors.New("engine durations must not be negative"))
	}

	if c.Adaptive.LowErrorRate > c.Adaptive.HighErrorRate {
		errs = append(errs, fmt.Errorf("adaptive.low_error_rate (%.2f) must be <= high_error_rate (%.2f)",
			c.Adaptive.LowErrorRate, c.Adaptive.HighErrorRate))
	}

	if c.CircuitBreaker.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("circuit_breaker.failure_threshold must be >= 1, got %d",
			c.CircuitBreaker.FailureThreshold))
	}
	if c.CircuitBreaker.RecoveryTimeoutSeconds < 0 {
		errs = append(errs, errors.New("circuit_breaker.recovery_timeout_seconds must not be negative"))
	}

	for name, v := range c.Retry.BaseDelaySeconds {
		if _, err := domain.ParseCategory(name); err != nil {
			errs = append(errs, fmt.Errorf("retry.base_delay_seconds: %w", err))
		}
		if v < 0 {
			errs = append(errs, fmt.Errorf("retry.base_delay_seconds.%s must not be negative", name))
		}
	}
	for name, v := range c.Retry.MaxRetries {
		if _, err := domain.ParseCategory(name); err != nil {
			errs = append(errs, fmt.Errorf("retry.max_retries: %w", err))
		}
		if v < 0 {
			errs = append(errs, fmt.Errorf("retry.max_retries.%s must not be negative", name))
		}
	}

	for i, r := range c.Classifier.Rules {
		cat, err := domain.ParseCategory(string(r.Category))
		if err != nil {
			errs = append(errs, fmt.Errorf("classifier.rules[%d]: %w", i, err))
			continue
		}
		c.Classifier.Rules[i].Category = cat
	}

	if c.Lock.MinInterval() < 0 {
		errs = append(errs, errors.New("lock.min_interval_seconds must not be negative"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}

	return errors.Join(errs...)
}
