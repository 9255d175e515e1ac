package throttle

import "time"

// AdaptiveConfig holds configuration for adaptive worker scaling.
type AdaptiveConfig struct {
	// Enabled controls whether the pool is resized at all
	Enabled bool

	// Worker bounds
	MinWorkers int // Never scale below this (default: 1)
	MaxWorkers int // Never scale above this (default: 10)
	Step       int // Workers added or removed per decision (default: 1)

	// Timing
	Interval time.Duration // How often a decision is taken (default: 10s)
	Cooldown time.Duration // Minimum time between two resizes (default: 30s)

	// Thresholds
	ScaleUpQueueDepth int     // Backlog that justifies more workers (default: 10)
	LowErrorRate      float64 // Scale up only at or below this (default: 0.1)
	HighErrorRate     float64 // Scale down above this (default: 0.5)
	PlateauTolerance  float64 // Relative throughput gain treated as flat (default: 0.05)
	MinSamples        int     // Samples needed before error rate counts (default: 5)
}

// DefaultConfig returns sensible defaults for adaptive scaling.
func DefaultConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Enabled:           true,
		MinWorkers:        1,
		MaxWorkers:        10,
		Step:              1,
		Interval:          10 * time.Second,
		Cooldown:          30 * time.Second,
		ScaleUpQueueDepth: 10,
		LowErrorRate:      0.1,
		HighErrorRate:     0.5,
		PlateauTolerance:  0.05,
		MinSamples:        5,
	}
}
