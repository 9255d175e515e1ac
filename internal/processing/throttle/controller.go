package throttle

import (
	"time"
)

// Direction is the outcome of a scaling decision.
type Direction string

const (
	Hold Direction = "hold"
	Up   Direction = "up"
	Down Direction = "down"
)

// Observation is what the pool reports at each interval.
type Observation struct {
	Workers    int
	QueueDepth int
	Throughput float64
	ErrorRate  float64
	Samples    int
}

// Decision is the worker count the pool should run next.
type Decision struct {
	Target    int
	Direction Direction
	Reason    string
}

// AdaptiveController decides worker counts from queue depth, error rate
// and throughput trends. It is not safe for concurrent use; the pool calls
// it from a single loop.
type AdaptiveController struct {
	config AdaptiveConfig
	now    func() time.Time

	lastChange    time.Time
	lastDirection Direction
	// throughput when the last resize happened
	baseline float64
	// throughput at the previous decision
	previous     float64
	havePrevious bool
}

// NewAdaptiveController creates a new adaptive controller.
func NewAdaptiveController(config AdaptiveConfig) *AdaptiveController {
	if config.MinWorkers < 1 {
		config.MinWorkers = 1
	}
	if config.MaxWorkers < config.MinWorkers {
		config.MaxWorkers = config.MinWorkers
	}
	if config.Step < 1 {
		config.Step = 1
	}
	return &AdaptiveController{
		config:        config,
		now:           time.Now,
		lastDirection: Hold,
	}
}

// Config returns the effective configuration.
func (c *AdaptiveController) Config() AdaptiveConfig {
	return c.config
}

// Decide computes the next worker count.
//
// Algorithm:
//   - within cooldown of the last resize: hold
//   - error rate above high threshold: scale down
//   - backlog with low error rate: scale up, unless the last step was up
//     and throughput did not improve, then scale back down
//   - empty queue with flat throughput: scale down
//   - otherwise hold
func (c *AdaptiveController) Decide(obs Observation) Decision {
	defer func() {
		c.previous = obs.Throughput
		c.havePrevious = true
	}()

	current := c.clamp(obs.Workers)
	if !c.config.Enabled {
		return Decision{Target: current, Direction: Hold, Reason: "disabled"}
	}

	now := c.now()
	if !c.lastChange.IsZero() && now.Sub(c.lastChange) < c.config.Cooldown {
		return Decision{Target: current, Direction: Hold, Reason: "cooldown"}
	}

	var (
		target = obs.Workers
		reason = "steady"
	)

	switch {
	case obs.Samples >= c.config.MinSamples && obs.ErrorRate > c.config.HighErrorRate:
		target = obs.Workers - c.config.Step
		reason = "error rate high"

	case obs.QueueDepth >= c.config.ScaleUpQueueDepth && obs.ErrorRate <= c.config.LowErrorRate:
		if c.lastDirection == Up && c.flat(obs.Throughput, c.baseline) {
			target = obs.Workers - c.config.Step
			reason = "throughput plateau"
		} else {
			target = obs.Workers + c.config.Step
			reason = "queue backlog"
		}

	case obs.QueueDepth == 0 && c.havePrevious && c.flat(obs.Throughput, c.previous):
		target = obs.Workers - c.config.Step
		reason = "idle"
	}

	target = c.clamp(target)

	var dir Direction
	switch {
	case target > obs.Workers:
		dir = Up
	case target < obs.Workers:
		dir = Down
	default:
		return Decision{Target: target, Direction: Hold, Reason: reason}
	}

	c.lastChange = now
	c.lastDirection = dir
	c.baseline = obs.Throughput
	return Decision{Target: target, Direction: dir, Reason: reason}
}

// flat reports whether cur is no better than ref by more than the tolerance.
func (c *AdaptiveController) flat(cur, ref float64) bool {
	return cur <= ref*(1+c.config.PlateauTolerance)
}

func (c *AdaptiveController) clamp(n int) int {
	return max(c.config.MinWorkers, min(n, c.config.MaxWorkers))
}
