// Package breaker implements a per-operation circuit breaker.
//
// A breaker does not wrap execution. Callers check CanExecute before an
// attempt and report the result with RecordSuccess or RecordFailure, so the
// recovery dispatcher stays in control of rollback ordering.
package breaker

import (
	"sync"
	"time"
)

// State is the admission state of a breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Operation        string        `json:"operation"`
	State            State         `json:"state"`
	FailureCount     int           `json:"failureCount"`
	LastFailureAt    time.Time     `json:"lastFailureAt,omitzero"`
	FailureThreshold int           `json:"failureThreshold"`
	RecoveryTimeout  time.Duration `json:"recoveryTimeout"`
}

// Breaker tracks failures of one operation.
type Breaker struct {
	mu            sync.Mutex
	operation     string
	config        Config
	state         State
	failureCount  int
	lastFailureAt time.Time
	probing       bool
	now           func() time.Time
	onChange      func(operation string, from, to State)
	pending       []transition
}

type transition struct {
	from, to State
}

// New creates a closed breaker for operation.
func New(operation string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &Breaker{
		operation: operation,
		config:    config,
		state:     StateClosed,
		now:       time.Now,
	}
}

// State returns the current state. Reading an OPEN breaker whose recovery
// timeout has elapsed moves it to HALF_OPEN.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.lastFailureAt) > b.config.RecoveryTimeout {
		b.transitionLocked(StateHalfOpen)
		b.probing = false
	}
	return b.state
}

// CanExecute reports whether a new attempt may start. HALF_OPEN admits a
// single probe until its outcome is recorded.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.unlock()

	switch b.stateLocked() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.unlock()

	b.failureCount = 0
	b.probing = false
	if b.stateLocked() == StateHalfOpen {
		b.transitionLocked(StateClosed)
	}
}

// RecordFailure counts a failure. A half-open breaker re-opens at once.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.unlock()

	state := b.stateLocked()
	b.failureCount++
	b.lastFailureAt = b.now()
	b.probing = false

	switch state {
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	}
}

// Trip forces the breaker open, as if the threshold had been reached.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.unlock()

	b.lastFailureAt = b.now()
	b.failureCount = max(b.failureCount, b.config.FailureThreshold)
	b.probing = false
	if b.state != StateOpen {
		b.transitionLocked(StateOpen)
	}
}

// Snapshot returns the breaker's current view.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.unlock()

	return Snapshot{
		Operation:        b.operation,
		State:            b.stateLocked(),
		FailureCount:     b.failureCount,
		LastFailureAt:    b.lastFailureAt,
		FailureThreshold: b.config.FailureThreshold,
		RecoveryTimeout:  b.config.RecoveryTimeout,
	}
}

// transitionLocked queues the change hook; unlock runs it once b.mu is
// released, so a hook may read the breaker.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.pending = append(b.pending, transition{from: from, to: to})
	}
}

func (b *Breaker) unlock() {
	pending := b.pending
	b.pending = nil
	hook := b.onChange
	b.mu.Unlock()

	for _, t := range pending {
		hook(b.operation, t.from, t.to)
	}
}
