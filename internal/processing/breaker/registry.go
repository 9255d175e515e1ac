package breaker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/jobrunner/internal/processing/metrics"
)

// Registry lazily creates one breaker per operation name.
type Registry struct {
	mu       sync.RWMutex
	config   Config
	breakers map[string]*Breaker
	logger   *slog.Logger
	now      func() time.Time
	onChange func(operation string, from, to State)
}

// NewRegistry creates an empty registry sharing config across breakers.
func NewRegistry(config Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
		logger:   logger,
		now:      time.Now,
	}
}

// OnStateChange registers a hook called on every transition. It must be
// set before the first Get. The hook runs after the breaker's lock is
// released and may call back into the breaker or the registry.
func (r *Registry) OnStateChange(fn func(operation string, from, to State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Get returns the breaker for operation, creating it on first use.
func (r *Registry) Get(operation string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[operation]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[operation]; ok {
		return b
	}

	b = New(operation, r.config)
	b.now = r.now
	hook := r.onChange
	logger := r.logger
	b.onChange = func(op string, from, to State) {
		logger.Info("circuit breaker state changed",
			"operation", op,
			"from", from,
			"to", to)
		metrics.CircuitState.WithLabelValues(op).Set(stateValue(to))
		if hook != nil {
			hook(op, from, to)
		}
	}
	r.breakers[operation] = b
	metrics.CircuitState.WithLabelValues(operation).Set(stateValue(StateClosed))
	return b
}

func stateValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Snapshots returns every breaker sorted by operation.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// AnyOpen reports whether some operation is currently refusing attempts.
func (r *Registry) AnyOpen() bool {
	for _, s := range r.Snapshots() {
		if s.State == StateOpen {
			return true
		}
	}
	return false
}
