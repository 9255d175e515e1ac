package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/jobrunner/internal/processing/breaker"
	"github.com/vietddude/jobrunner/internal/processing/pool"
)

// StatusSource reports the engine status.
type StatusSource interface {
	Status() pool.Status
}

// FailedJobCounter counts pending dead-letter entries.
type FailedJobCounter interface {
	Count(ctx context.Context) (int, error)
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Thresholds decide when a component is degraded or critical.
type Thresholds struct {
	ErrorRateDegraded  float64
	ErrorRateCritical  float64
	MinSamples         int
	FailedJobsDegraded int
	QueueFullRatio     float64
}

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRateDegraded:  0.25,
		ErrorRateCritical:  0.75,
		MinSamples:         10,
		FailedJobsDegraded: 50,
		QueueFullRatio:     0.9,
	}
}

// Monitor aggregates health status from the engine components.
type Monitor struct {
	source        StatusSource
	failed        FailedJobCounter
	stores        map[string]Pinger
	queueCapacity int
	thresholds    Thresholds
	cacheTTL      time.Duration
	now           func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor. failed and stores may be nil.
func NewMonitor(source StatusSource, queueCapacity int, failed FailedJobCounter, stores map[string]Pinger) *Monitor {
	return &Monitor{
		source:        source,
		failed:        failed,
		stores:        stores,
		queueCapacity: queueCapacity,
		thresholds:    DefaultThresholds(),
		cacheTTL:      2 * time.Second,
		now:           time.Now,
	}
}

// CheckHealth builds a report. Results are cached briefly so probes don't
// hammer the stores.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && m.now().Sub(m.lastCheck) < m.cacheTTL {
		return *m.lastReport
	}

	st := m.source.Status()
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
	}
	add := func(c ComponentHealth) {
		report.Components[c.Name] = c
		report.SystemStatus = worst(report.SystemStatus, c.Status)
	}

	// 1. Workers
	workers := ComponentHealth{Name: "workers", Status: StatusHealthy,
		Detail: fmt.Sprintf("%d running, %d active", st.RunningWorkers, st.ActiveJobs)}
	if !st.Running || st.RunningWorkers == 0 {
		workers.Status = StatusCritical
		workers.Detail = "worker pool is not running"
	}
	add(workers)

	// 2. Queue
	depth := 0
	for _, n := range st.QueueDepthByPriority {
		depth += n
	}
	queue := ComponentHealth{Name: "queue", Status: StatusHealthy,
		Detail: fmt.Sprintf("%d/%d queued", depth, m.queueCapacity)}
	if m.queueCapacity > 0 && float64(depth) >= float64(m.queueCapacity)*m.thresholds.QueueFullRatio {
		queue.Status = StatusDegraded
	}
	add(queue)

	// 3. Error rate
	perf := ComponentHealth{Name: "performance", Status: StatusHealthy,
		Detail: fmt.Sprintf("error rate %.2f over %d samples", st.Performance.ErrorRate, st.Performance.Samples)}
	if st.Performance.Samples >= m.thresholds.MinSamples {
		if st.Performance.ErrorRate >= m.thresholds.ErrorRateCritical {
			perf.Status = StatusCritical
		} else if st.Performance.ErrorRate >= m.thresholds.ErrorRateDegraded {
			perf.Status = StatusDegraded
		}
	}
	add(perf)

	// 4. Circuit breakers
	breakers := ComponentHealth{Name: "circuit_breakers", Status: StatusHealthy}
	open := 0
	for _, b := range st.CircuitBreakers {
		if b.State != breaker.StateClosed {
			open++
		}
	}
	if open > 0 {
		breakers.Status = StatusDegraded
		breakers.Detail = fmt.Sprintf("%d of %d not closed", open, len(st.CircuitBreakers))
	}
	add(breakers)

	// 5. Dead-letter backlog
	if m.failed != nil {
		dl := ComponentHealth{Name: "failed_jobs", Status: StatusHealthy}
		count, err := m.failed.Count(ctx)
		switch {
		case err != nil:
			dl.Status = StatusDegraded
			dl.Detail = err.Error()
		case count >= m.thresholds.FailedJobsDegraded:
			dl.Status = StatusDegraded
			dl.Detail = fmt.Sprintf("%d pending", count)
		default:
			dl.Detail = fmt.Sprintf("%d pending", count)
		}
		add(dl)
	}

	// 6. Stores
	for name, p := range m.stores {
		c := ComponentHealth{Name: name, Status: StatusHealthy}
		if err := p.Ping(ctx); err != nil {
			c.Status = StatusDegraded
			c.Detail = err.Error()
		}
		add(c)
	}

	m.lastCheck = m.now()
	m.lastReport = &report
	return report
}
