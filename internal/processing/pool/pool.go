// Package pool runs jobs from the priority queue on a resizable set of
// workers. Each job passes the lock gate, then an attempt loop driven by
// the recovery dispatcher, and ends as an Outcome handed to the notifier.
// The pool never returns job failures as errors.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/metrics"
	"github.com/vietddude/jobrunner/internal/processing/performance"
	"github.com/vietddude/jobrunner/internal/processing/queue"
	"github.com/vietddude/jobrunner/internal/processing/recovery"
	"github.com/vietddude/jobrunner/internal/processing/throttle"
)

var (
	ErrAlreadyRunning = errors.New("worker pool already running")
	ErrNotRunning     = errors.New("worker pool not running")
)

// Config holds pool settings.
type Config struct {
	// DequeueWait bounds how long an idle worker blocks on the queue
	// before re-checking for shutdown (default: 1s)
	DequeueWait time.Duration

	// EstimatedDuration is passed to the lock manager for each job
	EstimatedDuration time.Duration

	// AttemptTimeout cancels a single attempt; zero means no limit
	AttemptTimeout time.Duration

	// MaxRetryWait ends a job as deferred when a retry would wait longer;
	// zero disables the cap
	MaxRetryWait time.Duration

	// Adaptive holds the worker bounds and scaling thresholds
	Adaptive throttle.AdaptiveConfig
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		DequeueWait:  time.Second,
		MaxRetryWait: 0,
		Adaptive:     throttle.DefaultConfig(),
	}
}

// Deps are the collaborators a pool needs.
type Deps struct {
	Queue      *queue.PriorityQueue
	Tracker    *performance.Tracker
	Dispatcher *recovery.Dispatcher
	Locks      Locker
	Executor   Executor
	Notifier   Notifier
	Logger     *slog.Logger
}

type worker struct {
	id     int
	cancel context.CancelFunc
}

// Pool is a resizable worker pool.
type Pool struct {
	config     Config
	queue      *queue.PriorityQueue
	tracker    *performance.Tracker
	dispatcher *recovery.Dispatcher
	locks      Locker
	executor   Executor
	notifier   Notifier
	controller *throttle.AdaptiveController
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	running    bool
	workers    []*worker
	nextID     int
	loopCtx    context.Context
	stopLoops  context.CancelFunc
	execCtx    context.Context
	cancelExec context.CancelFunc
	wg         sync.WaitGroup

	active atomic.Int64
}

// New creates a pool. Queue, Dispatcher, Locks and Executor are required.
func New(config Config, deps Deps) (*Pool, error) {
	if deps.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("recovery dispatcher is required")
	}
	if deps.Locks == nil {
		return nil, errors.New("lock manager is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if deps.Tracker == nil {
		deps.Tracker = performance.NewTracker(performance.DefaultWindow)
	}
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(context.Context, domain.Outcome) {})
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.DequeueWait <= 0 {
		config.DequeueWait = time.Second
	}

	controller := throttle.NewAdaptiveController(config.Adaptive)
	config.Adaptive = controller.Config()

	return &Pool{
		config:     config,
		queue:      deps.Queue,
		tracker:    deps.Tracker,
		dispatcher: deps.Dispatcher,
		locks:      deps.Locks,
		executor:   deps.Executor,
		notifier:   deps.Notifier,
		controller: controller,
		logger:     deps.Logger,
		now:        time.Now,
	}, nil
}

// Start launches n workers (clamped to the configured bounds) and the
// adaptive loop. Cancelling ctx stops the loops like Stop does.
func (p *Pool) Start(ctx context.Context, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	p.loopCtx, p.stopLoops = context.WithCancel(ctx)
	// In-flight attempts outlive the loop context so scaling down or a
	// graceful stop lets them finish.
	p.execCtx, p.cancelExec = context.WithCancel(context.WithoutCancel(ctx))
	p.running = true

	n = p.clamp(n)
	for range n {
		p.spawnLocked()
	}
	metrics.WorkersRunning.Set(float64(len(p.workers)))

	if p.config.Adaptive.Enabled {
		p.wg.Add(1)
		go p.adaptiveLoop(p.loopCtx)
	}

	p.logger.Info("worker pool started",
		"workers", n,
		"min_workers", p.config.Adaptive.MinWorkers,
		"max_workers", p.config.Adaptive.MaxWorkers,
		"adaptive", p.config.Adaptive.Enabled)
	return nil
}

// Resize sets the worker count, clamped to the configured bounds. Removed
// workers finish their current job before exiting.
func (p *Pool) Resize(n int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return 0, ErrNotRunning
	}

	n = p.clamp(n)
	before := len(p.workers)
	for len(p.workers) < n {
		p.spawnLocked()
	}
	for len(p.workers) > n {
		last := p.workers[len(p.workers)-1]
		last.cancel()
		p.workers = p.workers[:len(p.workers)-1]
	}
	metrics.WorkersRunning.Set(float64(len(p.workers)))

	if before != n {
		p.logger.Info("worker pool resized", "from", before, "to", n)
	}
	return n, nil
}

// Stop stops taking jobs and waits for in-flight attempts. When ctx ends
// first, running attempts are cancelled and ctx's error is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopLoops()
	p.workers = nil
	cancelExec := p.cancelExec
	p.mu.Unlock()

	metrics.WorkersRunning.Set(0)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancelExec()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		cancelExec()
		p.logger.Warn("worker pool stop deadline exceeded, cancelled running attempts",
			"active_jobs", p.active.Load())
		return fmt.Errorf("graceful stop interrupted: %w", ctx.Err())
	}
}

// Submit enqueues a job. A job evicted to make room is reported to the
// notifier with an evicted outcome.
func (p *Pool) Submit(job *domain.Job) error {
	evicted, err := p.queue.Enqueue(job)
	if err != nil {
		return err
	}
	p.recordDepth()

	if evicted != nil {
		p.finish(context.Background(), domain.Outcome{
			JobID:      evicted.ID,
			Priority:   evicted.Priority,
			Operation:  evicted.OperationOrDefault(),
			Status:     domain.OutcomeEvicted,
			Message:    fmt.Sprintf("evicted by %s (%s) at capacity %d", job.ID, job.Priority, p.queue.Capacity()),
			FinishedAt: p.now(),
		})
	}
	return nil
}

// Workers returns the current worker count.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Status builds the engine report.
func (p *Pool) Status() Status {
	p.mu.Lock()
	running := p.running
	workers := len(p.workers)
	p.mu.Unlock()

	stats := p.tracker.Snapshot()
	st := Status{
		Running:              running,
		RunningWorkers:       workers,
		ActiveJobs:           int(p.active.Load()),
		QueueDepthByPriority: p.queue.DepthByPriority(),
		CircuitBreakers:      p.dispatcher.Breakers().Snapshots(),
		Performance: PerformanceReport{
			Throughput: stats.Throughput,
			AvgLatency: stats.AvgLatency.Seconds(),
			ErrorRate:  stats.ErrorRate,
			Samples:    stats.Samples,
		},
		GeneratedAt: p.now().UTC(),
	}
	if h, ok := p.locks.(interface{ Held() []domain.JobLock }); ok {
		st.Locks = len(h.Held())
	}
	return st
}

func (p *Pool) spawnLocked() {
	ctx, cancel := context.WithCancel(p.loopCtx)
	w := &worker{id: p.nextID, cancel: cancel}
	p.nextID++
	p.workers = append(p.workers, w)

	p.wg.Add(1)
	go p.runWorker(ctx, w)
}

func (p *Pool) clamp(n int) int {
	return max(p.config.Adaptive.MinWorkers, min(n, p.config.Adaptive.MaxWorkers))
}

// adaptiveLoop feeds the controller on a fixed interval.
func (p *Pool) adaptiveLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := p.config.Adaptive.Interval
	if interval <= 0 {
		interval = throttle.DefaultConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.adapt()
		}
	}
}

func (p *Pool) adapt() {
	stats := p.tracker.Snapshot()
	obs := throttle.Observation{
		Workers:    p.Workers(),
		QueueDepth: p.queue.Len(),
		Throughput: stats.Throughput,
		ErrorRate:  stats.ErrorRate,
		Samples:    stats.Samples,
	}
	p.recordDepth()

	d := p.controller.Decide(obs)
	if d.Direction == throttle.Hold {
		return
	}

	p.logger.Info("adaptive resize",
		"direction", d.Direction,
		"reason", d.Reason,
		"from", obs.Workers,
		"to", d.Target,
		"queue_depth", obs.QueueDepth,
		"throughput", stats.Throughput,
		"error_rate", stats.ErrorRate)
	metrics.PoolResizes.WithLabelValues(string(d.Direction)).Inc()

	if _, err := p.Resize(d.Target); err != nil && !errors.Is(err, ErrNotRunning) {
		p.logger.Error("adaptive resize failed", "error", err)
	}
}

func (p *Pool) recordDepth() {
	for prio, n := range p.queue.DepthByPriority() {
		metrics.QueueDepth.WithLabelValues(string(prio)).Set(float64(n))
	}
}
