package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/jobrunner/internal/core/config"
	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/core/worker"
	"github.com/vietddude/jobrunner/internal/infra/executor"
	"github.com/vietddude/jobrunner/internal/infra/storage"
	"github.com/vietddude/jobrunner/internal/processing/breaker"
	"github.com/vietddude/jobrunner/internal/processing/classify"
	"github.com/vietddude/jobrunner/internal/processing/health"
	"github.com/vietddude/jobrunner/internal/processing/lock"
	"github.com/vietddude/jobrunner/internal/processing/performance"
	"github.com/vietddude/jobrunner/internal/processing/pool"
	"github.com/vietddude/jobrunner/internal/processing/queue"
	"github.com/vietddude/jobrunner/internal/processing/recovery"
	"github.com/vietddude/jobrunner/internal/processing/throttle"
)

// Options carries collaborators that do not come from the config file.
type Options struct {
	// Executor runs jobs. When nil, a command executor is built from
	// the executor section of the config.
	Executor pool.Executor

	// Notifiers receive every outcome after it has been recorded.
	Notifiers []pool.Notifier

	Logger *slog.Logger
}

// Engine owns the job engine components and their lifecycle.
type Engine struct {
	cfg        *config.AppConfig
	queue      *queue.PriorityQueue
	locks      *lock.Manager
	dispatcher *recovery.Dispatcher
	pool       *pool.Pool
	stores     *Stores
	monitor    *health.Monitor
	httpServer *health.Server
	grpcServer *health.GRPCServer
	sweeper    *worker.Sweeper
	log        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// NewEngine creates a new Engine with all dependencies initialized.
func NewEngine(ctx context.Context, cfg *config.AppConfig, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{cfg: cfg, log: log}

	// 1. Storage
	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	e.stores = stores

	// 2. Locks
	lockStore, err := lock.NewFileStore(cfg.Lock.Directory, log)
	if err != nil {
		e.stores.Close()
		return nil, fmt.Errorf("failed to init lock store: %w", err)
	}
	e.locks = lock.NewManager(lockStore, lock.Options{
		OwnerID:     cfg.Lock.OwnerID,
		MinInterval: cfg.Lock.MinInterval(),
		ExpiryFloor: config.Seconds(cfg.Lock.ExpiryFloorSeconds),
		Logger:      log,
	})
	restored, err := e.locks.Restore()
	if err != nil {
		log.Warn("Failed to restore job locks", "error", err)
	}
	log.Info("Lock manager ready", "owner", e.locks.OwnerID(), "restored", restored)

	// 3. Recovery
	e.dispatcher, err = buildDispatcher(cfg, log)
	if err != nil {
		e.stores.Close()
		return nil, err
	}

	// 4. Executor
	exec := opts.Executor
	if exec == nil {
		cmd, err := executor.NewCommandExecutor(cfg.Executor, log)
		if err != nil {
			e.stores.Close()
			return nil, fmt.Errorf("failed to init executor: %w", err)
		}
		exec = cmd
	}

	// 5. Queue and pool
	e.queue = queue.New(cfg.Engine.QueueCapacity, queue.EvictionPolicy(cfg.Engine.EvictionPolicy), log)
	recorder := NewOutcomeRecorder(stores.Outcomes, stores.Failed, log, opts.Notifiers...)

	e.pool, err = pool.New(poolConfig(cfg), pool.Deps{
		Queue:      e.queue,
		Tracker:    performance.NewTracker(cfg.Engine.PerformanceWindow),
		Dispatcher: e.dispatcher,
		Locks:      e.locks,
		Executor:   exec,
		Notifier:   recorder,
		Logger:     log,
	})
	if err != nil {
		e.stores.Close()
		return nil, fmt.Errorf("failed to init worker pool: %w", err)
	}

	// 6. Health
	e.monitor = health.NewMonitor(e.pool, cfg.Engine.QueueCapacity, stores.Failed, stores.Pingers)
	if cfg.Server.Port > 0 {
		e.httpServer = health.NewServer(e.monitor, e.pool, e, fmt.Sprintf(":%d", cfg.Server.Port), log)
		e.httpServer.SetLockReleaser(e.locks)
	}
	if cfg.Server.GRPCPort > 0 {
		e.grpcServer = health.NewGRPCServer(e.monitor, fmt.Sprintf(":%d", cfg.Server.GRPCPort), 0, log)
	}

	// 7. Sweeper
	e.sweeper = worker.NewSweeper(
		e.locks,
		stores.Outcomes,
		config.Seconds(cfg.Sweeper.IntervalSeconds),
		config.Seconds(cfg.Sweeper.HistoryRetentionHours*3600),
		log,
	)

	return e, nil
}

func buildDispatcher(cfg *config.AppConfig, log *slog.Logger) (*recovery.Dispatcher, error) {
	classifier := classify.Default()
	if len(cfg.Classifier.Rules) > 0 {
		var err error
		classifier, err = classify.New(cfg.Classifier.Rules)
		if err != nil {
			return nil, fmt.Errorf("invalid classifier rules: %w", err)
		}
	}

	policy := recovery.DefaultPolicy()
	base := make(map[domain.ErrorCategory]time.Duration, len(cfg.Retry.BaseDelaySeconds))
	for name, s := range cfg.Retry.BaseDelaySeconds {
		c, err := domain.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		base[c] = config.Seconds(s)
	}
	retries := make(map[domain.ErrorCategory]int, len(cfg.Retry.MaxRetries))
	for name, n := range cfg.Retry.MaxRetries {
		c, err := domain.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		retries[c] = n
	}
	policy.Override(base, retries)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  config.Seconds(cfg.CircuitBreaker.RecoveryTimeoutSeconds),
	}, log)

	cleaner := recovery.NewCleaner(log)
	for kind, command := range cfg.Cleanup.Commands {
		cleaner.Register(kind, &executor.CommandDeleter{Command: command, Shell: cfg.Executor.Shell})
	}

	rcfg := recovery.Config{
		Policy:         policy,
		Signals:        cfg.Recovery.Signals,
		RateLimitDelay: config.Seconds(cfg.Recovery.RateLimitDelaySeconds),
	}
	if cfg.Recovery.StashCommand != "" {
		rcfg.Stash = executor.CommandStash(cfg.Executor.Shell, cfg.Recovery.StashCommand)
	}

	return recovery.NewDispatcher(rcfg, classifier, breakers, cleaner, log), nil
}

func poolConfig(cfg *config.AppConfig) pool.Config {
	a := cfg.Adaptive
	return pool.Config{
		EstimatedDuration: config.Seconds(cfg.Engine.EstimatedDurationSeconds),
		AttemptTimeout:    config.Seconds(cfg.Engine.AttemptTimeoutSeconds),
		MaxRetryWait:      config.Seconds(cfg.Engine.MaxRetryWaitSeconds),
		Adaptive: throttle.AdaptiveConfig{
			Enabled:           a.AdaptiveEnabled(),
			MinWorkers:        cfg.Engine.MinConcurrency,
			MaxWorkers:        cfg.Engine.MaxConcurrency,
			Step:              a.Step,
			Interval:          config.Seconds(a.IntervalSeconds),
			Cooldown:          config.Seconds(a.CooldownSeconds),
			ScaleUpQueueDepth: a.ScaleUpQueueDepth,
			LowErrorRate:      a.LowErrorRate,
			HighErrorRate:     a.HighErrorRate,
			PlateauTolerance:  a.PlateauTolerance,
			MinSamples:        a.MinSamples,
		},
	}
}

// Start starts the engine and all its components.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return pool.ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)

	if err := e.pool.Start(ctx, e.cfg.Engine.InitialConcurrency); err != nil {
		cancel()
		return err
	}
	e.cancel = cancel

	// Start Sweeper
	e.goBackground(func() { e.sweeper.Start(ctx) })

	// Start DB Metrics Collector
	if e.stores.db != nil {
		e.stores.db.StartMetricsCollector(ctx)
	}

	// Start Health Servers
	if e.httpServer != nil {
		e.goBackground(func() {
			e.log.Info("Starting health server", "port", e.cfg.Server.Port)
			if err := e.httpServer.Start(); err != nil {
				e.log.Error("Health server failed", "error", err)
			}
		})
	}
	if e.grpcServer != nil {
		e.goBackground(func() {
			if err := e.grpcServer.Start(ctx); err != nil {
				e.log.Error("gRPC health server failed", "error", err)
			}
		})
	}

	return nil
}

func (e *Engine) goBackground(fn func()) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn()
	}()
}

// Stop stops the engine. In-flight jobs get until ctx ends to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.log.Info("Stopping engine...")

	var errs []error
	if e.httpServer != nil {
		if err := e.httpServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}
	if e.grpcServer != nil {
		e.grpcServer.Stop()
	}

	if err := e.pool.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if left := e.queue.Len(); left > 0 {
		e.log.Warn("Jobs left in queue at shutdown", "count", left)
	}
	e.queue.Close()

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
	e.bg.Wait()

	e.stores.Close()
	return errors.Join(errs...)
}

// Submit enqueues a job.
func (e *Engine) Submit(job *domain.Job) error {
	return e.pool.Submit(job)
}

// Status returns the current engine report.
func (e *Engine) Status() pool.Status {
	return e.pool.Status()
}

// Health returns the aggregated health report.
func (e *Engine) Health(ctx context.Context) health.HealthReport {
	return e.monitor.CheckHealth(ctx)
}

// Locks exposes the lock manager.
func (e *Engine) Locks() *lock.Manager {
	return e.locks
}

// FailedJobs exposes the failed-job store.
func (e *Engine) FailedJobs() storage.FailedJobRepository {
	return e.stores.Failed
}

// Outcomes exposes the outcome history.
func (e *Engine) Outcomes() storage.OutcomeRepository {
	return e.stores.Outcomes
}
