package recovery

import (
	"context"
	"log/slog"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/breaker"
	"github.com/vietddude/jobrunner/internal/processing/classify"
	"github.com/vietddude/jobrunner/internal/processing/metrics"
)

// Dispatcher classifies a failed attempt and routes it to the strategy for
// its category. It owns the per-operation circuit breakers and runs the
// cleaner before any rollback is reported.
type Dispatcher struct {
	classifier *classify.Classifier
	breakers   *breaker.Registry
	cleaner    *Cleaner
	policy     *Policy
	logger     *slog.Logger

	external  Strategy
	operation Strategy
	transient Strategy
	resource  Strategy
	invalid   Strategy
}

// NewDispatcher builds a dispatcher. Zero-valued config fields take their
// defaults.
func NewDispatcher(
	cfg Config,
	classifier *classify.Classifier,
	breakers *breaker.Registry,
	cleaner *Cleaner,
	logger *slog.Logger,
) *Dispatcher {
	defaults := DefaultConfig()
	if cfg.Policy == nil {
		cfg.Policy = defaults.Policy
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = defaults.RateLimitDelay
	}
	cfg.Signals = cfg.Signals.merge(defaults.Signals)
	if classifier == nil {
		classifier = classify.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.DefaultConfig(), logger)
	}
	if cleaner == nil {
		cleaner = NewCleaner(logger)
	}

	return &Dispatcher{
		classifier: classifier,
		breakers:   breakers,
		cleaner:    cleaner,
		policy:     cfg.Policy,
		logger:     logger,
		external: &externalServiceStrategy{
			policy:         cfg.Policy,
			signals:        cfg.Signals,
			rateLimitDelay: cfg.RateLimitDelay,
		},
		operation: &operationStrategy{
			policy:  cfg.Policy,
			signals: cfg.Signals,
			cleaner: cleaner,
			stash:   cfg.Stash,
		},
		transient: newBudgetStrategy(cfg.Policy, domain.ActionCircuitBreak, "transient failure",
			domain.CategoryNetwork, domain.CategoryTimeout, domain.CategoryUnknown),
		resource: newBudgetStrategy(cfg.Policy, domain.ActionRollback, "resource exhausted",
			domain.CategoryResource),
		invalid: newBudgetStrategy(cfg.Policy, domain.ActionAbort, "validation failed",
			domain.CategoryValidation),
	}
}

// Breakers exposes the breaker registry for status reporting.
func (d *Dispatcher) Breakers() *breaker.Registry {
	return d.breakers
}

// Cleaner exposes the resource cleaner.
func (d *Dispatcher) Cleaner() *Cleaner {
	return d.cleaner
}

// Admit reports whether a new attempt of operation may start.
func (d *Dispatcher) Admit(operation string) bool {
	return d.breakers.Get(operation).CanExecute()
}

// RecordSuccess closes the loop on an admitted attempt that succeeded.
func (d *Dispatcher) RecordSuccess(operation string) {
	d.breakers.Get(operation).RecordSuccess()
}

// strategyFor selects the strategy for a category.
func (d *Dispatcher) strategyFor(c domain.ErrorCategory) Strategy {
	switch c {
	case domain.CategoryExternalService:
		return d.external
	case domain.CategoryOperation:
		return d.operation
	case domain.CategoryResource:
		return d.resource
	case domain.CategoryValidation:
		return d.invalid
	case domain.CategoryNetwork, domain.CategoryTimeout, domain.CategoryUnknown:
		return d.transient
	default:
		return d.transient
	}
}

// Recover handles err raised by the attempt. It records the failure on the
// operation's breaker, asks the category strategy for a decision, cleans up
// before a rollback, and trips the breaker on a circuit-break decision.
func (d *Dispatcher) Recover(ctx context.Context, attempt *domain.AttemptContext, err error) domain.RecoveryResult {
	attempt.OriginalError = err
	attempt.Category = d.classifier.Classify(err, attempt.Operation)
	if !isKnown(attempt.Category) {
		attempt.Category = domain.CategoryUnknown
	}

	br := d.breakers.Get(attempt.Operation)
	br.RecordFailure()
	metrics.AttemptFailures.WithLabelValues(attempt.Operation, string(attempt.Category)).Inc()

	strategy := d.strategyFor(attempt.Category)
	if !strategy.CanHandle(attempt) {
		strategy = d.transient
	}
	result := strategy.Recover(ctx, attempt)

	switch result.Action {
	case domain.ActionRollback:
		cleaned := d.cleaner.Cleanup(ctx, attempt)
		attempt.RemoveResources(cleaned)
		result.CleanedResources = append(result.CleanedResources, cleaned...)
		result.Success = len(attempt.CreatedResources) == 0
	case domain.ActionCircuitBreak:
		br.Trip()
	}

	metrics.RecoveryActions.WithLabelValues(string(result.Action), string(attempt.Category)).Inc()
	d.logger.Info("recovery decision",
		"job_id", attempt.JobID,
		"operation", attempt.Operation,
		"category", attempt.Category,
		"retry_count", attempt.RetryCount,
		"action", result.Action,
		"retry_after", result.RetryAfter,
		"cleaned", len(result.CleanedResources),
		"message", result.Message)

	return result
}

func isKnown(c domain.ErrorCategory) bool {
	_, err := domain.ParseCategory(string(c))
	return err == nil
}
