package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
)

// Strategy handles failures of one error category.
type Strategy interface {
	// CanHandle reports whether the strategy applies to the attempt.
	CanHandle(attempt *domain.AttemptContext) bool

	// Recover decides the next action. It may mutate the attempt, e.g. to
	// drop resources it already deleted.
	Recover(ctx context.Context, attempt *domain.AttemptContext) domain.RecoveryResult
}

// StashFunc parks uncommitted local state left by an attempt.
type StashFunc func(ctx context.Context, attempt *domain.AttemptContext) error

// retryOr retries while budget remains, otherwise returns exhausted.
func retryOr(p *Policy, a *domain.AttemptContext, exhausted domain.RecoveryAction, reason string) domain.RecoveryResult {
	ceiling := p.MaxRetries(a.Category)
	if a.RetryCount < ceiling {
		return domain.RecoveryResult{
			Success:    true,
			Action:     domain.ActionRetry,
			RetryAfter: p.Delay(a.Category, a.RetryCount),
			Message:    fmt.Sprintf("%s: retry %d/%d", reason, a.RetryCount+1, ceiling),
		}
	}
	return domain.RecoveryResult{
		Action:  exhausted,
		Message: fmt.Sprintf("%s: %d retries exhausted: %s", reason, ceiling, a.ErrorMessage()),
	}
}

// externalServiceStrategy handles third-party API failures.
type externalServiceStrategy struct {
	policy         *Policy
	signals        Signals
	rateLimitDelay time.Duration
}

func (s *externalServiceStrategy) CanHandle(a *domain.AttemptContext) bool {
	return a.Category == domain.CategoryExternalService
}

func (s *externalServiceStrategy) Recover(_ context.Context, a *domain.AttemptContext) domain.RecoveryResult {
	msg := a.ErrorMessage()

	if containsAny(msg, s.signals.Auth) {
		return domain.RecoveryResult{
			Action:  domain.ActionAbort,
			Message: "authorization failure, not retrying: " + msg,
		}
	}
	if containsAny(msg, s.signals.RateLimit) {
		return domain.RecoveryResult{
			Success:    true,
			Action:     domain.ActionRetry,
			RetryAfter: s.rateLimitDelay,
			Message:    "rate limited, waiting before retry",
		}
	}
	return retryOr(s.policy, a, domain.ActionAbort, "external service error")
}

// operationStrategy handles local operation failures. These are assumed to
// leave side effects behind, so an exhausted budget rolls back.
type operationStrategy struct {
	policy  *Policy
	signals Signals
	cleaner *Cleaner
	stash   StashFunc
}

func (s *operationStrategy) CanHandle(a *domain.AttemptContext) bool {
	return a.Category == domain.CategoryOperation
}

func (s *operationStrategy) Recover(ctx context.Context, a *domain.AttemptContext) domain.RecoveryResult {
	msg := a.ErrorMessage()

	switch {
	case containsAny(msg, s.signals.MergeConflict):
		return domain.RecoveryResult{
			Action:  domain.ActionRollback,
			Message: "merge conflict: " + msg,
		}

	case containsAny(msg, s.signals.AlreadyExists):
		return s.cleanupThenRetry(ctx, a)

	case containsAny(msg, s.signals.Uncommitted):
		return s.stashThenRetry(ctx, a)
	}

	return retryOr(s.policy, a, domain.ActionRollback, "operation failed")
}

func (s *operationStrategy) cleanupThenRetry(ctx context.Context, a *domain.AttemptContext) domain.RecoveryResult {
	if a.RetryCount >= s.policy.MaxRetries(a.Category) {
		return retryOr(s.policy, a, domain.ActionRollback, "resource already exists")
	}

	var targets []domain.Resource
	var conflict domain.ConflictError
	if errors.As(a.OriginalError, &conflict) {
		targets = []domain.Resource{conflict.ConflictingResource()}
	} else {
		targets = append(targets, a.CreatedResources...)
	}
	if len(targets) == 0 {
		return domain.RecoveryResult{
			Action:  domain.ActionRollback,
			Message: "resource already exists and none is known to clean up",
		}
	}

	for _, r := range targets {
		if err := s.cleaner.Delete(ctx, r); err != nil {
			return domain.RecoveryResult{
				Action:  domain.ActionRollback,
				Message: fmt.Sprintf("failed to delete conflicting %s: %v", r, err),
			}
		}
	}
	a.RemoveResources(targets)

	return domain.RecoveryResult{
		Success:          true,
		Action:           domain.ActionRetry,
		RetryAfter:       s.policy.Delay(a.Category, a.RetryCount),
		Message:          fmt.Sprintf("deleted %d conflicting resource(s), retrying", len(targets)),
		CleanedResources: targets,
	}
}

func (s *operationStrategy) stashThenRetry(ctx context.Context, a *domain.AttemptContext) domain.RecoveryResult {
	if s.stash == nil {
		return domain.RecoveryResult{
			Action:  domain.ActionRollback,
			Message: "uncommitted local state and no stash hook configured",
		}
	}
	if a.RetryCount >= s.policy.MaxRetries(a.Category) {
		return retryOr(s.policy, a, domain.ActionRollback, "uncommitted local state")
	}
	if err := s.stash(ctx, a); err != nil {
		return domain.RecoveryResult{
			Action:  domain.ActionRollback,
			Message: "stash failed: " + err.Error(),
		}
	}
	return domain.RecoveryResult{
		Success:    true,
		Action:     domain.ActionRetry,
		RetryAfter: s.policy.Delay(a.Category, a.RetryCount),
		Message:    "stashed local state, retrying",
	}
}

// budgetStrategy retries up to the category ceiling and then gives up
// with a fixed action.
type budgetStrategy struct {
	categories map[domain.ErrorCategory]struct{}
	policy     *Policy
	exhausted  domain.RecoveryAction
	reason     string
}

func newBudgetStrategy(p *Policy, exhausted domain.RecoveryAction, reason string, categories ...domain.ErrorCategory) *budgetStrategy {
	set := make(map[domain.ErrorCategory]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return &budgetStrategy{categories: set, policy: p, exhausted: exhausted, reason: reason}
}

func (s *budgetStrategy) CanHandle(a *domain.AttemptContext) bool {
	_, ok := s.categories[a.Category]
	return ok
}

func (s *budgetStrategy) Recover(_ context.Context, a *domain.AttemptContext) domain.RecoveryResult {
	return retryOr(s.policy, a, s.exhausted, s.reason)
}
