package control

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/infra/storage"
	"github.com/vietddude/jobrunner/internal/processing/pool"
)

// OutcomeRecorder logs every outcome, stores it in the history and copies
// failures to the failed-job store before fanning out to extra notifiers.
type OutcomeRecorder struct {
	outcomes storage.OutcomeRepository
	failed   storage.FailedJobRepository
	next     []pool.Notifier
	log      *slog.Logger
}

// NewOutcomeRecorder creates a recorder. Nil repositories are skipped.
func NewOutcomeRecorder(
	outcomes storage.OutcomeRepository,
	failed storage.FailedJobRepository,
	logger *slog.Logger,
	next ...pool.Notifier,
) *OutcomeRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeRecorder{
		outcomes: outcomes,
		failed:   failed,
		next:     next,
		log:      logger,
	}
}

// Notify implements pool.Notifier.
func (r *OutcomeRecorder) Notify(ctx context.Context, o domain.Outcome) {
	r.logOutcome(o)

	if r.outcomes != nil {
		if err := r.outcomes.Save(ctx, &o); err != nil {
			r.log.Error("Failed to save outcome", "job_id", o.JobID, "error", err)
		}
	}

	if o.Failed() && r.failed != nil {
		fj := &domain.FailedJob{
			ID:        uuid.NewString(),
			JobID:     o.JobID,
			Priority:  o.Priority,
			Operation: o.Operation,
			Category:  o.Category,
			Action:    o.Action,
			Error:     o.Message,
			Attempts:  o.Attempts,
			Status:    domain.FailedJobStatusPending,
			FailedAt:  o.FinishedAt,
		}
		if err := r.failed.Add(ctx, fj); err != nil {
			r.log.Error("Failed to record failed job", "job_id", o.JobID, "error", err)
		}
	}

	for _, n := range r.next {
		n.Notify(ctx, o)
	}
}

func (r *OutcomeRecorder) logOutcome(o domain.Outcome) {
	attrs := []any{
		"job_id", o.JobID,
		"priority", o.Priority,
		"operation", o.Operation,
		"status", o.Status,
		"attempts", o.Attempts,
		"duration", o.Duration,
	}

	switch o.Status {
	case domain.OutcomeSuccess:
		r.log.Info("Job completed", attrs...)
	case domain.OutcomeFailure:
		attrs = append(attrs, "category", o.Category, "action", o.Action, "error", o.Message)
		if len(o.CleanedResources) > 0 {
			attrs = append(attrs, "cleaned", len(o.CleanedResources))
		}
		r.log.Error("Job failed", attrs...)
	case domain.OutcomeDeferred:
		r.log.Warn("Job deferred", append(attrs, "retry_after", o.RetryAfter, "reason", o.Message)...)
	default:
		r.log.Warn("Job not run", append(attrs, "reason", o.Message)...)
	}
}
