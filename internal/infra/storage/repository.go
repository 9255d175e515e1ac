package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
)

var (
	// ErrFailedJobNotFound is returned when a failed job doesn't exist
	ErrFailedJobNotFound = errors.New("failed job not found")
)

// OutcomeRepository keeps the history of terminal job outcomes
type OutcomeRepository interface {
	// Save appends an outcome
	Save(ctx context.Context, outcome *domain.Outcome) error

	// ListRecent returns the newest outcomes first, optionally for one job id
	ListRecent(ctx context.Context, jobID string, limit int) ([]*domain.Outcome, error)

	// CountByStatus counts outcomes finished at or after since
	CountByStatus(ctx context.Context, since time.Time) (map[domain.OutcomeStatus]int, error)

	// DeleteBefore prunes outcomes finished before the cutoff
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// FailedJobRepository is the dead-letter store for failed jobs
type FailedJobRepository interface {
	// Add records a failed job
	Add(ctx context.Context, job *domain.FailedJob) error

	// Get retrieves one failed job by id
	Get(ctx context.Context, id string) (*domain.FailedJob, error)

	// GetAll retrieves pending failed jobs, newest first
	GetAll(ctx context.Context, limit int) ([]*domain.FailedJob, error)

	// MarkResolved removes a failed job from the pending set
	MarkResolved(ctx context.Context, id string) error

	// Count returns the number of pending failed jobs
	Count(ctx context.Context) (int, error)
}
