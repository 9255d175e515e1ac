package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
)

// OutcomeRepo implements storage.OutcomeRepository using PostgreSQL.
type OutcomeRepo struct {
	db *DB
}

// NewOutcomeRepo creates a new PostgreSQL outcome repository.
func NewOutcomeRepo(db *DB) *OutcomeRepo {
	return &OutcomeRepo{db: db}
}

type outcomeRow struct {
	JobID            string    `db:"job_id"`
	Priority         string    `db:"priority"`
	Operation        string    `db:"operation"`
	Status           string    `db:"status"`
	Category         string    `db:"category"`
	Action           string    `db:"action"`
	Message          string    `db:"message"`
	Attempts         int       `db:"attempts"`
	CleanedResources []byte    `db:"cleaned_resources"`
	RetryAfterMs     int64     `db:"retry_after_ms"`
	DurationMs       int64     `db:"duration_ms"`
	FinishedAt       time.Time `db:"finished_at"`
}

func (r outcomeRow) toDomain() *domain.Outcome {
	o := &domain.Outcome{
		JobID:      r.JobID,
		Priority:   domain.Priority(r.Priority),
		Operation:  r.Operation,
		Status:     domain.OutcomeStatus(r.Status),
		Category:   domain.ErrorCategory(r.Category),
		Action:     domain.RecoveryAction(r.Action),
		Message:    r.Message,
		Attempts:   r.Attempts,
		RetryAfter: time.Duration(r.RetryAfterMs) * time.Millisecond,
		Duration:   time.Duration(r.DurationMs) * time.Millisecond,
		FinishedAt: r.FinishedAt,
	}
	if len(r.CleanedResources) > 0 {
		_ = json.Unmarshal(r.CleanedResources, &o.CleanedResources)
	}
	return o
}

// Save appends an outcome.
func (r *OutcomeRepo) Save(ctx context.Context, o *domain.Outcome) error {
	cleaned, err := json.Marshal(o.CleanedResources)
	if err != nil {
		return fmt.Errorf("failed to marshal cleaned resources: %w", err)
	}
	if o.CleanedResources == nil {
		cleaned = []byte("[]")
	}

	finishedAt := o.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	query := `
		INSERT INTO job_outcomes (
			job_id, priority, operation, status, category, action, message,
			attempts, cleaned_resources, retry_after_ms, duration_ms, finished_at
		) VALUES (
			:job_id, :priority, :operation, :status, :category, :action, :message,
			:attempts, :cleaned_resources, :retry_after_ms, :duration_ms, :finished_at
		)
	`
	row := outcomeRow{
		JobID:            o.JobID,
		Priority:         string(o.Priority),
		Operation:        o.Operation,
		Status:           string(o.Status),
		Category:         string(o.Category),
		Action:           string(o.Action),
		Message:          o.Message,
		Attempts:         o.Attempts,
		CleanedResources: cleaned,
		RetryAfterMs:     o.RetryAfter.Milliseconds(),
		DurationMs:       o.Duration.Milliseconds(),
		FinishedAt:       finishedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	return nil
}

// ListRecent returns the newest outcomes first, optionally for one job id.
func (r *OutcomeRepo) ListRecent(ctx context.Context, jobID string, limit int) ([]*domain.Outcome, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT job_id, priority, operation, status, category, action, message,
			attempts, cleaned_resources, retry_after_ms, duration_ms, finished_at
		FROM job_outcomes
		WHERE ($1 = '' OR job_id = $1)
		ORDER BY finished_at DESC, id DESC
		LIMIT $2
	`

	var rows []outcomeRow
	if err := r.db.SelectContext(ctx, &rows, query, jobID, limit); err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}

	out := make([]*domain.Outcome, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// CountByStatus counts outcomes finished at or after since.
func (r *OutcomeRepo) CountByStatus(ctx context.Context, since time.Time) (map[domain.OutcomeStatus]int, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM job_outcomes
		WHERE finished_at >= $1
		GROUP BY status
	`

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}

	counts := make(map[domain.OutcomeStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.OutcomeStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// DeleteBefore prunes outcomes finished before the cutoff.
func (r *OutcomeRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM job_outcomes WHERE finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outcomes: %w", err)
	}
	return res.RowsAffected()
}
