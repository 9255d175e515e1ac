package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/infra/storage"
)

// FailedJobRepo implements storage.FailedJobRepository using PostgreSQL.
type FailedJobRepo struct {
	db *DB
}

// NewFailedJobRepo creates a new PostgreSQL failed job repository.
func NewFailedJobRepo(db *DB) *FailedJobRepo {
	return &FailedJobRepo{db: db}
}

type failedJobRow struct {
	ID        string    `db:"id"`
	JobID     string    `db:"job_id"`
	Priority  string    `db:"priority"`
	Operation string    `db:"operation"`
	Category  string    `db:"category"`
	Action    string    `db:"action"`
	ErrorMsg  string    `db:"error_msg"`
	Attempts  int       `db:"attempts"`
	Status    string    `db:"status"`
	FailedAt  time.Time `db:"failed_at"`
}

func (r failedJobRow) toDomain() *domain.FailedJob {
	return &domain.FailedJob{
		ID:        r.ID,
		JobID:     r.JobID,
		Priority:  domain.Priority(r.Priority),
		Operation: r.Operation,
		Category:  domain.ErrorCategory(r.Category),
		Action:    domain.RecoveryAction(r.Action),
		Error:     r.ErrorMsg,
		Attempts:  r.Attempts,
		Status:    domain.FailedJobStatus(r.Status),
		FailedAt:  r.FailedAt,
	}
}

const failedJobColumns = `id, job_id, priority, operation, category, action, error_msg, attempts, status, failed_at`

// Add adds a failed job. A missing id is generated.
func (r *FailedJobRepo) Add(ctx context.Context, fj *domain.FailedJob) error {
	if fj.ID == "" {
		fj.ID = uuid.NewString()
	}
	// Handle zero status if new
	status := string(fj.Status)
	if status == "" {
		status = string(domain.FailedJobStatusPending)
	}

	query := `
		INSERT INTO failed_jobs (` + failedJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		fj.ID,
		fj.JobID,
		string(fj.Priority),
		fj.Operation,
		string(fj.Category),
		string(fj.Action),
		fj.Error,
		fj.Attempts,
		status,
		fj.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add failed job: %w", err)
	}
	return nil
}

// Get retrieves a failed job by id.
func (r *FailedJobRepo) Get(ctx context.Context, id string) (*domain.FailedJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, storage.ErrFailedJobNotFound
	}

	var row failedJobRow
	err := r.db.GetContext(ctx, &row, `SELECT `+failedJobColumns+` FROM failed_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrFailedJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed job: %w", err)
	}
	return row.toDomain(), nil
}

// GetAll retrieves pending failed jobs, newest first.
func (r *FailedJobRepo) GetAll(ctx context.Context, limit int) ([]*domain.FailedJob, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + failedJobColumns + `
		FROM failed_jobs
		WHERE status = 'pending'
		ORDER BY failed_at DESC
		LIMIT $1
	`

	var rows []failedJobRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	jobs := make([]*domain.FailedJob, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, nil
}

// MarkResolved marks a failed job as resolved.
func (r *FailedJobRepo) MarkResolved(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return storage.ErrFailedJobNotFound
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE failed_jobs SET status = 'resolved', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve failed job: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return storage.ErrFailedJobNotFound
	}
	return nil
}

// Count returns the count of pending failed jobs.
func (r *FailedJobRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM failed_jobs WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("failed to count failed jobs: %w", err)
	}
	return count, nil
}
