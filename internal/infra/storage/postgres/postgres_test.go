package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/infra/storage"
)

// Requires a live server: DATABASE_URL=postgres://... go test ./internal/infra/storage/postgres/
func newTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url, ConnectRetries: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOutcomeRepo(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutcomeRepo(db)
	ctx := context.Background()
	jobID := "test-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.Save(ctx, &domain.Outcome{
		JobID:      jobID,
		Priority:   domain.PriorityHigh,
		Operation:  "publish",
		Status:     domain.OutcomeFailure,
		Category:   domain.CategoryOperation,
		Action:     domain.ActionRollback,
		Attempts:   2,
		Duration:   1500 * time.Millisecond,
		FinishedAt: now,
		CleanedResources: []domain.Resource{
			{Kind: domain.ResourceKindFile, Handle: "/tmp/x"},
		},
	}))
	require.NoError(t, repo.Save(ctx, &domain.Outcome{
		JobID:      jobID,
		Priority:   domain.PriorityHigh,
		Operation:  "publish",
		Status:     domain.OutcomeSuccess,
		Attempts:   1,
		FinishedAt: now.Add(time.Second),
	}))

	recent, err := repo.ListRecent(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, domain.OutcomeSuccess, recent[0].Status)
	assert.Equal(t, 1500*time.Millisecond, recent[1].Duration)
	assert.Len(t, recent[1].CleanedResources, 1)

	counts, err := repo.CountByStatus(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[domain.OutcomeSuccess], 1)

	deleted, err := repo.DeleteBefore(ctx, now.Add(-time.Hour*24*365*50))
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestFailedJobRepo(t *testing.T) {
	db := newTestDB(t)
	repo := NewFailedJobRepo(db)
	ctx := context.Background()

	fj := &domain.FailedJob{
		JobID:     "test-" + uuid.NewString(),
		Priority:  domain.PriorityLow,
		Operation: "sync",
		Category:  domain.CategoryNetwork,
		Action:    domain.ActionCircuitBreak,
		Error:     "connection refused",
		Attempts:  6,
		FailedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Add(ctx, fj))
	require.NotEmpty(t, fj.ID)

	got, err := repo.Get(ctx, fj.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailedJobStatusPending, got.Status)
	assert.Equal(t, fj.JobID, got.JobID)

	before, err := repo.Count(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.MarkResolved(ctx, fj.ID))
	after, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before-1, after)

	assert.True(t, errors.Is(repo.MarkResolved(ctx, uuid.NewString()), storage.ErrFailedJobNotFound))
	_, err = repo.Get(ctx, "not-a-uuid")
	assert.True(t, errors.Is(err, storage.ErrFailedJobNotFound))
}
