package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/infra/storage"
)

// DefaultFailedJobTTL is how long a failed job record is kept.
const DefaultFailedJobTTL = 7 * 24 * time.Hour

// FailedJobRepo implements FailedJobRepository using Redis. Pending ids
// live in a sorted set scored by failure time; each record is a JSON
// string with a TTL.
type FailedJobRepo struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewFailedJobRepo creates a new Redis-backed failed job repository.
func NewFailedJobRepo(client *Client, ttl time.Duration) *FailedJobRepo {
	if ttl <= 0 {
		ttl = DefaultFailedJobTTL
	}
	return &FailedJobRepo{
		rdb:       client.rdb,
		namespace: client.namespace,
		ttl:       ttl,
	}
}

// Key helpers
func (r *FailedJobRepo) pendingKey() string {
	return fmt.Sprintf("%s:failed_jobs", r.namespace)
}

func (r *FailedJobRepo) jobKey(id string) string {
	return fmt.Sprintf("%s:failed_job:%s", r.namespace, id)
}

// Add stores a failed job and marks it pending.
func (r *FailedJobRepo) Add(ctx context.Context, fj *domain.FailedJob) error {
	if fj.Status == "" {
		fj.Status = domain.FailedJobStatusPending
	}
	data, err := json.Marshal(fj)
	if err != nil {
		return fmt.Errorf("failed to marshal failed job: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.jobKey(fj.ID), data, r.ttl)
	pipe.ZAdd(ctx, r.pendingKey(), redis.Z{
		Score:  float64(fj.FailedAt.UnixMilli()),
		Member: fj.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add failed job: %w", err)
	}
	return nil
}

// Get retrieves a failed job by id.
func (r *FailedJobRepo) Get(ctx context.Context, id string) (*domain.FailedJob, error) {
	data, err := r.rdb.Get(ctx, r.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrFailedJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed job: %w", err)
	}

	var fj domain.FailedJob
	if err := json.Unmarshal(data, &fj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed job: %w", err)
	}
	return &fj, nil
}

// GetAll retrieves pending failed jobs, newest first.
func (r *FailedJobRepo) GetAll(ctx context.Context, limit int) ([]*domain.FailedJob, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.rdb.ZRevRange(ctx, r.pendingKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}

	jobs := make([]*domain.FailedJob, 0, len(ids))
	for _, id := range ids {
		fj, err := r.Get(ctx, id)
		if errors.Is(err, storage.ErrFailedJobNotFound) {
			// Record expired but id still pending, drop it
			r.rdb.ZRem(ctx, r.pendingKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, fj)
	}
	return jobs, nil
}

// MarkResolved removes a failed job from the pending set and keeps the
// record, marked resolved, until it expires.
func (r *FailedJobRepo) MarkResolved(ctx context.Context, id string) error {
	fj, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	fj.Status = domain.FailedJobStatusResolved
	data, err := json.Marshal(fj)
	if err != nil {
		return fmt.Errorf("failed to marshal failed job: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.ZRem(ctx, r.pendingKey(), id)
	pipe.Set(ctx, r.jobKey(id), data, redis.KeepTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to resolve failed job: %w", err)
	}
	return nil
}

// Count returns the number of pending failed jobs.
func (r *FailedJobRepo) Count(ctx context.Context) (int, error) {
	count, err := r.rdb.ZCard(ctx, r.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
