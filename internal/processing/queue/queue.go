// Package queue holds jobs waiting for a worker, ordered by priority tier.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/metrics"
)

var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueEmpty  = errors.New("job queue is empty")
)

// EvictionPolicy decides what Enqueue does at capacity.
type EvictionPolicy string

const (
	// EvictLowestOldest drops the oldest job of the lowest non-empty tier.
	EvictLowestOldest EvictionPolicy = "lowest-oldest"
	// RejectWhenFull refuses the new job with ErrQueueFull.
	RejectWhenFull EvictionPolicy = "reject"
)

// PriorityQueue is a bounded four-tier FIFO queue. Critical jobs always
// leave before high, high before medium, medium before low; low-priority
// jobs can starve under sustained high-priority load.
type PriorityQueue struct {
	mu       sync.Mutex
	tiers    [4][]*domain.Job
	size     int
	capacity int
	policy   EvictionPolicy
	closed   bool
	notify   chan struct{}
	done     chan struct{}
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a queue holding at most capacity jobs.
func New(capacity int, policy EvictionPolicy, logger *slog.Logger) *PriorityQueue {
	if capacity <= 0 {
		capacity = 1
	}
	if policy == "" {
		policy = EvictLowestOldest
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriorityQueue{
		capacity: capacity,
		policy:   policy,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue admits job. It never blocks: at capacity it either evicts one
// queued job (returned to the caller) or fails, depending on the policy.
func (q *PriorityQueue) Enqueue(job *domain.Job) (*domain.Job, error) {
	if job == nil || job.ID == "" {
		return nil, fmt.Errorf("enqueue: job id is required")
	}
	if job.Priority == "" {
		job.Priority = domain.PriorityMedium
	}
	rank := job.Priority.Rank()
	if rank < 0 {
		return nil, fmt.Errorf("enqueue %s: unknown priority %q", job.ID, job.Priority)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}

	var evicted *domain.Job
	if q.size >= q.capacity {
		if q.policy == RejectWhenFull {
			q.mu.Unlock()
			return nil, fmt.Errorf("%w: capacity %d reached", ErrQueueFull, q.capacity)
		}
		evicted = q.evictLocked()
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}
	q.tiers[rank] = append(q.tiers[rank], job)
	q.size++
	size := q.size
	q.mu.Unlock()

	if evicted != nil {
		metrics.QueueEvictions.WithLabelValues(string(evicted.Priority)).Inc()
		q.logger.Warn("queue full, evicted job",
			"evicted_job_id", evicted.ID,
			"evicted_priority", evicted.Priority,
			"job_id", job.ID,
			"priority", job.Priority,
			"capacity", q.capacity)
	}
	q.logger.Debug("job enqueued",
		"job_id", job.ID,
		"priority", job.Priority,
		"queue_len", size,
		"queue_cap", q.capacity)

	q.signal()
	return evicted, nil
}

// evictLocked removes the oldest job of the lowest non-empty tier.
func (q *PriorityQueue) evictLocked() *domain.Job {
	for rank := len(q.tiers) - 1; rank >= 0; rank-- {
		if len(q.tiers[rank]) == 0 {
			continue
		}
		job := q.tiers[rank][0]
		q.tiers[rank][0] = nil
		q.tiers[rank] = q.tiers[rank][1:]
		q.size--
		return job
	}
	return nil
}

// Dequeue returns the most preferred queued job, waiting at most wait for
// one to arrive. It returns ErrQueueEmpty when the wait elapses.
func (q *PriorityQueue) Dequeue(ctx context.Context, wait time.Duration) (*domain.Job, error) {
	var timer *time.Timer
	for {
		job, err := q.tryDequeue()
		if job != nil || err != nil {
			if timer != nil {
				timer.Stop()
			}
			return job, err
		}

		if timer == nil {
			if wait <= 0 {
				return nil, ErrQueueEmpty
			}
			timer = time.NewTimer(wait)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			// One last look, an enqueue may have raced the timer.
			job, err := q.tryDequeue()
			if job != nil || err != nil {
				return job, err
			}
			return nil, ErrQueueEmpty
		case <-q.notify:
		case <-q.done:
		}
	}
}

func (q *PriorityQueue) tryDequeue() (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for rank := range q.tiers {
		if len(q.tiers[rank]) == 0 {
			continue
		}
		job := q.tiers[rank][0]
		q.tiers[rank][0] = nil
		q.tiers[rank] = q.tiers[rank][1:]
		q.size--
		if q.size > 0 {
			// Wake another waiter for the remaining jobs.
			q.signal()
		}
		return job, nil
	}
	if q.closed {
		return nil, ErrQueueClosed
	}
	return nil, nil
}

func (q *PriorityQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Close stops admissions. Queued jobs can still be dequeued.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.logger.Info("job queue closed")
}

// Len returns the number of queued jobs.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the configured bound.
func (q *PriorityQueue) Capacity() int {
	return q.capacity
}

// DepthByPriority returns the queued job count per tier.
func (q *PriorityQueue) DepthByPriority() map[domain.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := make(map[domain.Priority]int, len(domain.Priorities))
	for rank, p := range domain.Priorities {
		depth[p] = len(q.tiers[rank])
	}
	return depth
}
