package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/metrics"
	"github.com/vietddude/jobrunner/internal/processing/performance"
	"github.com/vietddude/jobrunner/internal/processing/queue"
)

// runWorker pulls jobs until its context is cancelled or the queue closes.
func (p *Pool) runWorker(ctx context.Context, w *worker) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", w.id)
	defer p.logger.Debug("stopping worker", "worker_id", w.id)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx, p.config.DequeueWait)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrQueueEmpty):
			continue
		case errors.Is(err, queue.ErrQueueClosed):
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		default:
			p.logger.Error("dequeue failed", "worker_id", w.id, "error", err)
			continue
		}

		p.process(job)
	}
}

// process takes one job from lock gate to outcome.
func (p *Pool) process(job *domain.Job) {
	p.active.Add(1)
	defer p.active.Add(-1)
	p.recordDepth()

	ctx, stopping := p.contexts()
	op := job.OperationOrDefault()
	start := p.now()

	token, acquired, err := p.locks.Acquire(job.ID, op, p.config.EstimatedDuration)
	if err != nil || !acquired {
		msg := "job is locked or was processed recently"
		if err != nil {
			msg = fmt.Sprintf("lock unavailable: %v", err)
		}
		p.logger.Info("skipping job", "job_id", job.ID, "operation", op, "reason", msg)
		p.finish(ctx, domain.Outcome{
			JobID:      job.ID,
			Priority:   job.Priority,
			Operation:  op,
			Status:     domain.OutcomeSkipped,
			Message:    msg,
			FinishedAt: p.now(),
		})
		return
	}

	outcome := p.run(ctx, stopping, job)

	if err := p.locks.Release(job.ID, token); err != nil {
		p.logger.Warn("failed to release job lock", "job_id", job.ID, "error", err)
	}

	outcome.Duration = p.now().Sub(start)
	outcome.FinishedAt = p.now()
	p.tracker.Record(performance.Sample{
		Duration:  outcome.Duration,
		Success:   outcome.Status == domain.OutcomeSuccess,
		Timestamp: outcome.FinishedAt,
	})
	metrics.JobDuration.WithLabelValues(op).Observe(outcome.Duration.Seconds())
	p.finish(ctx, outcome)
}

// run is the attempt loop. Retries stay inside the loop and never go back
// to the queue. A retry wait still pending when stopping ends turns the job
// into a deferred outcome.
func (p *Pool) run(ctx, stopping context.Context, job *domain.Job) domain.Outcome {
	attempt := domain.NewAttemptContext(job)
	attempt.StartedAt = p.now()

	out := domain.Outcome{
		JobID:     job.ID,
		Priority:  job.Priority,
		Operation: attempt.Operation,
	}

	for {
		if !p.dispatcher.Admit(attempt.Operation) {
			out.Status = domain.OutcomeFailure
			out.Action = domain.ActionCircuitBreak
			out.Category = attempt.Category
			out.Message = fmt.Sprintf("circuit open for operation %s", attempt.Operation)
			if attempt.OriginalError != nil {
				out.Message += ": " + attempt.ErrorMessage()
			}
			return out
		}

		out.Attempts++
		err := p.execute(ctx, job, attempt)
		if err == nil {
			p.dispatcher.RecordSuccess(attempt.Operation)
			out.Status = domain.OutcomeSuccess
			out.Category = ""
			return out
		}

		result := p.dispatcher.Recover(ctx, attempt, err)
		out.Category = attempt.Category
		out.Action = result.Action
		out.Message = result.Message
		out.CleanedResources = append(out.CleanedResources, result.CleanedResources...)

		if result.Terminal() {
			out.Status = domain.OutcomeFailure
			return out
		}

		if p.config.MaxRetryWait > 0 && result.RetryAfter > p.config.MaxRetryWait {
			out.Status = domain.OutcomeDeferred
			out.RetryAfter = result.RetryAfter
			return out
		}

		attempt.RetryCount++
		waitStart := p.now()
		if err := waitRetry(ctx, stopping, result.RetryAfter); err != nil {
			if errors.Is(err, errStopping) {
				// Hand the remaining wait back to the caller.
				out.Status = domain.OutcomeDeferred
				out.RetryAfter = max(result.RetryAfter-p.now().Sub(waitStart), 0)
				out.Message = "deferred by shutdown: " + attempt.ErrorMessage()
				return out
			}
			out.Status = domain.OutcomeFailure
			out.Action = domain.ActionAbort
			out.Message = "cancelled while waiting to retry: " + attempt.ErrorMessage()
			return out
		}
	}
}

// execute runs one attempt, turning a panic into an error.
func (p *Pool) execute(ctx context.Context, job *domain.Job, attempt *domain.AttemptContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("executor panicked",
				"job_id", job.ID,
				"operation", attempt.Operation,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	if p.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AttemptTimeout)
		defer cancel()
	}
	return p.executor.Execute(ctx, job, attempt)
}

func (p *Pool) finish(ctx context.Context, outcome domain.Outcome) {
	metrics.JobsProcessed.WithLabelValues(string(outcome.Status), string(outcome.Priority)).Inc()
	p.notifier.Notify(ctx, outcome)
}

// contexts returns the attempt context and the pool's loop context.
func (p *Pool) contexts() (exec, loop context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.execCtx == nil {
		return context.Background(), context.Background()
	}
	return p.execCtx, p.loopCtx
}

// errStopping ends a retry wait when the pool stops.
var errStopping = errors.New("worker pool stopping")

// waitRetry waits d before the next attempt. It returns ctx's error when
// the attempt is cancelled and errStopping when the pool stops first.
func waitRetry(ctx, stopping context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	if stopping.Err() != nil {
		return errStopping
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopping.Done():
		return errStopping
	}
}
