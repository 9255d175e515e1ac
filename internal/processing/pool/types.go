package pool

import (
	"context"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/breaker"
)

// Executor runs one attempt of a job. Artifacts it creates must be
// reported on the attempt so a rollback can delete them.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job, attempt *domain.AttemptContext) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job *domain.Job, attempt *domain.AttemptContext) error

func (f ExecutorFunc) Execute(ctx context.Context, job *domain.Job, attempt *domain.AttemptContext) error {
	return f(ctx, job, attempt)
}

// Notifier receives every terminal outcome.
type Notifier interface {
	Notify(ctx context.Context, outcome domain.Outcome)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, outcome domain.Outcome)

func (f NotifierFunc) Notify(ctx context.Context, outcome domain.Outcome) {
	f(ctx, outcome)
}

// Locker gates execution per job id. Release takes the token returned by
// the matching Acquire.
type Locker interface {
	Acquire(jobID, operation string, estimated time.Duration) (token string, ok bool, err error)
	Release(jobID, token string) error
}

// Status is the engine report served at /status.
type Status struct {
	Running              bool                    `json:"running"`
	RunningWorkers       int                     `json:"runningWorkers"`
	ActiveJobs           int                     `json:"activeJobs"`
	QueueDepthByPriority map[domain.Priority]int `json:"queueDepthByPriority"`
	CircuitBreakers      []breaker.Snapshot      `json:"circuitBreakers"`
	Performance          PerformanceReport       `json:"performance"`
	Locks                int                     `json:"locks,omitempty"`
	GeneratedAt          time.Time               `json:"generatedAt"`
}

// PerformanceReport is the rolling window in JSON-friendly units.
type PerformanceReport struct {
	Throughput float64 `json:"throughput"`
	AvgLatency float64 `json:"avgLatency"` // seconds
	ErrorRate  float64 `json:"errorRate"`
	Samples    int     `json:"samples"`
}
