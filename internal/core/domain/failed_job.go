package domain

import "time"

// FailedJob is a job that ended in failure, kept for operator review.
type FailedJob struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Priority  Priority        `json:"priority"`
	Operation string          `json:"operation"`
	Category  ErrorCategory   `json:"category"`
	Action    RecoveryAction  `json:"action"`
	Error     string          `json:"error_msg"`
	Attempts  int             `json:"attempts"`
	Status    FailedJobStatus `json:"status"`
	FailedAt  time.Time       `json:"failed_at"`
}

type FailedJobStatus string

const (
	FailedJobStatusPending  FailedJobStatus = "pending"
	FailedJobStatusResolved FailedJobStatus = "resolved"
	FailedJobStatusIgnored  FailedJobStatus = "ignored"
)
