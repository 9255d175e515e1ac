package domain

import "time"

// OutcomeStatus is the terminal state of a job.
type OutcomeStatus string

const (
	OutcomeSuccess  OutcomeStatus = "success"
	OutcomeFailure  OutcomeStatus = "failure"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeEvicted  OutcomeStatus = "evicted"
	OutcomeDeferred OutcomeStatus = "deferred"
)

// Outcome is what the engine reports for a job instead of raising.
type Outcome struct {
	JobID            string         `json:"job_id"`
	Priority         Priority       `json:"priority"`
	Operation        string         `json:"operation"`
	Status           OutcomeStatus  `json:"status"`
	Category         ErrorCategory  `json:"category,omitempty"`
	Message          string         `json:"message,omitempty"`
	Attempts         int            `json:"attempts"`
	Action           RecoveryAction `json:"action,omitempty"`
	CleanedResources []Resource     `json:"cleaned_resources,omitempty"`
	RetryAfter       time.Duration  `json:"retry_after,omitempty"`
	Duration         time.Duration  `json:"duration"`
	FinishedAt       time.Time      `json:"finished_at"`
}

// Failed reports whether the outcome counts as an error.
func (o *Outcome) Failed() bool {
	return o.Status == OutcomeFailure
}
