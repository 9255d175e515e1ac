package domain

import "time"

// RecoveryAction is the dispatcher's decision for a failed attempt.
type RecoveryAction string

const (
	ActionRetry        RecoveryAction = "RETRY"
	ActionRollback     RecoveryAction = "ROLLBACK"
	ActionAbort        RecoveryAction = "ABORT"
	ActionCircuitBreak RecoveryAction = "CIRCUIT_BREAK"
)

// RecoveryResult is produced once per failed attempt.
type RecoveryResult struct {
	Success          bool           `json:"success"`
	Action           RecoveryAction `json:"action"`
	Message          string         `json:"message"`
	RetryAfter       time.Duration  `json:"retry_after,omitempty"`
	CleanedResources []Resource     `json:"cleaned_resources,omitempty"`
}

// Terminal reports whether the job stops after this result.
func (r RecoveryResult) Terminal() bool {
	return r.Action != ActionRetry
}
