package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority is a dequeue preference tier.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Priorities lists the tiers from most to least preferred.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// DefaultOperation is used when a job does not name one.
const DefaultOperation = "job.execute"

// Rank returns the tier index, 0 being the most preferred.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return -1
}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// ParsePriority parses a tier name, case-insensitively. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Job is a caller-defined unit of work. The engine never inspects Payload.
type Job struct {
	ID         string    `json:"id"`
	Priority   Priority  `json:"priority"`
	Operation  string    `json:"operation,omitempty"`
	Payload    []byte    `json:"payload,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// OperationOrDefault returns the breaker/retry key for the job.
func (j *Job) OperationOrDefault() string {
	if j.Operation == "" {
		return DefaultOperation
	}
	return j.Operation
}
