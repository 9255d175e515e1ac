package domain

import (
	"fmt"
	"time"
)

// ResourceKindFile is a local path. Every other kind is remote.
const ResourceKindFile = "file"

// Resource is a handle to an artifact created by an attempt.
type Resource struct {
	Kind   string `json:"kind"`
	Handle string `json:"handle"`
}

func (r Resource) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.Handle)
}

// IsFile reports whether the resource lives on the local filesystem.
func (r Resource) IsFile() bool {
	return r.Kind == ResourceKindFile
}

// AttemptContext carries one job's failure state across retries.
type AttemptContext struct {
	JobID            string
	Operation        string
	Category         ErrorCategory
	OriginalError    error
	RetryCount       int
	CreatedResources []Resource
	StartedAt        time.Time
}

// NewAttemptContext starts the context for a job's first attempt.
func NewAttemptContext(job *Job) *AttemptContext {
	return &AttemptContext{
		JobID:     job.ID,
		Operation: job.OperationOrDefault(),
		Category:  CategoryUnknown,
		StartedAt: time.Now(),
	}
}

// AddResource records an artifact so it can be rolled back.
func (a *AttemptContext) AddResource(kind, handle string) {
	a.CreatedResources = append(a.CreatedResources, Resource{Kind: kind, Handle: handle})
}

// RemoveResources drops handles that no longer exist.
func (a *AttemptContext) RemoveResources(gone []Resource) {
	if len(gone) == 0 {
		return
	}
	drop := make(map[Resource]struct{}, len(gone))
	for _, r := range gone {
		drop[r] = struct{}{}
	}
	kept := a.CreatedResources[:0]
	for _, r := range a.CreatedResources {
		if _, ok := drop[r]; !ok {
			kept = append(kept, r)
		}
	}
	a.CreatedResources = kept
}

// ErrorMessage returns the original error text, or "".
func (a *AttemptContext) ErrorMessage() string {
	if a.OriginalError == nil {
		return ""
	}
	return a.OriginalError.Error()
}
