package domain

import "time"

// JobLock is a mutual-exclusion record for a job id.
type JobLock struct {
	JobID             string
	AcquiredAt        time.Time
	OwnerID           string
	Operation         string
	EstimatedDuration time.Duration

	// Token is minted per acquisition. Only the holder of the token can
	// release the lock normally.
	Token string
}

// TTL is the lock lifetime: the estimate, but never less than floor.
func (l *JobLock) TTL(floor time.Duration) time.Duration {
	return max(l.EstimatedDuration, floor)
}

// Expired reports whether the lock outlived its TTL at now.
func (l *JobLock) Expired(now time.Time, floor time.Duration) bool {
	return now.Sub(l.AcquiredAt) > l.TTL(floor)
}
