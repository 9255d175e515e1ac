// Package lock keeps a job from being processed twice at once, or again
// too soon after it last finished. Locks are process-local and persisted to
// disk so a restart can rebuild them; this is not distributed coordination.
package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/metrics"
)

var (
	ErrLockNotFound = errors.New("job lock not found")
	ErrNotOwner     = errors.New("job lock is held by another owner")
)

// Options configures a Manager.
type Options struct {
	// OwnerID identifies this process. Defaults to DefaultOwnerID().
	OwnerID string

	// MinInterval is the minimum time between two runs of the same job.
	// Zero disables the gate.
	MinInterval time.Duration

	// ExpiryFloor is the minimum lock lifetime, whatever the estimate.
	ExpiryFloor time.Duration

	Logger *slog.Logger
}

// DefaultOptions returns the built-in lock settings.
func DefaultOptions() Options {
	return Options{
		MinInterval: 5 * time.Minute,
		ExpiryFloor: 300 * time.Second,
	}
}

// DefaultOwnerID returns host:pid:random, unique per process start.
func DefaultOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Manager gates job execution. The in-memory maps are guarded by a single
// mutex; the store is the durable copy.
type Manager struct {
	mu            sync.Mutex
	store         Store
	locks         map[string]*domain.JobLock
	lastProcessed map[string]time.Time
	ownerID       string
	minInterval   time.Duration
	expiryFloor   time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewManager creates a manager. Call Restore before serving jobs.
func NewManager(store Store, opts Options) *Manager {
	defaults := DefaultOptions()
	if opts.OwnerID == "" {
		opts.OwnerID = DefaultOwnerID()
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = defaults.MinInterval
	}
	if opts.ExpiryFloor <= 0 {
		opts.ExpiryFloor = defaults.ExpiryFloor
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		store:         store,
		locks:         make(map[string]*domain.JobLock),
		lastProcessed: make(map[string]time.Time),
		ownerID:       opts.OwnerID,
		minInterval:   opts.MinInterval,
		expiryFloor:   opts.ExpiryFloor,
		logger:        opts.Logger,
		now:           time.Now,
	}
}

// OwnerID returns this manager's identity.
func (m *Manager) OwnerID() string {
	return m.ownerID
}

// Restore rebuilds held locks and processed times from the store.
// Expired locks are discarded and their files removed.
func (m *Manager) Restore() (int, error) {
	locks, err := m.store.Load()
	if err != nil {
		return 0, fmt.Errorf("failed to load locks: %w", err)
	}
	processed, err := m.store.LoadProcessed()
	if err != nil {
		return 0, fmt.Errorf("failed to load processed markers: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	restored := 0
	for i := range locks {
		l := locks[i]
		if l.Expired(now, m.expiryFloor) {
			if err := m.store.Delete(l.JobID); err != nil {
				m.logger.Warn("failed to delete expired lock", "job_id", l.JobID, "error", err)
			}
			m.logger.Info("discarded expired lock on restore",
				"job_id", l.JobID,
				"owner_id", l.OwnerID,
				"age", now.Sub(l.AcquiredAt).Round(time.Second))
			continue
		}
		m.locks[l.JobID] = &l
		restored++
	}

	for jobID, at := range processed {
		if now.Sub(at) >= m.minInterval {
			_ = m.store.DeleteProcessed(jobID)
			continue
		}
		m.lastProcessed[jobID] = at
	}

	metrics.LocksHeld.Set(float64(len(m.locks)))
	m.logger.Info("job locks restored",
		"restored", restored,
		"discarded", len(locks)-restored,
		"recently_processed", len(m.lastProcessed))
	return restored, nil
}

// Acquire takes the lock for jobID and returns the token that releases it.
// ok is false when a live lock exists or the job finished less than
// MinInterval ago.
func (m *Manager) Acquire(jobID, operation string, estimated time.Duration) (token string, ok bool, err error) {
	if jobID == "" {
		return "", false, errors.New("job id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, found := m.locks[jobID]; found {
		if !held.Expired(now, m.expiryFloor) {
			metrics.LockAcquisitions.WithLabelValues("locked").Inc()
			return "", false, nil
		}
		m.logger.Warn("replacing expired lock",
			"job_id", jobID,
			"owner_id", held.OwnerID,
			"acquired_at", held.AcquiredAt)
		m.dropLocked(jobID)
	}

	if last, found := m.lastProcessed[jobID]; found && now.Sub(last) < m.minInterval {
		metrics.LockAcquisitions.WithLabelValues("too_soon").Inc()
		return "", false, nil
	}

	l := &domain.JobLock{
		JobID:             jobID,
		AcquiredAt:        now,
		OwnerID:           m.ownerID,
		Operation:         operation,
		EstimatedDuration: estimated,
		Token:             uuid.NewString(),
	}
	if err := m.store.Save(*l); err != nil {
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		return "", false, fmt.Errorf("failed to persist lock for %s: %w", jobID, err)
	}

	m.locks[jobID] = l
	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	metrics.LocksHeld.Set(float64(len(m.locks)))
	return l.Token, true, nil
}

// Release frees the lock acquired with token and starts the job's
// minimum-interval window. A token from an acquisition that has since
// expired and been replaced gets ErrNotOwner, and the newer lock stays.
func (m *Manager) Release(jobID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.locks[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockNotFound, jobID)
	}
	if held.OwnerID != m.ownerID {
		return fmt.Errorf("%w: %s owned by %s", ErrNotOwner, jobID, held.OwnerID)
	}
	if held.Token != token {
		return fmt.Errorf("%w: %s was re-acquired since", ErrNotOwner, jobID)
	}

	m.dropLocked(jobID)

	now := m.now()
	m.lastProcessed[jobID] = now
	if err := m.store.SaveProcessed(jobID, now); err != nil {
		m.logger.Warn("failed to persist processed marker", "job_id", jobID, "error", err)
	}
	return nil
}

// ForceRelease removes a lock whoever owns it. It is meant for operators
// and does not start a minimum-interval window.
func (m *Manager) ForceRelease(jobID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.locks[jobID]
	owner := ""
	if ok {
		owner = held.OwnerID
	}

	m.logger.Warn("force releasing job lock",
		"job_id", jobID,
		"owner_id", owner,
		"reason", reason,
		"by", m.ownerID)

	if !ok {
		// The lock may only exist on disk, e.g. when run from the CLI.
		if err := m.store.Delete(jobID); err != nil {
			return err
		}
		return nil
	}
	m.dropLocked(jobID)
	return nil
}

// SweepExpired removes expired locks and stale processed times. It returns
// the job ids whose locks were removed.
func (m *Manager) SweepExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var swept []string
	for jobID, l := range m.locks {
		if l.Expired(now, m.expiryFloor) {
			m.dropLocked(jobID)
			swept = append(swept, jobID)
		}
	}
	for jobID, at := range m.lastProcessed {
		if now.Sub(at) >= m.minInterval {
			delete(m.lastProcessed, jobID)
			_ = m.store.DeleteProcessed(jobID)
		}
	}

	if len(swept) > 0 {
		sort.Strings(swept)
		m.logger.Info("swept expired job locks", "count", len(swept), "job_ids", swept)
	}
	return swept
}

// Held returns the live locks sorted by job id.
func (m *Manager) Held() []domain.JobLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.JobLock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// dropLocked removes the in-memory entry and the file.
func (m *Manager) dropLocked(jobID string) {
	delete(m.locks, jobID)
	if err := m.store.Delete(jobID); err != nil {
		m.logger.Warn("failed to delete lock file", "job_id", jobID, "error", err)
	}
	metrics.LocksHeld.Set(float64(len(m.locks)))
}
