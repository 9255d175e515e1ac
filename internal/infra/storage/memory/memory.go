package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/infra/storage"
)

// MemoryStorage backs the repositories when no database is configured.
// History is bounded so a long-running process doesn't grow without limit.
type MemoryStorage struct {
	outcomes    []*domain.Outcome
	maxOutcomes int
	failed      map[string]*domain.FailedJob
	mu          sync.RWMutex
}

// DefaultMaxOutcomes bounds the in-memory outcome history.
const DefaultMaxOutcomes = 10000

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		maxOutcomes: DefaultMaxOutcomes,
		failed:      make(map[string]*domain.FailedJob),
	}
}

// -----------------------------------------------------------------------------
// Outcome Repository
// -----------------------------------------------------------------------------

type OutcomeRepo struct {
	store *MemoryStorage
}

func NewOutcomeRepo(store *MemoryStorage) *OutcomeRepo {
	return &OutcomeRepo{store: store}
}

func (r *OutcomeRepo) Save(ctx context.Context, o *domain.Outcome) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *o
	r.store.outcomes = append(r.store.outcomes, &cp)
	if over := len(r.store.outcomes) - r.store.maxOutcomes; over > 0 {
		r.store.outcomes = append(r.store.outcomes[:0:0], r.store.outcomes[over:]...)
	}
	return nil
}

func (r *OutcomeRepo) ListRecent(ctx context.Context, jobID string, limit int) ([]*domain.Outcome, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.Outcome
	for i := len(r.store.outcomes) - 1; i >= 0; i-- {
		o := r.store.outcomes[i]
		if jobID != "" && o.JobID != jobID {
			continue
		}
		cp := *o
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *OutcomeRepo) CountByStatus(ctx context.Context, since time.Time) (map[domain.OutcomeStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	counts := make(map[domain.OutcomeStatus]int)
	for _, o := range r.store.outcomes {
		if !o.FinishedAt.Before(since) {
			counts[o.Status]++
		}
	}
	return counts, nil
}

func (r *OutcomeRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.outcomes[:0]
	var deleted int64
	for _, o := range r.store.outcomes {
		if o.FinishedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, o)
	}
	r.store.outcomes = kept
	return deleted, nil
}

// -----------------------------------------------------------------------------
// Failed Job Repository
// -----------------------------------------------------------------------------

type FailedJobRepo struct {
	store *MemoryStorage
}

func NewFailedJobRepo(store *MemoryStorage) *FailedJobRepo {
	return &FailedJobRepo{store: store}
}

func (r *FailedJobRepo) Add(ctx context.Context, f *domain.FailedJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *f
	if cp.Status == "" {
		cp.Status = domain.FailedJobStatusPending
	}
	r.store.failed[f.ID] = &cp
	return nil
}

func (r *FailedJobRepo) Get(ctx context.Context, id string) (*domain.FailedJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	f, ok := r.store.failed[id]
	if !ok {
		return nil, storage.ErrFailedJobNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *FailedJobRepo) GetAll(ctx context.Context, limit int) ([]*domain.FailedJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*domain.FailedJob, 0, len(r.store.failed))
	for _, f := range r.store.failed {
		if f.Status != domain.FailedJobStatusPending {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *FailedJobRepo) MarkResolved(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	f, ok := r.store.failed[id]
	if !ok {
		return storage.ErrFailedJobNotFound
	}
	f.Status = domain.FailedJobStatusResolved
	return nil
}

func (r *FailedJobRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, f := range r.store.failed {
		if f.Status == domain.FailedJobStatusPending {
			n++
		}
	}
	return n, nil
}
