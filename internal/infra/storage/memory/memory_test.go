package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/infra/storage"
)

func TestOutcomeRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewOutcomeRepo(NewMemoryStorage())
	base := time.Unix(1_700_000_000, 0)

	for i, status := range []domain.OutcomeStatus{
		domain.OutcomeSuccess, domain.OutcomeFailure, domain.OutcomeSuccess, domain.OutcomeSkipped,
	} {
		id := "J1"
		if i%2 == 1 {
			id = "J2"
		}
		o := &domain.Outcome{JobID: id, Status: status, FinishedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Save(ctx, o); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	recent, _ := repo.ListRecent(ctx, "", 2)
	if len(recent) != 2 || recent[0].Status != domain.OutcomeSkipped {
		t.Errorf("ListRecent returned %+v", recent)
	}

	j1, _ := repo.ListRecent(ctx, "J1", 0)
	if len(j1) != 2 {
		t.Errorf("expected 2 outcomes for J1, got %d", len(j1))
	}

	counts, _ := repo.CountByStatus(ctx, base.Add(time.Minute))
	if counts[domain.OutcomeSuccess] != 1 || counts[domain.OutcomeFailure] != 1 || counts[domain.OutcomeSkipped] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	deleted, _ := repo.DeleteBefore(ctx, base.Add(2*time.Minute))
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}
	all, _ := repo.ListRecent(ctx, "", 0)
	if len(all) != 2 {
		t.Errorf("expected 2 remaining, got %d", len(all))
	}
}

func TestOutcomeRepoBounded(t *testing.T) {
	store := NewMemoryStorage()
	store.maxOutcomes = 3
	repo := NewOutcomeRepo(store)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_ = repo.Save(context.Background(), &domain.Outcome{JobID: id})
	}
	all, _ := repo.ListRecent(context.Background(), "", 0)
	if len(all) != 3 || all[0].JobID != "e" || all[2].JobID != "c" {
		t.Errorf("unexpected history %+v", all)
	}
}

func TestFailedJobRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewFailedJobRepo(NewMemoryStorage())
	base := time.Unix(1_700_000_000, 0)

	_ = repo.Add(ctx, &domain.FailedJob{ID: "f1", JobID: "J1", FailedAt: base})
	_ = repo.Add(ctx, &domain.FailedJob{ID: "f2", JobID: "J2", FailedAt: base.Add(time.Minute)})

	n, _ := repo.Count(ctx)
	if n != 2 {
		t.Fatalf("expected 2 pending, got %d", n)
	}

	all, _ := repo.GetAll(ctx, 0)
	if len(all) != 2 || all[0].ID != "f2" {
		t.Errorf("expected newest first, got %+v", all)
	}

	if err := repo.MarkResolved(ctx, "f1"); err != nil {
		t.Fatalf("MarkResolved failed: %v", err)
	}
	n, _ = repo.Count(ctx)
	if n != 1 {
		t.Errorf("expected 1 pending, got %d", n)
	}

	f, err := repo.Get(ctx, "f1")
	if err != nil || f.Status != domain.FailedJobStatusResolved {
		t.Errorf("Get(f1) = %+v, %v", f, err)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, storage.ErrFailedJobNotFound) {
		t.Errorf("expected ErrFailedJobNotFound, got %v", err)
	}
}
