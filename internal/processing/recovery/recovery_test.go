package recovery

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/breaker"
	"github.com/vietddude/jobrunner/internal/processing/classify"
)

// =============================================================================
// Policy Tests
// =============================================================================

func TestPolicy_DelayBounds(t *testing.T) {
	policy := DefaultPolicy()

	for _, category := range domain.Categories {
		base := policy.BaseDelay[category]
		prev := time.Duration(0)
		for attempt := 0; attempt <= 10; attempt++ {
			for range 50 {
				d := policy.Delay(category, attempt)
				upper := time.Duration(float64(base) * math.Pow(2, float64(min(attempt, maxExponent))) * 1.3)
				if d < base || d > upper {
					t.Fatalf("%s attempt %d: delay %v outside [%v, %v]", category, attempt, d, base, upper)
				}
				if d < prev {
					t.Fatalf("%s attempt %d: delay %v shrank below previous %v", category, attempt, d, prev)
				}
			}
			// The smallest delay of this attempt is a floor for the next one.
			prev = time.Duration(float64(base) * math.Pow(2, float64(min(attempt, maxExponent))) * 1.1)
		}
	}
}

func TestPolicy_DelayDeterministicJitter(t *testing.T) {
	policy := DefaultPolicy()
	policy.rand = func() float64 { return 0 }
	policy.BaseDelay[domain.CategoryNetwork] = time.Second

	if d := policy.Delay(domain.CategoryNetwork, 0); d != 1100*time.Millisecond {
		t.Errorf("attempt 0: expected 1.1s, got %v", d)
	}
	if d := policy.Delay(domain.CategoryNetwork, 3); d != 8800*time.Millisecond {
		t.Errorf("attempt 3: expected 8.8s, got %v", d)
	}
	if d := policy.Delay(domain.CategoryNetwork, 20); d != 83200*time.Millisecond {
		t.Errorf("attempt 20: expected cap 83.2s, got %v", d)
	}
}

func TestPolicy_Override(t *testing.T) {
	policy := DefaultPolicy()
	policy.Override(
		map[domain.ErrorCategory]time.Duration{domain.CategoryNetwork: 3 * time.Second},
		map[domain.ErrorCategory]int{domain.CategoryValidation: 0, domain.CategoryNetwork: 9},
	)

	if policy.BaseDelay[domain.CategoryNetwork] != 3*time.Second {
		t.Error("base delay override not applied")
	}
	if policy.MaxRetries(domain.CategoryValidation) != 0 {
		t.Error("validation retries override not applied")
	}
	if policy.MaxRetries(domain.CategoryNetwork) != 9 {
		t.Error("network retries override not applied")
	}
	if policy.MaxRetries(domain.CategoryExternalService) != 3 {
		t.Error("untouched category lost its default")
	}
}

// =============================================================================
// Cleaner Tests
// =============================================================================

func TestCleaner_FilesFirstAndSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var order []string
	cleaner := NewCleaner(nil)
	cleaner.Register("branch", DeleterFunc(func(ctx context.Context, r domain.Resource) error {
		order = append(order, r.String())
		if r.Handle == "broken" {
			return errors.New("remote refused")
		}
		return nil
	}))

	attempt := &domain.AttemptContext{JobID: "J1"}
	attempt.AddResource("branch", "feature-1")
	attempt.AddResource(domain.ResourceKindFile, file)
	attempt.AddResource("branch", "broken")
	attempt.AddResource("unknown-kind", "x")

	cleaned := cleaner.Cleanup(context.Background(), attempt)

	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
	if len(cleaned) != 2 {
		t.Fatalf("expected 2 cleaned resources, got %v", cleaned)
	}
	if cleaned[0].Kind != domain.ResourceKindFile {
		t.Errorf("expected file to be cleaned first, got %v", cleaned[0])
	}
	if len(order) != 2 || order[0] != "branch:broken" || order[1] != "branch:feature-1" {
		t.Errorf("expected remote deletions newest first, got %v", order)
	}
}

// =============================================================================
// Dispatcher Tests
// =============================================================================

func newTestDispatcher(cfg Config) (*Dispatcher, *breaker.Registry) {
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	cfg.Policy.rand = func() float64 { return 0 }
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 100, RecoveryTimeout: time.Minute}, nil)
	return NewDispatcher(cfg, classify.Default(), breakers, NewCleaner(nil), nil), breakers
}

func attemptFor(op string, retries int) *domain.AttemptContext {
	return &domain.AttemptContext{JobID: "J1", Operation: op, RetryCount: retries}
}

func TestDispatcher_ExternalService(t *testing.T) {
	d, _ := newTestDispatcher(Config{RateLimitDelay: time.Hour})
	ctx := context.Background()

	res := d.Recover(ctx, attemptFor("api", 0), errors.New("403 Forbidden"))
	if res.Action != domain.ActionAbort {
		t.Errorf("auth failure: expected ABORT, got %s", res.Action)
	}

	res = d.Recover(ctx, attemptFor("api", 10), errors.New("API rate limit exceeded"))
	if res.Action != domain.ActionRetry || res.RetryAfter != time.Hour {
		t.Errorf("rate limit: expected RETRY after 1h regardless of budget, got %s after %v", res.Action, res.RetryAfter)
	}

	res = d.Recover(ctx, attemptFor("api", 0), errors.New("503 service unavailable"))
	if res.Action != domain.ActionRetry {
		t.Errorf("expected RETRY within budget, got %s", res.Action)
	}

	res = d.Recover(ctx, attemptFor("api", 3), errors.New("503 service unavailable"))
	if res.Action != domain.ActionAbort {
		t.Errorf("expected ABORT after budget, got %s", res.Action)
	}
}

func TestDispatcher_StatusCodesMatchWholeNumbers(t *testing.T) {
	d, _ := newTestDispatcher(Config{RateLimitDelay: time.Hour})
	ctx := context.Background()

	err := domain.WithCategory(errors.New("api error for job 14031"), domain.CategoryExternalService)
	res := d.Recover(ctx, attemptFor("api", 0), err)
	if res.Action != domain.ActionRetry || res.RetryAfter == time.Hour {
		t.Errorf("id digits: expected plain RETRY, got %s after %v", res.Action, res.RetryAfter)
	}

	res = d.Recover(ctx, attemptFor("api", 0), errors.New("upstream returned status 429"))
	if res.Action != domain.ActionRetry || res.RetryAfter != time.Hour {
		t.Errorf("status 429: expected RETRY after 1h, got %s after %v", res.Action, res.RetryAfter)
	}
}

func TestDispatcher_MergeConflictRollsBack(t *testing.T) {
	d, _ := newTestDispatcher(Config{})
	dir := t.TempDir()
	file := filepath.Join(dir, "generated.go")
	_ = os.WriteFile(file, nil, 0o644)

	attempt := attemptFor("git.merge", 0)
	attempt.AddResource(domain.ResourceKindFile, file)

	res := d.Recover(context.Background(), attempt, errors.New("Automatic merge failed; fix conflicts"))
	if res.Action != domain.ActionRollback {
		t.Fatalf("expected ROLLBACK, got %s", res.Action)
	}
	if !res.Success || len(res.CleanedResources) != 1 {
		t.Errorf("expected the file to be cleaned, got %+v", res)
	}
	if len(attempt.CreatedResources) != 0 {
		t.Errorf("cleaned resources should be dropped from the attempt")
	}
}

func TestDispatcher_AlreadyExistsCleansThenRetries(t *testing.T) {
	d, _ := newTestDispatcher(Config{})

	var deleted []string
	d.Cleaner().Register("branch", DeleterFunc(func(ctx context.Context, r domain.Resource) error {
		deleted = append(deleted, r.Handle)
		return nil
	}))

	attempt := attemptFor("git.push", 0)
	attempt.AddResource("branch", "jobrunner/J1")

	res := d.Recover(context.Background(), attempt, errors.New("remote branch jobrunner/J1 already exists"))
	if res.Action != domain.ActionRetry {
		t.Fatalf("expected RETRY, got %s (%s)", res.Action, res.Message)
	}
	if len(deleted) != 1 || deleted[0] != "jobrunner/J1" {
		t.Errorf("expected conflicting branch to be deleted, got %v", deleted)
	}
}

func TestDispatcher_AlreadyExistsUsesConflictError(t *testing.T) {
	d, _ := newTestDispatcher(Config{})

	var deleted []string
	d.Cleaner().Register("pull_request", DeleterFunc(func(ctx context.Context, r domain.Resource) error {
		deleted = append(deleted, r.Handle)
		return nil
	}))

	err := domain.WithConflict(errors.New("pull request already exists"), domain.Resource{Kind: "pull_request", Handle: "42"})
	res := d.Recover(context.Background(), attemptFor("pr.create", 0), err)
	if res.Action != domain.ActionRetry {
		t.Fatalf("expected RETRY, got %s", res.Action)
	}
	if len(deleted) != 1 || deleted[0] != "42" {
		t.Errorf("expected PR 42 to be deleted, got %v", deleted)
	}
}

func TestDispatcher_AlreadyExistsCleanupFailureRollsBack(t *testing.T) {
	d, _ := newTestDispatcher(Config{})
	attempt := attemptFor("git.push", 0)
	attempt.AddResource("branch", "b1") // no deleter registered

	res := d.Recover(context.Background(), attempt, errors.New("already exists"))
	if res.Action != domain.ActionRollback {
		t.Errorf("expected ROLLBACK when cleanup fails, got %s", res.Action)
	}
}

func TestDispatcher_UncommittedStash(t *testing.T) {
	stashed := 0
	d, _ := newTestDispatcher(Config{Stash: func(ctx context.Context, a *domain.AttemptContext) error {
		stashed++
		return nil
	}})

	res := d.Recover(context.Background(), attemptFor("git.checkout", 0), errors.New("your local changes would be overwritten"))
	if res.Action != domain.ActionRetry || stashed != 1 {
		t.Errorf("expected stash then RETRY, got %s (stashed=%d)", res.Action, stashed)
	}

	noStash, _ := newTestDispatcher(Config{})
	res = noStash.Recover(context.Background(), attemptFor("git.checkout", 0), errors.New("uncommitted changes"))
	if res.Action != domain.ActionRollback {
		t.Errorf("expected ROLLBACK without stash hook, got %s", res.Action)
	}
}

func TestDispatcher_OperationExhaustedRollsBack(t *testing.T) {
	d, _ := newTestDispatcher(Config{})
	res := d.Recover(context.Background(), attemptFor("git.commit", 2), errors.New("nothing to commit"))
	if res.Action != domain.ActionRollback {
		t.Errorf("expected ROLLBACK, got %s", res.Action)
	}
}

func TestDispatcher_TransientCircuitBreaks(t *testing.T) {
	d, breakers := newTestDispatcher(Config{})
	ctx := context.Background()

	res := d.Recover(ctx, attemptFor("fetch", 4), errors.New("connection refused"))
	if res.Action != domain.ActionRetry {
		t.Fatalf("expected RETRY within network budget, got %s", res.Action)
	}

	res = d.Recover(ctx, attemptFor("fetch", 5), errors.New("connection refused"))
	if res.Action != domain.ActionCircuitBreak {
		t.Fatalf("expected CIRCUIT_BREAK, got %s", res.Action)
	}
	if breakers.Get("fetch").State() != breaker.StateOpen {
		t.Error("circuit break decision should open the operation's breaker")
	}
	if d.Admit("fetch") {
		t.Error("open breaker must refuse admission")
	}
	if !d.Admit("other") {
		t.Error("other operations must be unaffected")
	}
}

func TestDispatcher_ValidationAndResource(t *testing.T) {
	d, _ := newTestDispatcher(Config{})
	ctx := context.Background()

	if res := d.Recover(ctx, attemptFor("op", 1), errors.New("invalid payload")); res.Action != domain.ActionAbort {
		t.Errorf("validation: expected ABORT, got %s", res.Action)
	}
	if res := d.Recover(ctx, attemptFor("op", 2), errors.New("no space left on device")); res.Action != domain.ActionRollback {
		t.Errorf("resource: expected ROLLBACK, got %s", res.Action)
	}
}
