package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/jobrunner/internal/core/config"
	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/health"
	"github.com/vietddude/jobrunner/internal/processing/pool"
)

type outcomeChan chan domain.Outcome

func (c outcomeChan) Notify(_ context.Context, o domain.Outcome) { c <- o }

func (c outcomeChan) next(t *testing.T) domain.Outcome {
	t.Helper()
	select {
	case o := <-c:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return domain.Outcome{}
	}
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = -1
	cfg.Lock.Directory = t.TempDir()
	disabled := false
	cfg.Adaptive.Enabled = &disabled
	cfg.Engine.MaxConcurrency = 2
	cfg.Engine.InitialConcurrency = 2
	cfg.Retry.BaseDelaySeconds = map[string]float64{}
	for _, c := range domain.Categories {
		cfg.Retry.BaseDelaySeconds[string(c)] = 0.001
	}
	cfg.Retry.MaxRetries = map[string]int{"validation": 0}
	require.NoError(t, cfg.Validate())
	return cfg
}

func startEngine(t *testing.T, cfg *config.AppConfig, exec pool.Executor) (*Engine, outcomeChan) {
	t.Helper()
	out := make(outcomeChan, 16)
	e, err := NewEngine(context.Background(), cfg, Options{
		Executor:  exec,
		Notifiers: []pool.Notifier{out},
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return e, out
}

func TestEngine_RunsAndRecords(t *testing.T) {
	exec := pool.ExecutorFunc(func(_ context.Context, job *domain.Job, _ *domain.AttemptContext) error {
		if job.ID == "bad" {
			return errors.New("invalid payload: missing required field")
		}
		return nil
	})
	e, out := startEngine(t, testConfig(t), exec)

	require.NoError(t, e.Submit(&domain.Job{ID: "good", Priority: domain.PriorityHigh}))
	o := out.next(t)
	assert.Equal(t, "good", o.JobID)
	assert.Equal(t, domain.OutcomeSuccess, o.Status)

	require.NoError(t, e.Submit(&domain.Job{ID: "bad", Priority: domain.PriorityLow}))
	o = out.next(t)
	assert.Equal(t, domain.OutcomeFailure, o.Status)
	assert.Equal(t, domain.CategoryValidation, o.Category)

	count, err := e.FailedJobs().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	history, err := e.Outcomes().ListRecent(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	status := e.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.RunningWorkers)
}

func TestEngine_MinIntervalSkipsRerun(t *testing.T) {
	exec := pool.ExecutorFunc(func(context.Context, *domain.Job, *domain.AttemptContext) error {
		return nil
	})
	e, out := startEngine(t, testConfig(t), exec)

	require.NoError(t, e.Submit(&domain.Job{ID: "j1", Priority: domain.PriorityMedium}))
	assert.Equal(t, domain.OutcomeSuccess, out.next(t).Status)

	require.NoError(t, e.Submit(&domain.Job{ID: "j1", Priority: domain.PriorityMedium}))
	o := out.next(t)
	assert.Equal(t, domain.OutcomeSkipped, o.Status)
	assert.Empty(t, e.Locks().Held())
}

func TestEngine_Health(t *testing.T) {
	exec := pool.ExecutorFunc(func(context.Context, *domain.Job, *domain.AttemptContext) error {
		return nil
	})
	e, _ := startEngine(t, testConfig(t), exec)

	report := e.Health(context.Background())
	assert.Equal(t, health.StatusHealthy, report.SystemStatus)
}

func TestNewEngine_RequiresExecutor(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewEngine(context.Background(), cfg, Options{Logger: quietLogger()})
	require.Error(t, err)
}

func TestEngine_StartTwice(t *testing.T) {
	exec := pool.ExecutorFunc(func(context.Context, *domain.Job, *domain.AttemptContext) error {
		return nil
	})
	e, _ := startEngine(t, testConfig(t), exec)
	assert.ErrorIs(t, e.Start(context.Background()), pool.ErrAlreadyRunning)
}

func TestEngine_LockReleaseClearsHeldLock(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 18089
	exec := pool.ExecutorFunc(func(context.Context, *domain.Job, *domain.AttemptContext) error { return nil })
	e, err := NewEngine(context.Background(), cfg, Options{Executor: exec, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	_, ok, err := e.Locks().Acquire("J1", "op", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	srv := httptest.NewServer(e.httpServer.Handler())
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/locks/J1/release?reason=stuck", "", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Empty(t, e.Locks().Held())
	_, ok, err = e.Locks().Acquire("J1", "op", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "job runs again without waiting for the lock to expire")
}
