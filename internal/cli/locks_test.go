package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/jobrunner/internal/core/config"
	"github.com/vietddude/jobrunner/internal/processing/lock"
)

func lockedConfig(t *testing.T, jobID string) (*config.AppConfig, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Lock.Directory = t.TempDir()

	store, err := lock.NewFileStore(cfg.Lock.Directory, nil)
	require.NoError(t, err)
	_, ok, err := lock.NewManager(store, lock.Options{OwnerID: "engine"}).Acquire(jobID, "op", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	matches, err := filepath.Glob(filepath.Join(cfg.Lock.Directory, "*.lock.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	return cfg, matches[0]
}

func TestReleaseLock_UsesRunningEngine(t *testing.T) {
	cfg, file := lockedConfig(t, "jobs/nightly")

	var gotPath, gotReason string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.EscapedPath()
		gotReason = r.URL.Query().Get("reason")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &apiClient{base: srv.URL, http: srv.Client()}
	viaAPI, err := releaseLock(context.Background(), cfg, c, "jobs/nightly", "stuck worker")
	require.NoError(t, err)
	assert.True(t, viaAPI)
	assert.Equal(t, "/locks/jobs%2Fnightly/release", gotPath)
	assert.Equal(t, "stuck worker", gotReason)

	// The engine owns the file; the CLI leaves it alone.
	_, err = os.Stat(file)
	assert.NoError(t, err)
}

func TestReleaseLock_FallsBackWhenEngineUnreachable(t *testing.T) {
	cfg, file := lockedConfig(t, "J1")

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := &apiClient{base: base, http: &http.Client{Timeout: time.Second}}
	viaAPI, err := releaseLock(context.Background(), cfg, c, "J1", "manual")
	require.NoError(t, err)
	assert.False(t, viaAPI)

	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))
}

func TestReleaseLock_EngineErrorIsNotBypassed(t *testing.T) {
	cfg, file := lockedConfig(t, "J1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &apiClient{base: srv.URL, http: srv.Client()}
	_, err := releaseLock(context.Background(), cfg, c, "J1", "manual")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, err = os.Stat(file)
	assert.NoError(t, err)
}

func TestReleaseLock_NoServerConfigured(t *testing.T) {
	cfg, file := lockedConfig(t, "J1")

	viaAPI, err := releaseLock(context.Background(), cfg, nil, "J1", "manual")
	require.NoError(t, err)
	assert.False(t, viaAPI)

	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))
}
