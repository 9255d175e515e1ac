package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/metrics"
)

// Deleter removes one remote-side resource kind.
type Deleter interface {
	Delete(ctx context.Context, r domain.Resource) error
}

// DeleterFunc adapts a function to Deleter.
type DeleterFunc func(ctx context.Context, r domain.Resource) error

func (f DeleterFunc) Delete(ctx context.Context, r domain.Resource) error {
	return f(ctx, r)
}

// Cleaner undoes artifacts left behind by failed attempts.
type Cleaner struct {
	mu       sync.RWMutex
	deleters map[string]Deleter
	logger   *slog.Logger
}

// NewCleaner creates a cleaner that knows how to delete local files.
func NewCleaner(logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		deleters: make(map[string]Deleter),
		logger:   logger,
	}
}

// Register installs the deleter for a remote resource kind.
func (c *Cleaner) Register(kind string, d Deleter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleters[kind] = d
}

// Delete removes a single resource.
func (c *Cleaner) Delete(ctx context.Context, r domain.Resource) error {
	if r.IsFile() {
		if err := os.RemoveAll(r.Handle); err != nil {
			return fmt.Errorf("failed to remove %s: %w", r.Handle, err)
		}
		return nil
	}

	c.mu.RLock()
	d, ok := c.deleters[r.Kind]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no deleter registered for resource kind %q", r.Kind)
	}
	return d.Delete(ctx, r)
}

// Cleanup deletes every resource the attempt created, files first and then
// remote artifacts, newest first within each group. It never fails: errors
// are logged and the resource is skipped. The cleaned handles are returned.
func (c *Cleaner) Cleanup(ctx context.Context, attempt *domain.AttemptContext) []domain.Resource {
	var files, remote []domain.Resource
	for i := len(attempt.CreatedResources) - 1; i >= 0; i-- {
		r := attempt.CreatedResources[i]
		if r.IsFile() {
			files = append(files, r)
		} else {
			remote = append(remote, r)
		}
	}

	cleaned := make([]domain.Resource, 0, len(attempt.CreatedResources))
	for _, r := range append(files, remote...) {
		if err := c.Delete(ctx, r); err != nil {
			metrics.CleanupResources.WithLabelValues(r.Kind, "failed").Inc()
			c.logger.Warn("cleanup failed, skipping resource",
				"job_id", attempt.JobID,
				"resource", r.String(),
				"error", err)
			continue
		}
		metrics.CleanupResources.WithLabelValues(r.Kind, "deleted").Inc()
		cleaned = append(cleaned, r)
	}

	if len(cleaned) > 0 {
		c.logger.Info("rolled back resources",
			"job_id", attempt.JobID,
			"cleaned", len(cleaned),
			"total", len(attempt.CreatedResources))
	}
	return cleaned
}
