package worker

import (
	"context"
	"log/slog"
	"time"
)

// LockSweeper drops locks whose expiry has passed.
type LockSweeper interface {
	SweepExpired() []string
}

// HistoryPruner deletes outcome history older than a cutoff.
type HistoryPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper periodically clears expired job locks and prunes old outcome
// history based on the retention policy.
type Sweeper struct {
	locks     LockSweeper
	history   HistoryPruner
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper creates a new Sweeper worker. A nil history or zero retention
// disables pruning.
func NewSweeper(
	locks LockSweeper,
	history HistoryPruner,
	interval, retention time.Duration,
	logger *slog.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		locks:     locks,
		history:   history,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the sweeper loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial sweep
	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of released locks and pruned
// outcome rows.
func (s *Sweeper) Sweep(ctx context.Context) (int, int64) {
	var released []string
	if s.locks != nil {
		released = s.locks.SweepExpired()
		if len(released) > 0 {
			s.logger.Info("Released expired locks", "count", len(released), "job_ids", released)
		}
	}

	var pruned int64
	if s.history != nil && s.retention > 0 {
		cutoff := s.now().Add(-s.retention)
		n, err := s.history.DeleteBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error("Failed to prune outcome history", "cutoff", cutoff, "error", err)
		} else if n > 0 {
			pruned = n
			s.logger.Info("Pruned outcome history", "rows", n, "cutoff", cutoff)
		}
	}
	return len(released), pruned
}
