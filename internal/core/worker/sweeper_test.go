package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubLocks struct {
	expired []string
	calls   int
}

func (s *stubLocks) SweepExpired() []string {
	s.calls++
	out := s.expired
	s.expired = nil
	return out
}

type stubHistory struct {
	cutoff time.Time
	rows   int64
	err    error
}

func (s *stubHistory) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.cutoff = before
	return s.rows, s.err
}

func TestSweeper_Sweep(t *testing.T) {
	locks := &stubLocks{expired: []string{"a", "b"}}
	history := &stubHistory{rows: 3}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s := NewSweeper(locks, history, time.Minute, 24*time.Hour, nil)
	s.now = func() time.Time { return now }

	released, pruned := s.Sweep(context.Background())
	if released != 2 {
		t.Errorf("released = %d, want 2", released)
	}
	if pruned != 3 {
		t.Errorf("pruned = %d, want 3", pruned)
	}
	if want := now.Add(-24 * time.Hour); !history.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", history.cutoff, want)
	}

	released, _ = s.Sweep(context.Background())
	if released != 0 {
		t.Errorf("second sweep released = %d, want 0", released)
	}
}

func TestSweeper_RetentionDisabled(t *testing.T) {
	history := &stubHistory{rows: 10}
	s := NewSweeper(nil, history, time.Minute, 0, nil)

	_, pruned := s.Sweep(context.Background())
	if pruned != 0 {
		t.Errorf("pruned = %d, want 0", pruned)
	}
	if !history.cutoff.IsZero() {
		t.Error("history should not be touched when retention is disabled")
	}
}

func TestSweeper_PruneError(t *testing.T) {
	history := &stubHistory{rows: 5, err: errors.New("db down")}
	s := NewSweeper(nil, history, time.Minute, time.Hour, nil)

	if _, pruned := s.Sweep(context.Background()); pruned != 0 {
		t.Errorf("pruned = %d, want 0 on error", pruned)
	}
}

func TestSweeper_StartStops(t *testing.T) {
	locks := &stubLocks{}
	s := NewSweeper(locks, nil, 10*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	if locks.calls < 2 {
		t.Errorf("calls = %d, want at least 2", locks.calls)
	}
}
