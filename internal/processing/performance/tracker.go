package performance

import (
	"sync"
	"time"
)

// DefaultWindow is the number of samples kept when none is configured.
const DefaultWindow = 100

// Sample is the outcome of one finished job.
type Sample struct {
	Duration  time.Duration
	Success   bool
	Timestamp time.Time
}

// Stats summarises the current window.
type Stats struct {
	// Throughput is jobs per second over the span of the window.
	Throughput float64
	AvgLatency time.Duration
	ErrorRate  float64
	Samples    int
}

// Tracker keeps the most recent samples in a fixed-size ring.
type Tracker struct {
	mu      sync.RWMutex
	samples []Sample
	next    int
	count   int
	now     func() time.Time
}

// NewTracker creates a tracker holding up to window samples.
func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		samples: make([]Sample, window),
		now:     time.Now,
	}
}

// Record adds a sample, overwriting the oldest once the window is full.
// A zero timestamp is replaced with the current time.
func (t *Tracker) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.next] = s
	t.next = (t.next + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}
}

// Snapshot computes window statistics.
func (t *Tracker) Snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.count == 0 {
		return Stats{}
	}

	var (
		total    time.Duration
		failures int
		oldest   time.Time
		newest   time.Time
	)
	for i := 0; i < t.count; i++ {
		s := t.samples[i]
		total += s.Duration
		if !s.Success {
			failures++
		}
		if oldest.IsZero() || s.Timestamp.Before(oldest) {
			oldest = s.Timestamp
		}
		if s.Timestamp.After(newest) {
			newest = s.Timestamp
		}
	}

	stats := Stats{
		AvgLatency: total / time.Duration(t.count),
		ErrorRate:  float64(failures) / float64(t.count),
		Samples:    t.count,
	}

	// A window that spans no time yet has no meaningful rate; count it
	// against the oldest sample's own duration instead.
	span := newest.Sub(oldest)
	if span <= 0 {
		span = t.samples[t.oldestIndex()].Duration
	}
	if span > 0 {
		stats.Throughput = float64(t.count) / span.Seconds()
	}
	return stats
}

// Len returns the number of samples held.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Reset drops every sample.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.samples)
	t.next = 0
	t.count = 0
}

func (t *Tracker) oldestIndex() int {
	if t.count < len(t.samples) {
		return 0
	}
	return t.next
}
