package recovery

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/vietddude/jobrunner/internal/core/domain"
)

// maxExponent caps the doubling: delays stop growing after 2^6 * base.
const maxExponent = 6

// Policy is the per-category backoff and retry-budget table.
type Policy struct {
	BaseDelay map[domain.ErrorCategory]time.Duration
	Retries   map[domain.ErrorCategory]int
	JitterMin float64
	JitterMax float64

	// rand returns a value in [0, 1); swapped in tests.
	rand func() float64
}

// DefaultPolicy returns the built-in table.
func DefaultPolicy() *Policy {
	return &Policy{
		BaseDelay: map[domain.ErrorCategory]time.Duration{
			domain.CategoryExternalService: 5 * time.Second,
			domain.CategoryOperation:       2 * time.Second,
			domain.CategoryNetwork:         1 * time.Second,
			domain.CategoryResource:        10 * time.Second,
			domain.CategoryValidation:      500 * time.Millisecond,
			domain.CategoryTimeout:         2 * time.Second,
			domain.CategoryUnknown:         5 * time.Second,
		},
		Retries: map[domain.ErrorCategory]int{
			domain.CategoryExternalService: 3,
			domain.CategoryOperation:       2,
			domain.CategoryNetwork:         5,
			domain.CategoryResource:        2,
			domain.CategoryValidation:      1,
			domain.CategoryTimeout:         3,
			domain.CategoryUnknown:         2,
		},
		JitterMin: 0.1,
		JitterMax: 0.3,
		rand:      rand.Float64,
	}
}

// Override replaces entries of the table. Missing keys keep their defaults.
func (p *Policy) Override(base map[domain.ErrorCategory]time.Duration, retries map[domain.ErrorCategory]int) {
	for c, d := range base {
		if d > 0 {
			p.BaseDelay[c] = d
		}
	}
	for c, n := range retries {
		if n >= 0 {
			p.Retries[c] = n
		}
	}
}

// Delay returns base * 2^min(attempt, 6) plus 10-30% jitter. Past the
// exponent cap the upper bound is returned, so the delay never shrinks as
// attempts grow.
func (p *Policy) Delay(category domain.ErrorCategory, attempt int) time.Duration {
	base := p.base(category)
	attempt = max(attempt, 0)
	growth := float64(base) * math.Pow(2, float64(min(attempt, maxExponent)))

	if attempt > maxExponent {
		return time.Duration(growth * (1 + p.JitterMax))
	}

	r := rand.Float64
	if p.rand != nil {
		r = p.rand
	}
	jitter := p.JitterMin + r()*(p.JitterMax-p.JitterMin)
	return time.Duration(growth * (1 + jitter))
}

// MaxRetries returns the retry ceiling for category.
func (p *Policy) MaxRetries(category domain.ErrorCategory) int {
	if n, ok := p.Retries[category]; ok {
		return n
	}
	return p.Retries[domain.CategoryUnknown]
}

func (p *Policy) base(category domain.ErrorCategory) time.Duration {
	if d, ok := p.BaseDelay[category]; ok && d > 0 {
		return d
	}
	if d, ok := p.BaseDelay[domain.CategoryUnknown]; ok && d > 0 {
		return d
	}
	return time.Second
}
