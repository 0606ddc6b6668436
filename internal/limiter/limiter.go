// Package limiter implements the per-user daily heist throttle: a sliding
// 24-hour window anchored at the subject's first event, evaluated lazily on
// access. State is memory-only on purpose - the throttle is a courtesy, the
// audited record lives in the relational event log, and a restart simply
// resets everyone's window.
package limiter

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Window is the logical span of one daily record.
const Window = 24 * time.Hour

// LimitExceededError reports a subject over their daily ceiling. The
// triggering increment is kept, so the subject waits out the full window even
// if every later attempt is also rejected.
type LimitExceededError struct {
	Subject string
	Ceiling int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limiter: subject %s exceeded the daily limit of %d", e.Subject, e.Ceiling)
}

type record struct {
	windowStart time.Time
	count       int
}

// DailyLimiter tracks one rolling window per subject. All methods are safe
// for concurrent use; the check-and-increment sequence runs entirely under
// the lock, so there is no window for interleaved double-spends.
type DailyLimiter struct {
	mu      sync.Mutex
	records map[string]record
	now     func() time.Time
}

// Option configures a DailyLimiter.
type Option func(*DailyLimiter)

// WithClock overrides the limiter's time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *DailyLimiter) { l.now = now }
}

func New(opts ...Option) *DailyLimiter {
	l := &DailyLimiter{
		records: make(map[string]record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndIncrement counts one event against the subject's window. A missing
// or expired record starts a fresh window at count 1. When the incremented
// count exceeds ceiling the call fails with *LimitExceededError - without
// rolling the increment back.
func (l *DailyLimiter) CheckAndIncrement(subject string, ceiling int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[subject]
	if !ok || now.Sub(rec.windowStart) >= Window {
		l.records[subject] = record{windowStart: now, count: 1}
		return nil
	}

	rec.count++
	l.records[subject] = rec
	if rec.count > ceiling {
		return &LimitExceededError{Subject: subject, Ceiling: ceiling}
	}
	return nil
}

// SweepExpired deletes records whose window has fully elapsed and returns how
// many were removed. It exists purely to bound memory; correctness does not
// depend on it because CheckAndIncrement expires lazily.
func (l *DailyLimiter) SweepExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for subject, rec := range l.records {
		if now.Sub(rec.windowStart) >= Window {
			delete(l.records, subject)
			removed++
		}
	}
	return removed
}

// Usage describes one subject's live window for the limits report.
type Usage struct {
	Subject string    `json:"subject"`
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Snapshot lists all unexpired records, busiest subjects first.
func (l *DailyLimiter) Snapshot() []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	usages := make([]Usage, 0, len(l.records))
	for subject, rec := range l.records {
		if now.Sub(rec.windowStart) >= Window {
			continue
		}
		usages = append(usages, Usage{
			Subject: subject,
			Count:   rec.count,
			ResetAt: rec.windowStart.Add(Window),
		})
	}
	sort.Slice(usages, func(i, j int) bool {
		if usages[i].Count != usages[j].Count {
			return usages[i].Count > usages[j].Count
		}
		return usages[i].Subject < usages[j].Subject
	})
	return usages
}
