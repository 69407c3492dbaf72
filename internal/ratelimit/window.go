// Package ratelimit provides the process-wide send budget shared by every
// dispatch worker. The limit is imposed by the channel provider, so it must
// be enforced across all concurrent senders, not per task.
package ratelimit

import (
	"sync"
	"time"

	"github.com/autokita/wa-campaign-engine/pkg/clock"
)

// window tracks admissions inside one rolling span.
type window struct {
	span    time.Duration
	limit   int
	admits  []time.Time // admission times, oldest first
}

// prune drops admissions that have left the rolling span.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.admits) && !w.admits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.admits = append(w.admits[:0], w.admits[i:]...)
	}
}

// retryAfter reports how long until the oldest admission leaves the span.
func (w *window) retryAfter(now time.Time) time.Duration {
	if len(w.admits) == 0 {
		return 0
	}
	d := w.admits[0].Add(w.span).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Limiter admits sends against rolling per-minute and per-hour budgets.
// A zero or negative limit disables the corresponding window.
type Limiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	minute  window
	hour    window
}

// NewLimiter creates a shared limiter. perMinute and perHour are the rolling
// budgets; clk is the injected time source.
func NewLimiter(perMinute, perHour int, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		clock:  clk,
		minute: window{span: time.Minute, limit: perMinute},
		hour:   window{span: time.Hour, limit: perHour},
	}
}

// Allow admits one send if both budgets have room, recording the admission.
// When a budget is exhausted it returns false and the wait until the
// tightest window frees a slot. The check-and-record is a single critical
// section; callers never observe a half-admitted state.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.minute.prune(now)
	l.hour.prune(now)

	var wait time.Duration
	if l.minute.limit > 0 && len(l.minute.admits) >= l.minute.limit {
		wait = l.minute.retryAfter(now)
	}
	if l.hour.limit > 0 && len(l.hour.admits) >= l.hour.limit {
		if hw := l.hour.retryAfter(now); hw > wait {
			wait = hw
		}
	}
	if wait > 0 {
		return false, wait
	}

	if l.minute.limit > 0 {
		l.minute.admits = append(l.minute.admits, now)
	}
	if l.hour.limit > 0 {
		l.hour.admits = append(l.hour.admits, now)
	}
	return true, 0
}

// InFlight reports current admissions inside the minute window, for
// observability.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minute.prune(l.clock.Now())
	return len(l.minute.admits)
}
