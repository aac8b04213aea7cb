// Package ratelimit paces outbound calls to rate-limited providers. The
// limiter is constructed once per process and injected into whatever makes
// provider calls; it is deliberately not a package-level singleton so a
// distributed limiter can replace it if the service is scaled out.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastCall    map[string]time.Time
	cooldown    map[string]time.Time
}

func New(minInterval time.Duration) *Limiter {
	return &Limiter{
		minInterval: minInterval,
		lastCall:    make(map[string]time.Time),
		cooldown:    make(map[string]time.Time),
	}
}

// Wait blocks until a call under key is allowed, then records the call time.
// It returns early with the context error if ctx is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		now := time.Now()
		next := l.lastCall[key].Add(l.minInterval)
		if until, ok := l.cooldown[key]; ok {
			if until.After(next) {
				next = until
			} else {
				delete(l.cooldown, key)
			}
		}
		if !next.After(now) {
			l.lastCall[key] = now
			l.mu.Unlock()
			return nil
		}
		wait := time.Until(next)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Cooldown pushes the next allowed call under key out by d. Used after a
// 429-class response so the whole batch backs off, not just the failing row.
func (l *Limiter) Cooldown(key string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := time.Now().Add(d)
	if existing, ok := l.cooldown[key]; !ok || until.After(existing) {
		l.cooldown[key] = until
	}
}

// CoolingDown reports whether key is currently inside a cooldown window.
func (l *Limiter) CoolingDown(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.cooldown[key]
	return ok && until.After(time.Now())
}

// Run prunes stale entries until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, last := range l.lastCall {
		if now.Sub(last) > time.Hour {
			delete(l.lastCall, key)
		}
	}
	for key, until := range l.cooldown {
		if now.After(until) {
			delete(l.cooldown, key)
		}
	}
}
