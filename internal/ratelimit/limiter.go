// Package ratelimit throttles repeated login failures per identity using a sliding window
// of failure timestamps and a timed lockout.
package ratelimit

import (
	"sync"
	"time"

	"taigabridge/internal/clock"
)

const (
	DefaultMaxAttempts     = 5
	DefaultWindow          = 60 * time.Second
	DefaultLockoutDuration = 15 * time.Minute
)

type Policy struct {
	// MaxAttempts failures inside Window trigger a lockout. Zero or less disables throttling.
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		Window:          DefaultWindow,
		LockoutDuration: DefaultLockoutDuration,
	}
}

func (p Policy) Enabled() bool { return p.MaxAttempts > 0 }

// Decision is the outcome of CheckAllowed.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// Failures is the number of failures still inside the window.
	Failures int
}

type entry struct {
	failures     []time.Time // oldest first
	lockoutUntil time.Time   // zero when not locked
}

// prune drops failures older than the window. A failure exactly window old is kept.
func (e *entry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := e.failures[:0]
	for _, t := range e.failures {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	e.failures = kept
}

func (e *entry) lockedAt(now time.Time) bool {
	return !e.lockoutUntil.IsZero() && now.Before(e.lockoutUntil)
}

type Limiter struct {
	mu      sync.Mutex
	policy  Policy
	clock   clock.Clock
	entries map[string]*entry
}

func New(policy Policy, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.System()
	}
	if policy.Window <= 0 {
		policy.Window = DefaultWindow
	}
	if policy.LockoutDuration <= 0 {
		policy.LockoutDuration = DefaultLockoutDuration
	}
	return &Limiter{
		policy:  policy,
		clock:   c,
		entries: make(map[string]*entry),
	}
}

func (l *Limiter) Policy() Policy { return l.policy }

// CheckAllowed is called before credentials are verified.
func (l *Limiter) CheckAllowed(identity string) Decision {
	if !l.policy.Enabled() {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[identity]
	if !ok {
		return Decision{Allowed: true}
	}

	now := l.clock.Now()
	e.prune(now, l.policy.Window)
	if e.lockedAt(now) {
		return Decision{Allowed: false, RetryAfter: e.lockoutUntil.Sub(now), Failures: len(e.failures)}
	}
	e.lockoutUntil = time.Time{}
	return Decision{Allowed: true, Failures: len(e.failures)}
}

// RecordFailure notes a failed credential check and reports whether it started a lockout.
func (l *Limiter) RecordFailure(identity string) bool {
	if !l.policy.Enabled() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[identity]
	if !ok {
		e = &entry{}
		l.entries[identity] = e
	}

	now := l.clock.Now()
	e.failures = append(e.failures, now)
	e.prune(now, l.policy.Window)

	limit := l.policy.MaxAttempts
	if n := len(e.failures); n > limit {
		e.failures = append(e.failures[:0], e.failures[n-limit:]...)
	}
	if len(e.failures) >= limit {
		e.lockoutUntil = now.Add(l.policy.LockoutDuration)
		return true
	}
	return false
}

// RecordSuccess forgets everything known about identity.
func (l *Limiter) RecordSuccess(identity string) {
	l.mu.Lock()
	delete(l.entries, identity)
	l.mu.Unlock()
}

// SweepStale removes identities that are not locked and whose newest failure is older than
// maxIdle. maxIdle below the window is raised to the window, so an identity with failures
// still counting toward a lockout is never dropped.
func (l *Limiter) SweepStale(maxIdle time.Duration) int {
	if maxIdle < l.policy.Window {
		maxIdle = l.policy.Window
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-maxIdle)
	removed := 0
	for identity, e := range l.entries {
		if e.lockedAt(now) {
			continue
		}
		if n := len(e.failures); n > 0 && !e.failures[n-1].Before(cutoff) {
			continue
		}
		delete(l.entries, identity)
		removed++
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
