// Package reaper periodically reclaims expired sessions and idle throttle entries.
//
// Expiry and lockout are always re-derived from timestamps by the stores themselves, so
// the reaper only bounds memory. A stopped or slow reaper never changes what callers see.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultInterval = 5 * time.Minute

type SessionSweeper interface {
	SweepExpired() int
}

type LimiterSweeper interface {
	SweepStale(maxIdle time.Duration) int
}

// Result reports what one pass removed.
type Result struct {
	Sessions   int
	Identities int
}

type Opts struct {
	Sessions SessionSweeper
	Limiter  LimiterSweeper
	Interval time.Duration
	MaxIdle  time.Duration
	Logger   *slog.Logger

	// OnSweep, when set, is called after every pass.
	OnSweep func(Result)
}

type Reaper struct {
	sessions SessionSweeper
	limiter  LimiterSweeper
	interval time.Duration
	maxIdle  time.Duration
	logger   *slog.Logger
	onSweep  func(Result)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Opts) *Reaper {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		sessions: opts.Sessions,
		limiter:  opts.Limiter,
		interval: interval,
		maxIdle:  opts.MaxIdle,
		logger:   logger,
		onSweep:  opts.OnSweep,
	}
}

// RunOnce performs a single pass. The two sweeps take their own locks one after the
// other; nothing is held across them.
func (r *Reaper) RunOnce() Result {
	var res Result
	if r.sessions != nil {
		res.Sessions = r.sessions.SweepExpired()
	}
	if r.limiter != nil {
		res.Identities = r.limiter.SweepStale(r.maxIdle)
	}

	if res.Sessions > 0 || res.Identities > 0 {
		r.logger.Info("reaper sweep", "sessions_removed", res.Sessions, "identities_removed", res.Identities)
	} else {
		r.logger.Debug("reaper sweep", "sessions_removed", 0, "identities_removed", 0)
	}
	if r.onSweep != nil {
		r.onSweep(res)
	}
	return res
}

// Start launches the sweep loop. Calling Start on a running reaper does nothing.
// The loop ends when ctx is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go r.loop(ctx, done)
	r.logger.Info("reaper started", "interval", r.interval.String())
}

// Stop cancels the loop and waits for an in-flight pass to finish. Safe to call more than once.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("reaper stopped")
}

func (r *Reaper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runGuarded()
		}
	}
}

// runGuarded keeps the loop alive if a sweep panics.
func (r *Reaper) runGuarded() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reaper panic", "panic", rec)
		}
	}()
	r.RunOnce()
}
