// Package audit records authentication events for later review.
//
// Recording is best-effort. A failing or slow sink never blocks or fails a login.
package audit

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

type Kind string

const (
	KindLoginSucceeded   Kind = "login_succeeded"
	KindLoginFailed      Kind = "login_failed"
	KindLoginLocked      Kind = "login_locked"
	KindLoginRejectedCap Kind = "login_rejected_cap"
	KindLogout           Kind = "logout"
	KindSessionExpired   Kind = "session_expired"
)

type Event struct {
	ID       string
	Kind     Kind
	Identity string
	// TokenFingerprint identifies a session without storing the token itself.
	TokenFingerprint string
	RemoteAddr       string
	At               time.Time
	Detail           string
}

type Sink interface {
	Record(ctx context.Context, e Event) error
}

type ctxKey int

const remoteAddrKey ctxKey = iota

// WithRemoteAddr attaches the client address that later events should carry.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

func RemoteAddrFrom(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey).(string)
	return addr
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Fingerprint returns a stable, non-reversible id for a session token. Empty in, empty out.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

const (
	DefaultQueueSize = 256
	recordTimeout    = 5 * time.Second
)

// Async hands events to a single background worker through a bounded queue.
// When the queue is full the event is dropped and counted.
type Async struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsync(sink Sink, queueSize int, logger *slog.Logger) *Async {
	if sink == nil {
		sink = Nop{}
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Record enqueues e and returns immediately. It never returns an error; the signature
// matches Sink so Async can stand in for one.
func (a *Async) Record(_ context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- e:
	default:
		a.dropped.Add(1)
		a.logger.Warn("audit queue full, event dropped", "kind", string(e.Kind))
	}
	return nil
}

// Dropped reports how many events were discarded because the queue was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be written, or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := a.sink.Record(ctx, e); err != nil {
			a.logger.Error("audit record failed", "kind", string(e.Kind), "err", err)
		}
		cancel()
	}
}
