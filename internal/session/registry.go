// Package session holds the in-memory registry of authenticated sessions.
//
// A session stays valid while now < lastAccessAt + ttl. Validity is computed from
// timestamps on every call, so expiry never depends on the background sweep having run.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"taigabridge/internal/clock"
	"taigabridge/internal/domain"
	"taigabridge/internal/logsafe"
)

type record[H any] struct {
	id           string
	token        string
	owner        string
	createdAt    time.Time
	lastAccessAt time.Time
	ttl          time.Duration
	handle       H
}

func (r *record[H]) validAt(now time.Time) bool {
	return now.Before(r.lastAccessAt.Add(r.ttl))
}

func (r *record[H]) info() domain.SessionInfo {
	return domain.SessionInfo{
		ID:           r.id,
		TokenPrefix:  logsafe.Token(r.token),
		Owner:        r.owner,
		CreatedAt:    r.createdAt,
		LastAccessAt: r.lastAccessAt,
		TTL:          r.ttl,
	}
}

// Registry maps opaque tokens to session records carrying a capability handle of type H.
// All methods are safe for concurrent use. One mutex guards both the token map and the
// owner index, so every per-token operation is linearizable and an Invalidate that has
// returned is never followed by a successful touch of the same token.
type Registry[H any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	byToken map[string]*record[H]
	byOwner map[string]map[string]struct{}

	newToken func() (string, error)
}

func NewRegistry[H any](c clock.Clock) *Registry[H] {
	if c == nil {
		c = clock.System()
	}
	return &Registry[H]{
		clock:    c,
		byToken:  make(map[string]*record[H]),
		byOwner:  make(map[string]map[string]struct{}),
		newToken: newRandomToken,
	}
}

func newRandomToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return id.String(), nil
}

// Create stores a new session for owner. When maxPerOwner > 0 and the owner already holds
// that many valid sessions the call fails with *domain.ConcurrencyLimitError; older sessions
// are never evicted to make room.
func (r *Registry[H]) Create(owner string, ttl time.Duration, handle H, maxPerOwner int) (string, error) {
	if owner == "" {
		return "", errors.New("session owner required")
	}
	if ttl <= 0 {
		return "", errors.New("session ttl must be > 0")
	}

	token, err := r.newToken()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	current := r.countValidLocked(owner, now)
	if maxPerOwner > 0 && current >= maxPerOwner {
		return "", &domain.ConcurrencyLimitError{Current: current, Max: maxPerOwner}
	}
	if _, exists := r.byToken[token]; exists {
		return "", errors.New("session token collision")
	}

	r.byToken[token] = &record[H]{
		id:           uuid.NewString(),
		token:        token,
		owner:        owner,
		createdAt:    now,
		lastAccessAt: now,
		ttl:          ttl,
		handle:       handle,
	}
	tokens := r.byOwner[owner]
	if tokens == nil {
		tokens = make(map[string]struct{})
		r.byOwner[owner] = tokens
	}
	tokens[token] = struct{}{}

	return token, nil
}

// ValidateAndTouch returns the handle stored for token and restarts its inactivity clock.
// An expired record is removed before ErrSessionExpired is returned.
func (r *Registry[H]) ValidateAndTouch(token string) (H, error) {
	var zero H

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byToken[token]
	if !ok {
		return zero, domain.ErrSessionNotFound
	}
	now := r.clock.Now()
	if !rec.validAt(now) {
		r.removeLocked(rec)
		return zero, domain.ErrSessionExpired
	}
	rec.lastAccessAt = now
	return rec.handle, nil
}

// Lookup reports a session's state without extending it.
func (r *Registry[H]) Lookup(token string) (domain.SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byToken[token]
	if !ok {
		return domain.SessionInfo{}, domain.ErrSessionNotFound
	}
	if !rec.validAt(r.clock.Now()) {
		r.removeLocked(rec)
		return domain.SessionInfo{}, domain.ErrSessionExpired
	}
	return rec.info(), nil
}

// Invalidate removes token. Unknown tokens are ignored. The returned owner is empty
// when nothing was removed.
func (r *Registry[H]) Invalidate(token string) (owner string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byToken[token]
	if !ok {
		return "", false
	}
	r.removeLocked(rec)
	return rec.owner, true
}

// ListByOwner returns the owner's valid sessions, oldest first.
func (r *Registry[H]) ListByOwner(owner string) []domain.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make([]domain.SessionInfo, 0, len(r.byOwner[owner]))
	for token := range r.byOwner[owner] {
		rec := r.byToken[token]
		if rec == nil {
			continue
		}
		if !rec.validAt(now) {
			r.removeLocked(rec)
			continue
		}
		out = append(out, rec.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SweepExpired drops every record that is no longer valid and returns how many were removed.
// The validity check and the delete happen under the same lock as ValidateAndTouch, so a
// record touched concurrently is either seen fresh or already gone.
func (r *Registry[H]) SweepExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	removed := 0
	for _, rec := range r.byToken {
		if rec.validAt(now) {
			continue
		}
		r.removeLocked(rec)
		removed++
	}
	return removed
}

// Len counts stored records, including expired ones not yet swept.
func (r *Registry[H]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

func (r *Registry[H]) countValidLocked(owner string, now time.Time) int {
	n := 0
	for token := range r.byOwner[owner] {
		rec := r.byToken[token]
		if rec == nil || !rec.validAt(now) {
			if rec != nil {
				r.removeLocked(rec)
			}
			continue
		}
		n++
	}
	return n
}

func (r *Registry[H]) removeLocked(rec *record[H]) {
	delete(r.byToken, rec.token)
	if tokens := r.byOwner[rec.owner]; tokens != nil {
		delete(tokens, rec.token)
		if len(tokens) == 0 {
			delete(r.byOwner, rec.owner)
		}
	}
}
