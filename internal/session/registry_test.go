package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"taigabridge/internal/clock"
	"taigabridge/internal/domain"
)

var t0 = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestRegistry() (*Registry[string], *clock.Manual) {
	c := clock.NewManual(t0)
	return NewRegistry[string](c), c
}

func TestRegistryCreateAndValidate(t *testing.T) {
	reg, _ := newTestRegistry()

	token, err := reg.Create("alice", time.Hour, "client-1", 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}

	handle, err := reg.ValidateAndTouch(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if handle != "client-1" {
		t.Fatalf("unexpected handle: %q", handle)
	}
}

func TestRegistryTokensAreUnique(t *testing.T) {
	reg, _ := newTestRegistry()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		token, err := reg.Create(fmt.Sprintf("user-%d", i), time.Hour, "", 0)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %s", token)
		}
		seen[token] = true
	}
}

func TestRegistryRollingTTL(t *testing.T) {
	reg, c := newTestRegistry()
	ttl := 100 * time.Second

	token, err := reg.Create("alice", ttl, "h", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c.Advance(99 * time.Second)
	if _, err := reg.ValidateAndTouch(token); err != nil {
		t.Fatalf("validate at t=99: %v", err)
	}

	// Touch at t=99 moved expiry to t=199.
	c.Set(t0.Add(198 * time.Second))
	if _, err := reg.ValidateAndTouch(token); err != nil {
		t.Fatalf("validate at t=198: %v", err)
	}

	c.Set(t0.Add(198*time.Second + ttl))
	if _, err := reg.ValidateAndTouch(token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected expired exactly at lastAccess+ttl, got %v", err)
	}
}

func TestRegistryExpiredIsRemovedAndNotResurrected(t *testing.T) {
	reg, c := newTestRegistry()

	token, _ := reg.Create("alice", 100*time.Second, "h", 0)
	c.Set(t0.Add(200 * time.Second))

	if _, err := reg.ValidateAndTouch(token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := reg.ValidateAndTouch(token); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found after expiry removal, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
}

func TestRegistryUnknownToken(t *testing.T) {
	reg, _ := newTestRegistry()
	if _, err := reg.ValidateAndTouch("nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegistryConcurrencyCapRejectsNew(t *testing.T) {
	reg, c := newTestRegistry()

	first, err := reg.Create("bob", time.Hour, "h1", 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c.Advance(time.Second)
	_, err = reg.Create("bob", time.Hour, "h2", 1)
	var capErr *domain.ConcurrencyLimitError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected concurrency limit error, got %v", err)
	}
	if capErr.Current != 1 || capErr.Max != 1 {
		t.Fatalf("unexpected cap error: %+v", capErr)
	}

	// The existing session is untouched by the rejected login.
	if _, err := reg.ValidateAndTouch(first); err != nil {
		t.Fatalf("first session should survive: %v", err)
	}

	c.Advance(time.Second)
	reg.Invalidate(first)

	c.Advance(time.Second)
	if _, err := reg.Create("bob", time.Hour, "h3", 1); err != nil {
		t.Fatalf("create after logout: %v", err)
	}
}

func TestRegistryCapIgnoresExpiredSessions(t *testing.T) {
	reg, c := newTestRegistry()

	if _, err := reg.Create("carol", 10*time.Second, "h", 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	c.Advance(10 * time.Second)

	if _, err := reg.Create("carol", 10*time.Second, "h", 1); err != nil {
		t.Fatalf("expired session should not count toward cap: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected expired record dropped during scan, have %d", reg.Len())
	}
}

func TestRegistryCapDisabled(t *testing.T) {
	reg, _ := newTestRegistry()
	for i := 0; i < 10; i++ {
		if _, err := reg.Create("dave", time.Hour, "h", 0); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
}

func TestRegistryCreateRejectsBadInput(t *testing.T) {
	reg, _ := newTestRegistry()
	if _, err := reg.Create("", time.Hour, "h", 1); err == nil {
		t.Fatalf("expected error for empty owner")
	}
	if _, err := reg.Create("erin", 0, "h", 1); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestRegistryInvalidateIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry()

	token, _ := reg.Create("alice", time.Hour, "h", 0)

	owner, removed := reg.Invalidate(token)
	if !removed || owner != "alice" {
		t.Fatalf("expected removal of alice's session, got %q %v", owner, removed)
	}
	if _, removed := reg.Invalidate(token); removed {
		t.Fatalf("second invalidate should be a no-op")
	}
	if _, removed := reg.Invalidate("never-issued"); removed {
		t.Fatalf("invalidate of unknown token should be a no-op")
	}
	if _, err := reg.ValidateAndTouch(token); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found after invalidate, got %v", err)
	}
}

func TestRegistrySweepExpired(t *testing.T) {
	reg, c := newTestRegistry()

	stale, _ := reg.Create("alice", 10*time.Second, "h", 0)
	fresh, _ := reg.Create("bob", time.Hour, "h", 0)
	touched, _ := reg.Create("carol", 10*time.Second, "h", 0)

	c.Advance(9 * time.Second)
	if _, err := reg.ValidateAndTouch(touched); err != nil {
		t.Fatalf("touch: %v", err)
	}
	c.Advance(time.Second)

	if n := reg.SweepExpired(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if _, err := reg.Lookup(stale); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("stale session should be gone, got %v", err)
	}
	for _, tok := range []string{fresh, touched} {
		if _, err := reg.ValidateAndTouch(tok); err != nil {
			t.Fatalf("sweep removed a valid session: %v", err)
		}
	}
}

func TestRegistryLookupDoesNotTouch(t *testing.T) {
	reg, c := newTestRegistry()

	token, _ := reg.Create("alice", 100*time.Second, "h", 0)
	c.Advance(50 * time.Second)

	info, err := reg.Lookup(token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !info.LastAccessAt.Equal(t0) {
		t.Fatalf("lookup must not touch, last access %s", info.LastAccessAt)
	}
	if !info.ExpiresAt().Equal(t0.Add(100 * time.Second)) {
		t.Fatalf("unexpected expiry %s", info.ExpiresAt())
	}
	if info.Owner != "alice" || info.TokenPrefix == token {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.ID == "" || info.ID == token {
		t.Fatalf("unexpected session id %q", info.ID)
	}
	if list := reg.ListByOwner("alice"); len(list) != 1 || list[0].ID != info.ID {
		t.Fatalf("session id not stable across views: %+v", list)
	}

	c.Advance(50 * time.Second)
	if _, err := reg.Lookup(token); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestRegistryListByOwner(t *testing.T) {
	reg, c := newTestRegistry()

	_, _ = reg.Create("alice", 5*time.Second, "h", 0)
	c.Advance(time.Second)
	_, _ = reg.Create("alice", time.Hour, "h", 0)
	c.Advance(time.Second)
	_, _ = reg.Create("alice", time.Hour, "h", 0)
	_, _ = reg.Create("bob", time.Hour, "h", 0)

	c.Advance(5 * time.Second)
	list := reg.ListByOwner("alice")
	if len(list) != 2 {
		t.Fatalf("expected 2 valid sessions, got %d", len(list))
	}
	if !list[0].CreatedAt.Before(list[1].CreatedAt) {
		t.Fatalf("expected oldest first")
	}
	if list[0].ID == "" || list[0].ID == list[1].ID {
		t.Fatalf("sessions need distinct ids: %q %q", list[0].ID, list[1].ID)
	}
	if got := reg.ListByOwner("nobody"); len(got) != 0 {
		t.Fatalf("expected no sessions, got %d", len(got))
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg, c := newTestRegistry()

	tokens := make([]string, 50)
	for i := range tokens {
		tok, err := reg.Create(fmt.Sprintf("user-%d", i%5), time.Minute, "h", 0)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		tokens[i] = tok
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tok := tokens[(i*31+j)%len(tokens)]
				switch j % 4 {
				case 0:
					_, _ = reg.ValidateAndTouch(tok)
				case 1:
					_, _ = reg.Lookup(tok)
				case 2:
					_ = reg.SweepExpired()
				case 3:
					_, _ = reg.Create(fmt.Sprintf("user-%d", i), time.Minute, "h", 3)
				}
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			c.Advance(time.Second)
			reg.Invalidate(tokens[j])
		}
	}()
	wg.Wait()

	for _, tok := range tokens {
		if _, err := reg.ValidateAndTouch(tok); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Fatalf("invalidated token still usable: %v", err)
		}
	}
}
