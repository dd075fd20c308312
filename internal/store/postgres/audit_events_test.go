package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"taigabridge/internal/audit"
)

type stubExecer struct {
	t *testing.T

	execFunc func(context.Context, string, ...any) (pgconn.CommandTag, error)
}

func (s *stubExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if s.execFunc != nil {
		return s.execFunc(ctx, sql, args...)
	}
	s.t.Fatalf("Exec called unexpectedly")
	return pgconn.CommandTag{}, errors.New("unexpected call")
}

func TestAuditStoreRecord(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	db := &stubExecer{
		t: t,
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if !strings.Contains(sql, "INSERT INTO auth_audit_events") {
				t.Fatalf("unexpected sql: %s", sql)
			}
			if len(args) != 7 {
				t.Fatalf("unexpected arg count %d", len(args))
			}
			if args[0] != "evt-1" || args[1] != "login_failed" || args[2] != "alice" {
				t.Fatalf("unexpected args: %v", args)
			}
			if args[3] != nil || args[5] != nil {
				t.Fatalf("empty strings should be stored as NULL: %v", args)
			}
			if args[6] != at {
				t.Fatalf("unexpected time: %v", args[6])
			}
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}

	err := NewAuditStore(db).Record(context.Background(), audit.Event{
		ID:         "evt-1",
		Kind:       audit.KindLoginFailed,
		Identity:   "alice",
		RemoteAddr: "10.0.0.1",
		At:         at,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestAuditStoreWrapsErrors(t *testing.T) {
	boom := errors.New("connection refused")
	db := &stubExecer{
		t: t,
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, boom
		},
	}
	store := NewAuditStore(db)

	if err := store.EnsureSchema(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if err := store.Record(context.Background(), audit.Event{ID: "x", Kind: audit.KindLogout}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
