package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"taigabridge/internal/audit"
)

// execer is the subset of *pgxpool.Pool the audit store needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type AuditStore struct {
	db execer
}

func NewAuditStore(db execer) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS auth_audit_events (
			id                uuid PRIMARY KEY,
			kind              text        NOT NULL,
			identity          text,
			token_fingerprint text,
			remote_addr       text,
			detail            text,
			occurred_at       timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS auth_audit_events_identity_idx
			ON auth_audit_events (identity, occurred_at DESC);
	`

	if _, err := s.db.Exec(ctx, q); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *AuditStore) Record(ctx context.Context, e audit.Event) error {
	const q = `
		INSERT INTO auth_audit_events (id, kind, identity, token_fingerprint, remote_addr, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err := s.db.Exec(ctx, q,
		id,
		string(e.Kind),
		nullIfEmpty(e.Identity),
		nullIfEmpty(e.TokenFingerprint),
		nullIfEmpty(e.RemoteAddr),
		nullIfEmpty(e.Detail),
		e.At,
	)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}
