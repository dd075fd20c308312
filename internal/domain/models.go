package domain

import "time"

// Credentials are verified by the upstream Taiga instance, never locally.
type Credentials struct {
	Host     string
	Username string
	Password string
}

// SessionInfo is a read-only view of a session record. It never carries the capability handle.
type SessionInfo struct {
	// ID identifies the session record. It is not the token and cannot be used to authorize.
	ID           string
	TokenPrefix  string
	Owner        string
	CreatedAt    time.Time
	LastAccessAt time.Time
	TTL          time.Duration
}

func (s SessionInfo) ExpiresAt() time.Time {
	return s.LastAccessAt.Add(s.TTL)
}

func (s SessionInfo) Remaining(now time.Time) time.Duration {
	d := s.ExpiresAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	IsPrivate   bool      `json:"is_private"`
	CreatedDate time.Time `json:"created_date,omitempty"`
}
