// Package logsafe renders secrets and personal data in a form that is safe to log.
package logsafe

import (
	"fmt"
	"log/slog"
	"strings"
)

const tokenPrefixLen = 8

// Token shows only the first characters of a session token.
func Token(token string) string {
	if token == "" {
		return "unknown"
	}
	if len(token) <= tokenPrefixLen {
		return token + "..."
	}
	return token[:tokenPrefixLen] + "..."
}

// Email masks the local part at warn level and above.
func Email(addr string, level slog.Level) string {
	if addr == "" {
		return "unknown"
	}
	if level < slog.LevelWarn {
		return addr
	}
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}
	if len(local) <= 1 {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}

func Password(p string) string {
	if p == "" {
		return "***"
	}
	return fmt.Sprintf("***[%d chars]", len(p))
}

// URL hides any userinfo embedded in raw.
func URL(raw string) string {
	if raw == "" {
		return "unknown"
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	authority, path, hasPath := strings.Cut(rest, "/")
	at := strings.LastIndex(authority, "@")
	if at < 0 {
		return raw
	}
	out := scheme + "://***:***@" + authority[at+1:]
	if hasPath {
		out += "/" + path
	}
	return out
}

// TokenAttr is a convenience for structured log calls.
func TokenAttr(token string) slog.Attr {
	return slog.String("session", Token(token))
}
