package httpapi

import (
	"math"
	"net/http"
	"time"

	"taigabridge/internal/audit"
	"taigabridge/internal/domain"
)

type loginRequest struct {
	Host       string `json:"host"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// maxTTLSeconds is the largest ttl_seconds that still fits in a time.Duration.
const maxTTLSeconds = int64(math.MaxInt64 / int64(time.Second))

type loginResponse struct {
	Token string `json:"token"`
}

func (a *api) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	fields := map[string]string{}
	req.Username = normalizeLogin(req.Username)
	if !validLogin(req.Username) {
		fields["username"] = "required, at most 255 chars, no spaces"
	}
	if req.Password == "" {
		fields["password"] = "required"
	}
	switch {
	case req.TTLSeconds < 0:
		fields["ttl_seconds"] = "must be >= 0"
	case req.TTLSeconds > maxTTLSeconds:
		fields["ttl_seconds"] = "too large"
	}
	if len(fields) > 0 {
		WriteDomainError(w, domain.NewValidationError(fields))
		return
	}

	ctx := audit.WithRemoteAddr(r.Context(), clientIP(r))
	creds := domain.Credentials{Host: req.Host, Username: req.Username, Password: req.Password}
	token, err := a.authSvc.Login(ctx, creds, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, loginResponse{Token: token})
}

// handleAuthLogout always reports success, whether or not the token was live.
func (a *api) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := bearerToken(r); ok {
		ctx := audit.WithRemoteAddr(r.Context(), clientIP(r))
		a.authSvc.Logout(ctx, token)
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type sessionStatusResponse struct {
	Status                 string     `json:"status"`
	Username               string     `json:"username,omitempty"`
	CreatedAt              *time.Time `json:"created_at,omitempty"`
	LastAccessed           *time.Time `json:"last_accessed,omitempty"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	TimeUntilExpirySeconds *int64     `json:"time_until_expiry_seconds,omitempty"`
}

// handleAuthSessionStatus does not extend the session. Unknown and expired tokens get the
// same inactive answer.
func (a *api) handleAuthSessionStatus(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		WriteJSON(w, http.StatusOK, sessionStatusResponse{Status: "inactive"})
		return
	}

	info, err := a.authSvc.SessionStatus(r.Context(), token)
	if err != nil {
		if domain.IsUnauthenticated(err) {
			WriteJSON(w, http.StatusOK, sessionStatusResponse{Status: "inactive"})
			return
		}
		WriteDomainError(w, err)
		return
	}

	created := info.CreatedAt.UTC()
	last := info.LastAccessAt.UTC()
	expires := info.ExpiresAt().UTC()
	remaining := int64(info.Remaining(a.authSvc.Now()) / time.Second)
	WriteJSON(w, http.StatusOK, sessionStatusResponse{
		Status:                 "active",
		Username:               info.Owner,
		CreatedAt:              &created,
		LastAccessed:           &last,
		ExpiresAt:              &expires,
		TimeUntilExpirySeconds: &remaining,
	})
}

type sessionView struct {
	Token        string    `json:"token"`
	Current      bool      `json:"current"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (a *api) handleAuthSessionsList(w http.ResponseWriter, r *http.Request) {
	token, _ := CurrentToken(r.Context())
	info, err := a.authSvc.SessionStatus(r.Context(), token)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	list := a.authSvc.Sessions(r.Context(), info.Owner)
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			Token:        s.TokenPrefix,
			Current:      s.ID == info.ID,
			CreatedAt:    s.CreatedAt.UTC(),
			LastAccessed: s.LastAccessAt.UTC(),
			ExpiresAt:    s.ExpiresAt().UTC(),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"username": info.Owner, "sessions": out})
}
