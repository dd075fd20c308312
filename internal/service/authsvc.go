package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"taigabridge/internal/audit"
	"taigabridge/internal/clock"
	"taigabridge/internal/domain"
	"taigabridge/internal/logsafe"
	"taigabridge/internal/metrics"
	"taigabridge/internal/ratelimit"
	"taigabridge/internal/reaper"
	"taigabridge/internal/session"
)

const DefaultSessionTTL = 8 * time.Hour

// Authenticator verifies credentials upstream and returns the handle a session will carry.
// It must return domain.ErrInvalidCredentials for rejected credentials; any other error is
// treated as an upstream failure and does not count toward throttling.
type Authenticator[H any] interface {
	Authenticate(ctx context.Context, creds domain.Credentials) (H, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc[H any] func(ctx context.Context, creds domain.Credentials) (H, error)

func (f AuthenticatorFunc[H]) Authenticate(ctx context.Context, creds domain.Credentials) (H, error) {
	return f(ctx, creds)
}

type AuthServiceOpts[H any] struct {
	Authenticator Authenticator[H]
	Clock         clock.Clock

	// SessionTTL applies when Login is called with ttl == 0. MaxSessionTTL bounds explicit ttls.
	SessionTTL          time.Duration
	MaxSessionTTL       time.Duration
	MaxSessionsPerOwner int

	LoginPolicy ratelimit.Policy
	// StaleAfter is how long an identity's throttle state is kept after its last failure.
	StaleAfter     time.Duration
	ReaperInterval time.Duration

	Audit   audit.Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// AuthService is the single entry point for login, per-request authorization and logout.
// It owns the session registry, the login limiter and the reaper that sweeps both.
type AuthService[H any] struct {
	authenticator Authenticator[H]
	clock         clock.Clock

	sessionTTL    time.Duration
	maxSessionTTL time.Duration
	maxPerOwner   int

	sessions *session.Registry[H]
	limiter  *ratelimit.Limiter
	reaper   *reaper.Reaper

	audit   audit.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewAuthService[H any](opts AuthServiceOpts[H]) *AuthService[H] {
	c := opts.Clock
	if c == nil {
		c = clock.System()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Audit
	if sink == nil {
		sink = audit.Nop{}
	}

	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	maxTTL := opts.MaxSessionTTL
	if maxTTL < ttl {
		maxTTL = ttl
	}

	s := &AuthService[H]{
		authenticator: opts.Authenticator,
		clock:         c,
		sessionTTL:    ttl,
		maxSessionTTL: maxTTL,
		maxPerOwner:   opts.MaxSessionsPerOwner,
		sessions:      session.NewRegistry[H](c),
		limiter:       ratelimit.New(opts.LoginPolicy, c),
		audit:         sink,
		metrics:       opts.Metrics,
		logger:        logger,
	}

	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 2 * s.limiter.Policy().Window
	}
	s.reaper = reaper.New(reaper.Opts{
		Sessions: s.sessions,
		Limiter:  s.limiter,
		Interval: opts.ReaperInterval,
		MaxIdle:  staleAfter,
		Logger:   logger,
		OnSweep: func(res reaper.Result) {
			s.metrics.ReaperRemoved(metrics.KindSessions, res.Sessions)
			s.metrics.ReaperRemoved(metrics.KindIdentities, res.Identities)
		},
	})

	if err := s.metrics.RegisterGauges(s.sessions.Len, s.limiter.Len); err != nil {
		logger.Warn("session gauges not registered", "err", err)
	}

	return s
}

// Start launches the background reaper.
func (s *AuthService[H]) Start(ctx context.Context) { s.reaper.Start(ctx) }

// Close stops the reaper. Sessions stay usable.
func (s *AuthService[H]) Close() { s.reaper.Stop() }

// Reap runs one sweep immediately.
func (s *AuthService[H]) Reap() reaper.Result { return s.reaper.RunOnce() }

// NormalizeIdentity is the key used for both throttling and session ownership.
func NormalizeIdentity(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Login verifies creds upstream and opens a session. ttl == 0 selects the default TTL.
func (s *AuthService[H]) Login(ctx context.Context, creds domain.Credentials, ttl time.Duration) (string, error) {
	identity := NormalizeIdentity(creds.Username)

	fields := map[string]string{}
	if identity == "" {
		fields["username"] = "required"
	}
	if creds.Password == "" {
		fields["password"] = "required"
	}
	switch {
	case ttl < 0:
		fields["ttl"] = "must be > 0"
	case ttl > s.maxSessionTTL:
		fields["ttl"] = "must be <= " + s.maxSessionTTL.String()
	case ttl == 0:
		ttl = s.sessionTTL
	}
	if len(fields) > 0 {
		return "", domain.NewValidationError(fields)
	}

	if d := s.limiter.CheckAllowed(identity); !d.Allowed {
		s.metrics.LoginAttempt(metrics.OutcomeRateLimited)
		s.record(ctx, audit.KindLoginLocked, identity, "", "rejected while locked")
		s.logger.Warn("login rate limited",
			"identity", logsafe.Email(identity, slog.LevelWarn),
			"retry_after_s", int(d.RetryAfter.Seconds()),
		)
		return "", &domain.RateLimitedError{RetryAfter: d.RetryAfter}
	}

	handle, err := s.authenticator.Authenticate(ctx, creds)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidCredentials) {
			s.metrics.LoginAttempt(metrics.OutcomeError)
			s.logger.Error("login upstream failure",
				"identity", logsafe.Email(identity, slog.LevelError),
				"host", logsafe.URL(creds.Host),
				"password", logsafe.Password(creds.Password),
				"err", err,
			)
			return "", err
		}

		locked := s.limiter.RecordFailure(identity)
		s.metrics.LoginAttempt(metrics.OutcomeInvalidCredentials)
		s.record(ctx, audit.KindLoginFailed, identity, "", "")
		if locked {
			s.metrics.Lockout()
			s.record(ctx, audit.KindLoginLocked, identity, "", "lockout started")
			s.logger.Warn("login lockout started",
				"identity", logsafe.Email(identity, slog.LevelWarn),
				"lockout", s.limiter.Policy().LockoutDuration.String(),
			)
		} else {
			s.logger.Warn("login failed", "identity", logsafe.Email(identity, slog.LevelWarn))
		}
		return "", domain.ErrInvalidCredentials
	}

	s.limiter.RecordSuccess(identity)

	token, err := s.sessions.Create(identity, ttl, handle, s.maxPerOwner)
	if err != nil {
		var capErr *domain.ConcurrencyLimitError
		if errors.As(err, &capErr) {
			s.metrics.LoginAttempt(metrics.OutcomeConcurrencyLimit)
			s.record(ctx, audit.KindLoginRejectedCap, identity, "", capErr.Error())
			s.logger.Warn("login rejected, too many sessions",
				"identity", logsafe.Email(identity, slog.LevelWarn),
				"current", capErr.Current,
				"max", capErr.Max,
			)
			return "", err
		}
		s.metrics.LoginAttempt(metrics.OutcomeError)
		return "", err
	}

	s.metrics.LoginAttempt(metrics.OutcomeSuccess)
	s.record(ctx, audit.KindLoginSucceeded, identity, token, "")
	s.logger.Info("login succeeded", "identity", logsafe.Email(identity, slog.LevelInfo), logsafe.TokenAttr(token), "ttl", ttl.String())
	return token, nil
}

// Authorize resolves token to its handle and extends the session. Both a missing and an
// expired token satisfy domain.IsUnauthenticated.
func (s *AuthService[H]) Authorize(ctx context.Context, token string) (H, error) {
	handle, err := s.sessions.ValidateAndTouch(token)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			s.record(ctx, audit.KindSessionExpired, "", token, "")
			s.logger.Info("session expired", logsafe.TokenAttr(token))
		}
		return handle, err
	}
	return handle, nil
}

// Logout ends the session. Unknown or already-ended tokens are ignored.
func (s *AuthService[H]) Logout(ctx context.Context, token string) {
	owner, removed := s.sessions.Invalidate(token)
	if !removed {
		s.logger.Debug("logout of unknown session", logsafe.TokenAttr(token))
		return
	}
	s.record(ctx, audit.KindLogout, owner, token, "")
	s.logger.Info("logout", "identity", owner, logsafe.TokenAttr(token))
}

// SessionStatus reports on a session without extending it.
func (s *AuthService[H]) SessionStatus(_ context.Context, token string) (domain.SessionInfo, error) {
	return s.sessions.Lookup(token)
}

// Sessions lists owner's live sessions, oldest first.
func (s *AuthService[H]) Sessions(_ context.Context, owner string) []domain.SessionInfo {
	return s.sessions.ListByOwner(NormalizeIdentity(owner))
}

func (s *AuthService[H]) Now() time.Time { return s.clock.Now() }

func (s *AuthService[H]) record(ctx context.Context, kind audit.Kind, identity, token, detail string) {
	err := s.audit.Record(ctx, audit.Event{
		Kind:             kind,
		Identity:         identity,
		TokenFingerprint: audit.Fingerprint(token),
		RemoteAddr:       audit.RemoteAddrFrom(ctx),
		At:               s.clock.Now().UTC(),
		Detail:           detail,
	})
	if err != nil {
		s.logger.Error("audit record failed", "kind", string(kind), "err", err)
	}
}
