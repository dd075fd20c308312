package taiga

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"taigabridge/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAuthenticator(srv *httptest.Server) *Authenticator {
	return NewAuthenticator(AuthenticatorOpts{
		DefaultHost: srv.URL,
		AllowHTTP:   true,
		HTTPClient:  srv.Client(),
		Logger:      discardLogger(),
	})
}

func TestCheckHost(t *testing.T) {
	if err := CheckHost("https://taiga.example.com", false); err != nil {
		t.Fatalf("https should pass: %v", err)
	}
	if err := CheckHost("http://localhost:9000", false); !errors.Is(err, domain.ErrInsecureUpstream) {
		t.Fatalf("expected insecure upstream, got %v", err)
	}
	if err := CheckHost("http://localhost:9000", true); err != nil {
		t.Fatalf("http should pass with bypass: %v", err)
	}
	if err := CheckHost("taiga.example.com", true); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for relative host, got %v", err)
	}
	if err := CheckHost("ftp://taiga.example.com", true); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for ftp, got %v", err)
	}
}

func TestAuthenticateInsecureHostNeverCallsUpstream(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	a := NewAuthenticator(AuthenticatorOpts{DefaultHost: srv.URL, HTTPClient: srv.Client(), Logger: discardLogger()})
	_, err := a.Authenticate(context.Background(), domain.Credentials{Username: "alice", Password: "pw"})
	if !errors.Is(err, domain.ErrInsecureUpstream) {
		t.Fatalf("expected insecure upstream, got %v", err)
	}
	if called {
		t.Fatalf("upstream contacted despite insecure host")
	}
}

func TestAuthenticateAndListProjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/auth":
			var req authRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode auth body: %v", err)
			}
			if req.Type != "normal" || req.Username != "alice" || req.Password != "s3cret" {
				t.Errorf("unexpected auth body: %+v", req)
			}
			_ = json.NewEncoder(w).Encode(authResponse{ID: 42, Username: "alice", AuthToken: "upstream-token"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/projects":
			if got := r.Header.Get("Authorization"); got != "Bearer upstream-token" {
				t.Errorf("unexpected authorization header %q", got)
			}
			if r.URL.Query().Get("member") != "42" {
				t.Errorf("expected member filter, got %q", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`[{"id":1,"name":"Alpha","slug":"alpha","is_private":true},{"id":2,"name":"Beta","slug":"beta"}]`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/projects/1":
			_, _ = w.Write([]byte(`{"id":1,"name":"Alpha","slug":"alpha","created_date":"2024-05-01T10:00:00Z"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/projects/9":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"_error_message":"No Project matches the given query."}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := newTestAuthenticator(srv).Authenticate(context.Background(), domain.Credentials{Username: "alice", Password: "s3cret"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if client.Username() != "alice" || client.Host() != srv.URL {
		t.Fatalf("unexpected client: %s %s", client.Username(), client.Host())
	}

	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 2 || projects[0].Slug != "alpha" || !projects[0].IsPrivate {
		t.Fatalf("unexpected projects: %+v", projects)
	}

	p, err := client.GetProject(context.Background(), 1)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Name != "Alpha" || p.CreatedDate.Year() != 2024 {
		t.Fatalf("unexpected project: %+v", p)
	}

	if _, err := client.GetProject(context.Background(), 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAuthenticateRejectedCredentials(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"_error_message":"Username or password does not matches user.","_error_type":"taiga.base.exceptions.WrongArguments"}`))
		}))

		_, err := newTestAuthenticator(srv).Authenticate(context.Background(), domain.Credentials{Username: "alice", Password: "wrong"})
		srv.Close()
		if !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("status %d: expected invalid credentials, got %v", status, err)
		}
	}
}

func TestAuthenticateUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestAuthenticator(srv).Authenticate(context.Background(), domain.Credentials{Username: "alice", Password: "pw"})
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("outage must not look like bad credentials")
	}
}

func TestAuthenticateHostOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":7,"auth_token":"tok"}`))
	}))
	defer srv.Close()

	a := NewAuthenticator(AuthenticatorOpts{
		DefaultHost: "https://unused.invalid",
		AllowHTTP:   true,
		HTTPClient:  srv.Client(),
		Logger:      discardLogger(),
	})
	client, err := a.Authenticate(context.Background(), domain.Credentials{Host: srv.URL + "/", Username: "bob", Password: "pw"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if client.Host() != srv.URL || client.Username() != "bob" {
		t.Fatalf("unexpected client %s %s", client.Host(), client.Username())
	}
}

func TestUpstreamMessage(t *testing.T) {
	if got := upstreamMessage(nil); got != "empty response" {
		t.Fatalf("got %q", got)
	}
	if got := upstreamMessage([]byte(`{"detail":"Not found."}`)); got != "Not found." {
		t.Fatalf("got %q", got)
	}
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	if got := upstreamMessage(long); len(got) != 203 {
		t.Fatalf("expected truncated message, got len %d", len(got))
	}
}
