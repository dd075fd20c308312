// Package taiga talks to the upstream Taiga REST API.
package taiga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"taigabridge/internal/domain"
	"taigabridge/internal/logsafe"
)

const (
	DefaultHost = "https://api.taiga.io"

	maxResponseBytes = 4 << 20
	defaultTimeout   = 15 * time.Second
)

// CheckHost accepts absolute https URLs, and http ones only when allowHTTP is set.
func CheckHost(host string, allowHTTP bool) error {
	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return domain.NewValidationError(map[string]string{"host": "must be an absolute URL"})
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if allowHTTP {
			return nil
		}
		return fmt.Errorf("%w: %s uses http; set APP_ALLOW_HTTP_TAIGA=true for local development", domain.ErrInsecureUpstream, logsafe.URL(host))
	default:
		return domain.NewValidationError(map[string]string{"host": "scheme must be http or https"})
	}
}

type AuthenticatorOpts struct {
	DefaultHost string
	AllowHTTP   bool
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Authenticator exchanges a username and password for a Taiga auth token.
type Authenticator struct {
	defaultHost string
	allowHTTP   bool
	client      *http.Client
	logger      *slog.Logger
}

func NewAuthenticator(opts AuthenticatorOpts) *Authenticator {
	host := strings.TrimRight(strings.TrimSpace(opts.DefaultHost), "/")
	if host == "" {
		host = DefaultHost
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		defaultHost: host,
		allowHTTP:   opts.AllowHTTP,
		client:      client,
		logger:      logger,
	}
}

type authRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AuthToken string `json:"auth_token"`
}

// Authenticate verifies creds with the upstream instance. Rejected credentials map to
// domain.ErrInvalidCredentials; transport and server failures map to domain.ErrUpstream.
func (a *Authenticator) Authenticate(ctx context.Context, creds domain.Credentials) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(creds.Host), "/")
	if host == "" {
		host = a.defaultHost
	}
	if err := CheckHost(host, a.allowHTTP); err != nil {
		return nil, err
	}
	if strings.HasPrefix(host, "http://") {
		a.logger.Warn("connecting to taiga over plain http", "host", logsafe.URL(host))
	}

	body, err := json.Marshal(authRequest{Type: "normal", Username: creds.Username, Password: creds.Password})
	if err != nil {
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/api/v1/auth", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: auth request: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		return nil, domain.ErrInvalidCredentials
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: auth status %d: %s", domain.ErrUpstream, resp.StatusCode, upstreamMessage(raw))
	}

	var out authResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode auth response: %v", domain.ErrUpstream, err)
	}
	if out.AuthToken == "" {
		return nil, fmt.Errorf("%w: auth response carried no token", domain.ErrUpstream)
	}

	username := out.Username
	if username == "" {
		username = creds.Username
	}
	return newClient(host, username, out.ID, out.AuthToken, a.client), nil
}

// Client is an authenticated Taiga API handle. It is what a session holds.
type Client struct {
	host     string
	username string
	userID   int64
	http     *http.Client
}

func newClient(host, username string, userID int64, authToken string, base *http.Client) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: authToken, TokenType: "Bearer"})
	return &Client{
		host:     host,
		username: username,
		userID:   userID,
		http: &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: base.Transport},
			Timeout:   base.Timeout,
		},
	}
}

func (c *Client) Host() string { return c.host }
func (c *Client) Username() string { return c.username }

func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	path := "/api/v1/projects"
	if c.userID != 0 {
		path += "?member=" + strconv.FormatInt(c.userID, 10)
	}
	var out []domain.Project
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

func (c *Client) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var out domain.Project
	if err := c.getJSON(ctx, "/api/v1/projects/"+strconv.FormatInt(id, 10), &out); err != nil {
		return domain.Project{}, fmt.Errorf("get project %d: %w", id, err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-disable-pagination", "True")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: upstream rejected token (status %d)", domain.ErrUpstream, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d: %s", domain.ErrUpstream, resp.StatusCode, upstreamMessage(raw))
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrUpstream, err)
	}
	return nil
}

type upstreamError struct {
	Detail       string `json:"detail"`
	ErrorMessage string `json:"_error_message"`
}

func upstreamMessage(body []byte) string {
	if len(body) == 0 {
		return "empty response"
	}
	var e upstreamError
	if err := json.Unmarshal(body, &e); err == nil {
		switch {
		case e.ErrorMessage != "":
			return e.ErrorMessage
		case e.Detail != "":
			return e.Detail
		}
	}
	const maxLen = 200
	s := string(body)
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

