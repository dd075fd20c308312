package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	Addr     string
	LogLevel string
	DBDSN    string

	SessionTTL          time.Duration
	SessionMaxTTL       time.Duration
	MaxSessionsPerOwner int

	LoginMaxAttempts int
	LoginWindow      time.Duration
	LoginLockout     time.Duration
	LoginStaleAfter  time.Duration

	ReaperInterval time.Duration

	TaigaURL       string
	AllowHTTPTaiga bool
}

// Load reads an optional dotenv file (APP_ENV_FILE, default .env) and then the environment.
// Values already present in the environment win over the file.
func Load() (Config, error) {
	path := os.Getenv("APP_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := loadDotEnvFile(path, os.Setenv, os.Getenv); err != nil {
		return Config{}, err
	}
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:      strings.TrimSpace(getenv("APP_ENV")),
		Addr:     strings.TrimSpace(getenv("APP_ADDR")),
		LogLevel: strings.ToLower(strings.TrimSpace(getenv("APP_LOG_LEVEL"))),
		DBDSN:    strings.TrimSpace(getenv("APP_DB_DSN")),
		TaigaURL: strings.TrimRight(strings.TrimSpace(getenv("APP_TAIGA_URL")), "/"),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TaigaURL == "" {
		cfg.TaigaURL = "https://api.taiga.io"
	}

	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	var err error
	if cfg.SessionTTL, err = positiveDuration(getenv, "APP_SESSION_TTL", 8*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SessionMaxTTL, err = positiveDuration(getenv, "APP_SESSION_MAX_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SessionMaxTTL < cfg.SessionTTL {
		return Config{}, errors.New("APP_SESSION_MAX_TTL: must be >= APP_SESSION_TTL")
	}
	if cfg.MaxSessionsPerOwner, err = nonNegativeInt(getenv, "APP_MAX_SESSIONS_PER_OWNER", 5); err != nil {
		return Config{}, err
	}

	if cfg.LoginMaxAttempts, err = nonNegativeInt(getenv, "APP_LOGIN_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.LoginWindow, err = positiveDuration(getenv, "APP_LOGIN_WINDOW", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.LoginLockout, err = positiveDuration(getenv, "APP_LOGIN_LOCKOUT", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.LoginStaleAfter, err = positiveDuration(getenv, "APP_LOGIN_STALE_AFTER", 2*cfg.LoginWindow); err != nil {
		return Config{}, err
	}
	if cfg.LoginStaleAfter < cfg.LoginWindow {
		return Config{}, errors.New("APP_LOGIN_STALE_AFTER: must be >= APP_LOGIN_WINDOW")
	}

	if cfg.ReaperInterval, err = positiveDuration(getenv, "APP_REAPER_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}

	if cfg.AllowHTTPTaiga, err = boolVar(getenv, "APP_ALLOW_HTTP_TAIGA"); err != nil {
		return Config{}, err
	}
	parsed, err := url.Parse(cfg.TaigaURL)
	if err != nil {
		return Config{}, fmt.Errorf("APP_TAIGA_URL: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return Config{}, errors.New("APP_TAIGA_URL: must be an absolute URL")
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		if !cfg.AllowHTTPTaiga {
			return Config{}, errors.New("APP_TAIGA_URL: must use https (set APP_ALLOW_HTTP_TAIGA=true for local development)")
		}
	default:
		return Config{}, errors.New("APP_TAIGA_URL: scheme must be http or https")
	}

	if cfg.IsProd() && cfg.AllowHTTPTaiga {
		return Config{}, errors.New("APP_ALLOW_HTTP_TAIGA: not allowed in prod")
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

// positiveDuration accepts Go duration syntax ("15m") or a bare number of seconds ("900").
func positiveDuration(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return def, nil
	}
	var d time.Duration
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs > math.MaxInt64/int64(time.Second) {
			return 0, fmt.Errorf("%s: too large", name)
		}
		d = time.Duration(secs) * time.Second
	} else {
		d, err = time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be > 0", name)
	}
	return d, nil
}

func nonNegativeInt(getenv func(string) string, name string, def int) (int, error) {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: must be >= 0", name)
	}
	return n, nil
}

func boolVar(getenv func(string) string, name string) (bool, error) {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}
