package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"taigabridge/internal/audit"
	"taigabridge/internal/config"
	"taigabridge/internal/domain"
	"taigabridge/internal/httpapi"
	"taigabridge/internal/logsafe"
	"taigabridge/internal/metrics"
	"taigabridge/internal/ratelimit"
	"taigabridge/internal/service"
	"taigabridge/internal/store/postgres"
	"taigabridge/internal/taiga"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code. Deferred cleanup completes before main exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		return 1
	}

	logger := newLogger(cfg)
	m := metrics.New()

	var (
		sink       audit.Sink = audit.Nop{}
		asyncAudit *audit.Async
		dbPing     func(context.Context) error
	)

	if cfg.DBDSN != "" {
		pgPool, err := postgres.Open(context.Background(), cfg.DBDSN)
		if err != nil {
			logger.Error("db open failed", "err", err)
			return 1
		}
		defer pgPool.Close()

		store := postgres.NewAuditStore(pgPool)
		if err := store.EnsureSchema(context.Background()); err != nil {
			logger.Error("audit schema failed", "err", err)
			return 1
		}
		asyncAudit = audit.NewAsync(store, audit.DefaultQueueSize, logger)
		sink = asyncAudit
		dbPing = pgPool.Ping
		logger.Info("audit log enabled")
	} else {
		logger.Info("audit log disabled", "hint", "set APP_DB_DSN to persist auth events")
	}

	taigaAuth := taiga.NewAuthenticator(taiga.AuthenticatorOpts{
		DefaultHost: cfg.TaigaURL,
		AllowHTTP:   cfg.AllowHTTPTaiga,
		Logger:      logger,
	})
	authenticate := func(ctx context.Context, creds domain.Credentials) (httpapi.Upstream, error) {
		client, err := taigaAuth.Authenticate(ctx, creds)
		if err != nil {
			return nil, err
		}
		logger.Debug("taiga session opened", "user", client.Username(), "host", logsafe.URL(client.Host()))
		return client, nil
	}

	authSvc := service.NewAuthService(service.AuthServiceOpts[httpapi.Upstream]{
		Authenticator:       service.AuthenticatorFunc[httpapi.Upstream](authenticate),
		SessionTTL:          cfg.SessionTTL,
		MaxSessionTTL:       cfg.SessionMaxTTL,
		MaxSessionsPerOwner: cfg.MaxSessionsPerOwner,
		LoginPolicy: ratelimit.Policy{
			MaxAttempts:     cfg.LoginMaxAttempts,
			Window:          cfg.LoginWindow,
			LockoutDuration: cfg.LoginLockout,
		},
		StaleAfter:     cfg.LoginStaleAfter,
		ReaperInterval: cfg.ReaperInterval,
		Audit:          sink,
		Metrics:        m,
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	authSvc.Start(ctx)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.RouterOpts{
			Logger:  logger,
			IsProd:  cfg.IsProd(),
			DBPing:  dbPing,
			Auth:    authSvc,
			Metrics: m,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr, "taiga", cfg.TaigaURL)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-stop:
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	authSvc.Close()
	if asyncAudit != nil {
		if err := asyncAudit.Close(shutdownCtx); err != nil {
			logger.Warn("audit queue not drained", "err", err, "dropped", asyncAudit.Dropped())
		}
	}

	return exitCode
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
