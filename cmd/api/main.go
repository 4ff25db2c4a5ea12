// Gleaner-API serves subscriptions, refreshes, and timelines over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/gleaner/internal/api"
	"github.com/jdholdren/gleaner/internal/fetch"
	"github.com/jdholdren/gleaner/internal/ingest"
	"github.com/jdholdren/gleaner/internal/logger"
	"github.com/jdholdren/gleaner/internal/migrations"
	"github.com/jdholdren/gleaner/internal/refresh"
	"github.com/jdholdren/gleaner/internal/registry"
	"github.com/jdholdren/gleaner/internal/sqlite"
	"github.com/jdholdren/gleaner/internal/subscriptions"
	"github.com/jdholdren/gleaner/internal/timeline"
)

type config struct {
	Database string `env:"DATABASE, required"`

	Port           int    `env:"PORT, default=4444"`
	HTTPSCookies   bool   `env:"HTTPS_COOKIES, default=false"`
	CookieHashKey  string `env:"COOKIE_HASH_KEY, required"`
	CookieBlockKey string `env:"COOKIE_BLOCK_KEY"`
	CorsOrigin     string `env:"CORS_ORIGIN, default=http://localhost:5173"`
	DebugEndpoints bool   `env:"DEBUG_ENDPOINTS, default=false"`

	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT, default=10s"`
	RefreshTimeout     time.Duration `env:"REFRESH_TIMEOUT, default=30s"`
	RefreshConcurrency int           `env:"REFRESH_CONCURRENCY, default=8"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	Debug        bool   `env:"DEBUG, default=false"`
}

func main() {
	ctx := context.Background()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat, level))

	if err := runServer(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg config) error {
	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer dbx.Close()

	// The file may live on a volume that's still being mounted
	backoff := retry.WithMaxRetries(6, retry.NewFibonacci(500*time.Millisecond))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := dbx.PingContext(ctx); err != nil {
			slog.Warn("database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return err
	}

	s := newServer(cfg, dbx)

	var g run.Group
	g.Add(func() error {
		slog.Info("listening", "addr", s.Addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %w", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.RefreshTimeout)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	var sigErr run.SignalError
	if err := g.Run(); err != nil && !errors.As(err, &sigErr) {
		return err
	}
	slog.Info("shut down")

	return nil
}

func newServer(cfg config, dbx *sqlx.DB) *api.Server {
	var (
		repo    = sqlite.New(dbx)
		fetcher = fetch.New(cfg.FetchTimeout)
		engine  = ingest.NewEngine(repo)
		reg     = registry.New(repo, engine)
	)

	return api.NewServer(api.ServerConfig{
		Port:           cfg.Port,
		CookieHashKey:  []byte(cfg.CookieHashKey),
		CookieBlockKey: []byte(cfg.CookieBlockKey),
		HttpsCookies:   cfg.HTTPSCookies,
		CorsOrigin:     cfg.CorsOrigin,
		RefreshTimeout: cfg.RefreshTimeout,
		DebugEndpoints: cfg.DebugEndpoints,
	}, api.Deps{
		Fetcher:       fetcher,
		Registry:      reg,
		Subscriptions: subscriptions.NewIndex(repo),
		Refresher:     refresh.New(repo, fetcher, reg, engine, cfg.RefreshConcurrency),
		Timeline:      timeline.New(repo),
		DB:            repo,
	})
}
