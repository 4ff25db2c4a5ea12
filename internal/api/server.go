// Package api serves the HTTP interface: subscribing to feeds, refreshing them, and reading
// the merged timeline.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdholdren/gleaner/internal/fetch"
	"github.com/jdholdren/gleaner/internal/gleaner"
	"github.com/jdholdren/gleaner/internal/refresh"
	"github.com/jdholdren/gleaner/internal/serverutil"
	"github.com/jdholdren/gleaner/internal/timeline"
)

type (
	Fetcher interface {
		Fetch(ctx context.Context, url string) (fetch.Result, error)
	}

	Registry interface {
		Resolve(ctx context.Context, url string, seed fetch.Result) (gleaner.Feed, bool, error)
	}

	Subscriptions interface {
		Subscribe(ctx context.Context, userID, feedID string) (gleaner.SubscriptionWithFeed, error)
		Unsubscribe(ctx context.Context, userID, feedID string) error
		List(ctx context.Context, userID string) ([]gleaner.SubscriptionWithFeed, error)
	}

	Refresher interface {
		Refresh(ctx context.Context, userID string) ([]refresh.Outcome, error)
	}

	Timeline interface {
		Timeline(ctx context.Context, userID string, page timeline.Page) ([]gleaner.TimelineItem, error)
	}

	Pinger interface {
		Ping(ctx context.Context) error
	}

	// Deps are the components the handlers delegate to.
	Deps struct {
		Fetcher       Fetcher
		Registry      Registry
		Subscriptions Subscriptions
		Refresher     Refresher
		Timeline      Timeline
		DB            Pinger
	}
)

type (
	Server struct {
		*http.Server

		deps           Deps
		secureCookie   *securecookie.SecureCookie
		httpsCookies   bool // Whether or not HTTPS should be used for cookies
		refreshTimeout time.Duration
	}

	ServerConfig struct {
		Port           int
		CookieHashKey  []byte
		CookieBlockKey []byte
		HttpsCookies   bool
		CorsOrigin     string
		RefreshTimeout time.Duration

		DebugEndpoints bool
	}
)

const defaultRefreshTimeout = 30 * time.Second

func NewServer(config ServerConfig, deps Deps) *Server {
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = defaultRefreshTimeout
	}

	r := serverutil.ErrRouter{Router: mux.NewRouter()}
	srvr := Server{
		deps:           deps,
		secureCookie:   securecookie.New(config.CookieHashKey, config.CookieBlockKey),
		httpsCookies:   config.HttpsCookies,
		refreshTimeout: config.RefreshTimeout,
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			ReadTimeout: 5 * time.Second,
			// A refresh may legitimately run for its whole budget before answering.
			WriteTimeout: config.RefreshTimeout + 5*time.Second,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsOrigin}),
				handlers.AllowCredentials(),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFuncE("/healthz", srvr.getHealth).Methods(http.MethodGet)
	r.HandleFuncE("/api/logout", srvr.getLogout).Methods(http.MethodGet)

	if config.DebugEndpoints {
		// For local testing
		r.HandleFuncE("/api/login", srvr.postDebugLogin).Methods(http.MethodPost)
	}

	authed := serverutil.ErrRouter{Router: r.NewRoute().Subrouter()}
	authed.Use(requireSessionMiddleware(srvr.secureCookie))

	// Subscription management
	authed.HandleFuncE("/api/feeds", srvr.getFeeds).Methods(http.MethodGet)
	authed.HandleFuncE("/api/feeds", srvr.postFeeds).Methods(http.MethodPost)
	authed.HandleFuncE("/api/feeds/refresh", srvr.postRefresh).Methods(http.MethodPost)
	authed.HandleFuncE("/api/feeds/{feedID}", srvr.deleteFeed).Methods(http.MethodDelete)

	// Timeline view
	authed.HandleFuncE("/api/timeline", srvr.getTimeline).Methods(http.MethodGet)

	slog.Debug("configured api server", "port", config.Port, "debug_endpoints", config.DebugEndpoints)

	return &srvr
}

func (s Server) getHealth(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.DB.Ping(ctx); err != nil {
		slog.ErrorContext(ctx, "health check failed", "error", err)
		return serverutil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}

	return serverutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
