package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"

	glerrs "github.com/jdholdren/gleaner/internal/errors"
	"github.com/jdholdren/gleaner/internal/logger"
	"github.com/jdholdren/gleaner/internal/serverutil"
)

const sessionCookieName = "gleaner_session"

// Describes a user's sessionState that's persisted to their cookie.
type sessionState struct {
	UserID string
}

// Fetches the current session tied to the request.
func session(r *http.Request, secureCookie *securecookie.SecureCookie) sessionState {
	cookie, err := r.Cookie(sessionCookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return sessionState{}
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "error fetching cookie", "err", err)
		return sessionState{}
	}

	value := sessionState{}
	if err := secureCookie.Decode(sessionCookieName, cookie.Value, &value); err != nil {
		slog.WarnContext(r.Context(), "error decoding cookie", "err", err)
		return sessionState{}
	}

	return value
}

// Sets the session on the request. An empty session expires the cookie.
func setSession(w http.ResponseWriter, secureCookie *securecookie.SecureCookie, https bool, sess sessionState) error {
	encoded, err := secureCookie.Encode(sessionCookieName, sess)
	if err != nil {
		return fmt.Errorf("error encoding session cookie: %w", err)
	}

	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		Secure:   https,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if sess.UserID == "" {
		cookie.MaxAge = -1
	}
	http.SetCookie(w, cookie)

	return nil
}

type userIDKey struct{}

// userID is the authenticated user behind the request. Only set under requireSessionMiddleware.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

func requireSessionMiddleware(sc *securecookie.SecureCookie) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := session(r, sc)
			if state.UserID == "" {
				if err := serverutil.WriteJSON(w, http.StatusUnauthorized, glerrs.E("unauthenticated", http.StatusUnauthorized)); err != nil {
					slog.ErrorContext(r.Context(), "error writing response", "error", err)
				}
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, state.UserID)
			ctx = logger.Ctx(ctx, slog.String("user_id", state.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type debugLogin struct {
	UserID string `json:"user_id"`
}

func (d debugLogin) Validate() error {
	if d.UserID == "" {
		return glerrs.E("user_id is required", http.StatusBadRequest, glerrs.Detail{Field: "user_id", Error: "required"})
	}
	return nil
}

// Mints a session for whoever is named in the body. Only mounted with debug endpoints on.
func (s Server) postDebugLogin(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[debugLogin](r.Body)
	if err != nil {
		return err
	}

	if err := setSession(w, s.secureCookie, s.httpsCookies, sessionState{UserID: body.UserID}); err != nil {
		return err
	}
	return serverutil.WriteJSON(w, http.StatusOK, struct{}{})
}

func (s Server) getLogout(w http.ResponseWriter, r *http.Request) error {
	if err := setSession(w, s.secureCookie, s.httpsCookies, sessionState{}); err != nil {
		return err
	}

	http.Redirect(w, r, "/", http.StatusFound)
	return nil
}
