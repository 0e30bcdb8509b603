// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/gorilla/mux"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpany/heroku-mcp/pkg/logging"
	"github.com/mcpany/heroku-mcp/pkg/oauth"
)

// defaultUserIDHeader identifies the caller when no header name is configured.
const defaultUserIDHeader = "x-user-id"

// anonymousUserID is used when the transport supplies no caller identity.
const anonymousUserID = "default"

type userIDKey struct{}

// UserIDFromContext returns the caller id, falling back to "default".
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey{}).(string); ok && id != "" {
		return id
	}
	return anonymousUserID
}

// WithUserID returns a context carrying the caller id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// Router builds the HTTP surface: health, OAuth endpoints and the MCP
// streamable transport under /mcp.
func (b *Bridge) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", b.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/oauth/start", b.handleOAuthStart).Methods(http.MethodGet)
	r.HandleFunc("/oauth/callback", b.handleOAuthCallback).Methods(http.MethodGet)
	r.HandleFunc("/oauth/status", b.handleOAuthStatus).Methods(http.MethodGet)
	r.HandleFunc("/oauth/token", b.handleOAuthLogout).Methods(http.MethodDelete)

	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return b.server
	}, nil)
	r.PathPrefix("/mcp").Handler(b.userIDMiddleware(streamable))
	return r
}

// userIDMiddleware copies the configured identity header into the request
// context so tool handlers can resolve the caller.
func (b *Bridge) userIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(b.userIDHeader)
		if userID == "" {
			userID = r.Header.Get(defaultUserIDHeader)
		}
		if userID == "" {
			userID = anonymousUserID
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// healthChecker reports readiness of the catalog.
func (b *Bridge) healthChecker() health.Checker {
	return health.NewChecker(
		health.WithCheck(health.Check{
			Name: "catalog",
			Check: func(context.Context) error {
				if len(b.catalog.Operations()) == 0 {
					return errors.New("catalog is empty")
				}
				return nil
			},
		}),
		health.WithCacheDuration(time.Second),
	)
}

func (b *Bridge) handleHealthz(w http.ResponseWriter, r *http.Request) {
	result := b.healthChecker().Check(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": serverName,
		"status":  result.Status,
	})
}

func (b *Bridge) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = anonymousUserID
	}

	authURL, err := b.oauth.AuthorizationURL(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	if r.URL.Query().Get("mode") == "json" {
		writeJSON(w, http.StatusOK, map[string]any{
			"authorization_url": authURL,
			"user_id":           userID,
		})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (b *Bridge) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	userID, err := b.oauth.HandleCallback(r.Context(), code, state)
	if err != nil {
		logging.GetLogger().Warn("OAuth callback failed", "error", err)
		status := http.StatusBadRequest
		if !errors.Is(err, oauth.ErrInvalidState) && !errors.Is(err, oauth.ErrExpiredState) {
			status = http.StatusBadGateway
		}
		http.Error(w, "authorization failed: "+err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Authorization complete for " + userID + ". You can close this window.\n"))
}

func (b *Bridge) handleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = anonymousUserID
	}

	authenticated, scopes, expiresAt := b.oauth.Status(userID)
	if scopes == nil {
		scopes = []string{}
	}
	out := map[string]any{
		"user_id":       userID,
		"authenticated": authenticated,
		"scopes":        scopes,
	}
	if expiresAt != "" {
		out["expires_at"] = expiresAt
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Bridge) handleOAuthLogout(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = anonymousUserID
	}
	if err := b.oauth.Logout(userID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "logged_out": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
