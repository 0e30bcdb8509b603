// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpany/heroku-mcp/pkg/catalog"
	"github.com/mcpany/heroku-mcp/pkg/executor"
	"github.com/mcpany/heroku-mcp/pkg/oauth"
	"github.com/mcpany/heroku-mcp/pkg/tokenstore"
)

func upstreamHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/schema", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"definitions": map[string]any{
				"app": map[string]any{
					"links": []any{
						map[string]any{"href": "/apps", "method": "GET", "title": "List", "description": "List existing apps."},
						map[string]any{"href": "/apps/{(%23%2Fdefinitions%2Fapp%2Fdefinitions%2Fidentity)}/releases",
							"method": "GET", "title": "List releases"},
					},
				},
			},
		})
	})
	mux.HandleFunc("/apps", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"demo"}]`))
	})
	return mux
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()

	srv := httptest.NewServer(upstreamHandler())
	t.Cleanup(srv.Close)

	catalogSvc := catalog.NewService(catalog.Config{
		SchemaURL:    srv.URL + "/schema",
		AcceptHeader: "application/vnd.heroku+json; version=3",
		CachePath:    filepath.Join(t.TempDir(), "catalog.json"),
	}, srv.Client())
	t.Cleanup(catalogSvc.Close)

	store := tokenstore.New(filepath.Join(t.TempDir(), "tokens.json"), bytes.Repeat([]byte{0x22}, 32))
	require.NoError(t, store.Put("alice", &tokenstore.TokenRecord{
		AccessToken: "token-alice",
		Scope:       []string{"global"},
		ExpiresAt:   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}))
	oauthSvc := oauth.NewService(oauth.Config{
		ClientID:     "cid",
		AuthorizeURL: "https://id.example.com/oauth/authorize",
		TokenURL:     srv.URL + "/oauth/token",
		RedirectURI:  "https://bridge.example.com/oauth/callback",
		Scope:        "global",
	}, store, srv.Client())
	t.Cleanup(oauthSvc.Close)

	exec := executor.New(executor.Config{
		BaseURL:            srv.URL,
		AcceptHeader:       "application/vnd.heroku+json; version=3",
		RequestTimeout:     5 * time.Second,
		ConfirmationSecret: "secret",
	}, executor.Capabilities{
		ResolveOperation: catalogSvc.Operation,
		RootSchema:       catalogSvc.RootSchema,
		VendToken:        oauthSvc.AccessToken,
		Doer:             srv.Client(),
	})

	return New(catalogSvc, oauthSvc, exec, "x-caller-id")
}

func callTool(t *testing.T, b *Bridge, ctx context.Context, name, args string) (map[string]any, bool) {
	t.Helper()

	var handler func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error)
	switch name {
	case "search":
		handler = b.handleSearch
	case "execute":
		handler = b.handleExecute
	case "auth_status":
		handler = b.handleAuthStatus
	default:
		t.Fatalf("unknown tool %q", name)
	}

	res, err := handler(ctx, &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{Name: name, Arguments: json.RawMessage(args)},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)

	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, res.IsError
}

func TestSearchTool(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)
	out, isErr := callTool(t, b, context.Background(), "search", `{"query":"list apps"}`)
	require.False(t, isErr)

	results, ok := out["results"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, results)
	top := results[0].(map[string]any)
	assert.Equal(t, "GET /apps", top["operation_id"])
	assert.Equal(t, false, top["is_mutating"])
	assert.NotZero(t, top["score"])
}

func TestSearchTool_BlankQuery(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)
	out, isErr := callTool(t, b, context.Background(), "search", `{"query":"   "}`)
	require.False(t, isErr)
	assert.Empty(t, out["results"])
}

func TestExecuteTool_Success(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)
	ctx := WithUserID(context.Background(), "alice")
	out, isErr := callTool(t, b, ctx, "execute", `{"operation_id":"GET /apps"}`)
	require.False(t, isErr)

	assert.EqualValues(t, 200, out["status"])
	req := out["request"].(map[string]any)
	assert.Equal(t, "GET /apps", req["operation_id"])
}

func TestExecuteTool_ErrorEnvelope(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)
	ctx := WithUserID(context.Background(), "alice")
	out, isErr := callTool(t, b, ctx, "execute", `{"operation_id":"GET /nope"}`)
	require.True(t, isErr)

	envelope := out["error"].(map[string]any)
	assert.Equal(t, executor.CodeOperationNotFound, envelope["code"])
	assert.EqualValues(t, 404, envelope["status"])
}

func TestExecuteTool_AnonymousCallerNeedsAuth(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)
	out, isErr := callTool(t, b, context.Background(), "execute", `{"operation_id":"GET /apps"}`)
	require.True(t, isErr)
	assert.Equal(t, executor.CodeAuthRequired, out["error"].(map[string]any)["code"])
}

func TestAuthStatusTool(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)

	out, isErr := callTool(t, b, WithUserID(context.Background(), "alice"), "auth_status", `{}`)
	require.False(t, isErr)
	assert.Equal(t, true, out["authenticated"])
	assert.Equal(t, []any{"global"}, out["scopes"])
	assert.NotEmpty(t, out["expires_at"])

	out, _ = callTool(t, b, WithUserID(context.Background(), "stranger"), "auth_status", `{}`)
	assert.Equal(t, false, out["authenticated"])
	assert.Equal(t, []any{}, out["scopes"])
}

func TestUserIDMiddleware(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)

	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("x-caller-id", "alice")
	b.userIDMiddleware(inner).ServeHTTP(rec, req)
	assert.Equal(t, "alice", got)

	// Fallback header.
	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("x-user-id", "bob")
	b.userIDMiddleware(inner).ServeHTTP(rec, req)
	assert.Equal(t, "bob", got)

	// No identity at all.
	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	b.userIDMiddleware(inner).ServeHTTP(rec, req)
	assert.Equal(t, "default", got)
}

func TestHealthzEndpoint(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)
	require.NoError(t, b.catalog.EnsureReady(context.Background()))

	rec := httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "heroku-mcp", out["service"])
	assert.Equal(t, "up", out["status"])
}

func TestOAuthStartEndpoint(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)

	// JSON mode.
	rec := httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/start?user_id=alice&mode=json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "alice", out["user_id"])
	assert.Contains(t, out["authorization_url"], "id.example.com")

	// Redirect mode is the default.
	rec = httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/start?user_id=alice", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "id.example.com")
}

func TestOAuthCallbackEndpoint_InvalidState(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)
	rec := httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=x&state=unknown", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthStatusAndLogoutEndpoints(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)

	rec := httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/status?user_id=alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, true, out["authenticated"])

	rec = httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/oauth/token?user_id=alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/status?user_id=alice", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, false, out["authenticated"])
}

func TestSearchRanking_EndToEnd(t *testing.T) {
	t.Parallel()

	b := newTestBridge(t)
	out, isErr := callTool(t, b, context.Background(), "search", `{"query":"list apps"}`)
	require.False(t, isErr)

	results := out["results"].([]any)
	require.NotEmpty(t, results)
	assert.Equal(t, "GET /apps", results[0].(map[string]any)["operation_id"])
}
