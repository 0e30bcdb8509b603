// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package bridge exposes the catalog, executor and OAuth components as an
// MCP server with exactly three tools: search, execute and auth_status.
package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpany/heroku-mcp/pkg/catalog"
	"github.com/mcpany/heroku-mcp/pkg/executor"
	"github.com/mcpany/heroku-mcp/pkg/logging"
	"github.com/mcpany/heroku-mcp/pkg/oauth"
	"github.com/mcpany/heroku-mcp/pkg/schema"
	"github.com/mcpany/heroku-mcp/pkg/search"
)

// serverName identifies this bridge to MCP hosts.
const serverName = "heroku-mcp"

// Version is stamped at build time.
var Version = "dev"

// Bridge wires the process-scoped components behind the tool surface.
type Bridge struct {
	catalog      *catalog.Service
	oauth        *oauth.Service
	exec         *executor.Executor
	userIDHeader string

	mu    sync.RWMutex
	index *search.Index

	server *mcp.Server
}

// New creates the bridge and registers its tools. The bridge subscribes to
// catalog publications, so it must be constructed before the catalog service
// loads or refreshes.
func New(catalogSvc *catalog.Service, oauthSvc *oauth.Service, exec *executor.Executor, userIDHeader string) *Bridge {
	if userIDHeader == "" {
		userIDHeader = defaultUserIDHeader
	}
	b := &Bridge{
		catalog:      catalogSvc,
		oauth:        oauthSvc,
		exec:         exec,
		userIDHeader: userIDHeader,
		index:        search.Build(nil, ""),
	}

	catalogSvc.SetOnPublish(func(cat *schema.Catalog, docsContext string) {
		idx := search.Build(cat.Operations, docsContext)
		b.mu.Lock()
		b.index = idx
		b.mu.Unlock()
		exec.InvalidateValidators()
		logging.GetLogger().Info("Rebuilt search index", "operations", len(cat.Operations))
	})

	b.server = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: Version,
	}, &mcp.ServerOptions{})
	b.registerTools()
	return b
}

// Server returns the underlying MCP server.
func (b *Bridge) Server() *mcp.Server {
	return b.server
}

// RunStdio serves the MCP protocol over stdin/stdout until ctx is cancelled.
func (b *Bridge) RunStdio(ctx context.Context) error {
	return b.server.Run(ctx, &mcp.StdioTransport{})
}

func (b *Bridge) searchIndex() *search.Index {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index
}

func (b *Bridge) registerTools() {
	b.server.AddTool(&mcp.Tool{
		Name:        "search",
		Description: "Search the Heroku Platform API operation catalog by free text.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "Free-text query over operation ids, paths, titles and descriptions.",
				},
				"limit": map[string]any{
					"type":    "integer",
					"minimum": 1,
					"maximum": search.MaxLimit,
				},
				"resource_filter": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []string{"query"},
		},
	}, b.handleSearch)

	b.server.AddTool(&mcp.Tool{
		Name:        "execute",
		Description: "Execute a Heroku Platform API operation by id. Mutating operations require a dry run first to obtain a confirmation token.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation_id": map[string]any{"type": "string"},
				"path_params": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
				"query_params": map[string]any{
					"type": "object",
					"additionalProperties": map[string]any{
						"type": []string{"string", "number", "boolean"},
					},
				},
				"body":                map[string]any{},
				"dry_run":             map[string]any{"type": "boolean"},
				"confirm_write_token": map[string]any{"type": "string"},
			},
			"required": []string{"operation_id"},
		},
	}, b.handleExecute)

	b.server.AddTool(&mcp.Tool{
		Name:        "auth_status",
		Description: "Report whether the caller holds a Heroku OAuth token.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, b.handleAuthStatus)
}

type searchArgs struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit"`
	ResourceFilter []string `json:"resource_filter"`
}

func (b *Bridge) handleSearch(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchArgs
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult(&executor.Error{Code: executor.CodeValidationError, Message: "invalid search arguments: " + err.Error(), Status: 400}), nil
	}

	if err := b.catalog.EnsureReady(ctx); err != nil {
		return errorResult(&executor.Error{Code: executor.CodeSchemaUnavailable, Message: err.Error(), Status: 503}), nil
	}

	results := b.searchIndex().Search(args.Query, args.ResourceFilter, args.Limit)
	if results == nil {
		results = []search.Result{}
	}
	return jsonResult(map[string]any{"results": results}), nil
}

func (b *Bridge) handleExecute(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args executor.Request
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult(&executor.Error{Code: executor.CodeValidationError, Message: "invalid execute arguments: " + err.Error(), Status: 400}), nil
	}

	if err := b.catalog.EnsureReady(ctx); err != nil {
		return errorResult(&executor.Error{Code: executor.CodeSchemaUnavailable, Message: err.Error(), Status: 503}), nil
	}

	resp, err := b.exec.Execute(ctx, UserIDFromContext(ctx), &args)
	if err != nil {
		return errorResult(toEnvelope(err)), nil
	}
	return jsonResult(resp), nil
}

func (b *Bridge) handleAuthStatus(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	authenticated, scopes, expiresAt := b.oauth.Status(UserIDFromContext(ctx))
	if scopes == nil {
		scopes = []string{}
	}
	out := map[string]any{
		"authenticated": authenticated,
		"scopes":        scopes,
	}
	if expiresAt != "" {
		out["expires_at"] = expiresAt
	}
	return jsonResult(out), nil
}

// toEnvelope maps any failure to the uniform error envelope.
func toEnvelope(err error) *executor.Error {
	if typed, ok := err.(*executor.Error); ok {
		return typed
	}
	return &executor.Error{Code: executor.CodeRequestFailed, Message: err.Error(), Status: 502}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(&executor.Error{Code: executor.CodeRequestFailed, Message: "failed to serialize result: " + err.Error(), Status: 502})
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

func errorResult(envelope *executor.Error) *mcp.CallToolResult {
	data, _ := json.Marshal(map[string]any{"error": envelope})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
