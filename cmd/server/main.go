// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package main implements the Heroku MCP bridge server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpany/heroku-mcp/pkg/bridge"
	"github.com/mcpany/heroku-mcp/pkg/catalog"
	"github.com/mcpany/heroku-mcp/pkg/config"
	"github.com/mcpany/heroku-mcp/pkg/executor"
	"github.com/mcpany/heroku-mcp/pkg/logging"
	"github.com/mcpany/heroku-mcp/pkg/oauth"
	"github.com/mcpany/heroku-mcp/pkg/tokenstore"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var stdio bool

	rootCmd := &cobra.Command{
		Use:   "heroku-mcp",
		Short: "MCP bridge for the Heroku Platform API",
		Long: `heroku-mcp exposes the Heroku Platform API to MCP hosts through three
tools: search, execute and auth_status. It serves either the stdio MCP
transport or a streamable HTTP endpoint with OAuth helper routes.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), stdio)
		},
	}
	rootCmd.Flags().BoolVar(&stdio, "stdio", false, "serve the MCP protocol over stdin/stdout instead of HTTP")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdio bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logOutput := os.Stdout
	if stdio {
		// stdout carries JSON-RPC in stdio mode.
		logOutput = os.Stderr
	}
	logging.Init(logging.ToSlogLevel(cfg.LogLevel), logOutput, cfg.LogFormat)
	log := logging.GetLogger()

	key, err := cfg.EncryptionKey()
	if err != nil {
		return err
	}
	store := tokenstore.New(cfg.TokenStorePath, key)

	oauthSvc := oauth.NewService(oauth.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		Scope:        cfg.OAuthScope,
		AuthorizeURL: cfg.OAuthAuthorizeURL,
		TokenURL:     cfg.OAuthTokenURL,
		RedirectURI:  cfg.OAuthRedirectURI,
	}, store, nil)
	defer oauthSvc.Close()
	oauthSvc.StartSweeper(time.Minute)

	catalogSvc := catalog.NewService(catalog.Config{
		SchemaURL:       cfg.SchemaURL,
		AcceptHeader:    cfg.AcceptHeader,
		DocsURL:         cfg.DocsURL,
		CachePath:       cfg.CatalogCachePath,
		RefreshInterval: cfg.SchemaRefreshInterval,
	}, nil)
	defer catalogSvc.Close()

	exec := executor.New(executor.Config{
		BaseURL:            cfg.APIBaseURL,
		AcceptHeader:       cfg.AcceptHeader,
		AllowWrites:        cfg.AllowWrites,
		RequestTimeout:     cfg.RequestTimeout,
		MaxRetries:         cfg.MaxRetries,
		ReadCacheTTL:       cfg.ReadCacheTTL,
		MaxBodyBytes:       cfg.ExecuteMaxBodyBytes,
		BodyPreviewChars:   cfg.ExecuteBodyPreviewChars,
		ConfirmationSecret: cfg.WriteConfirmationSecret,
	}, executor.Capabilities{
		ResolveOperation: catalogSvc.Operation,
		RootSchema:       catalogSvc.RootSchema,
		VendToken:        oauthSvc.AccessToken,
		Doer:             http.DefaultClient,
	})

	// The bridge must subscribe before the catalog publishes anything.
	b := bridge.New(catalogSvc, oauthSvc, exec, cfg.UserIDHeader)

	catalogSvc.Load()
	if err := catalogSvc.EnsureReady(ctx); err != nil {
		log.Warn("Catalog not ready at startup, continuing without it", "error", err)
	}
	catalogSvc.StartBackground(ctx)

	if stdio {
		log.Info("Serving MCP over stdio")
		return b.RunStdio(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           b.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Serving HTTP", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}
