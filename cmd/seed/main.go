// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package main primes the catalog cache file from the upstream schema
// endpoint so the server can boot without network access.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpany/heroku-mcp/pkg/catalog"
	"github.com/mcpany/heroku-mcp/pkg/config"
	"github.com/mcpany/heroku-mcp/pkg/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "heroku-mcp-seed",
		Short:        "Fetch the upstream schema once and write the catalog cache file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(logging.ToSlogLevel(cfg.LogLevel), os.Stderr, cfg.LogFormat)

			svc := catalog.NewService(catalog.Config{
				SchemaURL:    cfg.SchemaURL,
				AcceptHeader: cfg.AcceptHeader,
				DocsURL:      cfg.DocsURL,
				CachePath:    cfg.CatalogCachePath,
			}, nil)
			defer svc.Close()

			if err := svc.Refresh(cmd.Context(), true); err != nil {
				return fmt.Errorf("failed to seed catalog cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d operations to %s\n",
				len(svc.Operations()), cfg.CatalogCachePath)
			return nil
		},
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
