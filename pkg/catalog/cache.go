// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcpany/heroku-mcp/pkg/schema"
)

// cacheVersion guards the on-disk layout. Payloads carrying any other
// version are discarded on boot.
const cacheVersion = 1

// CacheFile is the persisted snapshot of the last successful refresh.
type CacheFile struct {
	Version          int                 `json:"version"`
	CachedAt         string              `json:"cached_at,omitempty"`
	SchemaETag       string              `json:"schema_etag,omitempty"`
	RootSchema       map[string]any      `json:"root_schema"`
	Operations       []*schema.Operation `json:"operations"`
	DocsContext      string              `json:"docs_context,omitempty"`
	DocsETag         string              `json:"docs_etag,omitempty"`
	DocsLastModified string              `json:"docs_last_modified,omitempty"`
}

func readCacheFile(path string) (*CacheFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read catalog cache: %w", err)
	}

	var cf CacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse catalog cache: %w", err)
	}
	if cf.Version != cacheVersion {
		return nil, fmt.Errorf("unsupported catalog cache version %d", cf.Version)
	}
	if cf.RootSchema == nil {
		return nil, fmt.Errorf("catalog cache is missing the root schema")
	}
	return &cf, nil
}

func writeCacheFile(path string, cf *CacheFile) error {
	cf.Version = cacheVersion
	cf.CachedAt = time.Now().UTC().Format(time.RFC3339)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create catalog cache directory: %w", err)
	}
	data, err := json.Marshal(cf)
	if err != nil {
		return fmt.Errorf("failed to serialize catalog cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog cache: %w", err)
	}
	return nil
}
