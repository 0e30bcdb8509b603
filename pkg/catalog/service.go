// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package catalog owns the authoritative operation catalog: it boots from a
// local cache file, refreshes from the upstream schema endpoint on demand and
// on a timer, coalesces concurrent refreshes, and republishes to subscribers
// whenever the catalog changes.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"golang.org/x/sync/singleflight"

	"github.com/mcpany/heroku-mcp/pkg/logging"
	"github.com/mcpany/heroku-mcp/pkg/schema"
)

// docsContextLimit caps the scraped documentation blob.
const docsContextLimit = 30000

// Config carries the catalog service parameters.
type Config struct {
	SchemaURL       string
	AcceptHeader    string
	DocsURL         string
	CachePath       string
	RefreshInterval time.Duration
}

// Service maintains the in-memory catalog and its on-disk cache.
type Service struct {
	cfg        Config
	httpClient *http.Client

	mu               sync.RWMutex
	catalog          *schema.Catalog
	byID             map[string]*schema.Operation
	etag             string
	docsContext      string
	docsETag         string
	docsLastModified string

	group     singleflight.Group
	onPublish func(*schema.Catalog, string)

	done     chan struct{}
	stopOnce sync.Once
}

// NewService creates the catalog service. httpClient may be nil.
func NewService(cfg Config, httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		cfg:        cfg,
		httpClient: httpClient,
		byID:       make(map[string]*schema.Operation),
		done:       make(chan struct{}),
	}
}

// SetOnPublish registers a callback invoked with the new catalog and docs
// context every time the catalog is (re)published. Must be set before Load.
func (s *Service) SetOnPublish(fn func(*schema.Catalog, string)) {
	s.onPublish = fn
}

// Load performs the cold boot: read the cache file once and, if valid,
// publish its contents. A missing file is not an error; a corrupt or
// mis-versioned file is discarded with a warning.
func (s *Service) Load() {
	cf, err := readCacheFile(s.cfg.CachePath)
	if err != nil {
		logging.GetLogger().Warn("Discarding catalog cache", "path", s.cfg.CachePath, "error", err)
		return
	}
	if cf == nil {
		return
	}

	cat := &schema.Catalog{Operations: cf.Operations, RootSchema: cf.RootSchema}
	if len(cat.Operations) == 0 {
		var err error
		cat, err = schema.Normalize(cf.RootSchema)
		if err != nil {
			logging.GetLogger().Warn("Discarding catalog cache", "path", s.cfg.CachePath, "error", err)
			return
		}
	}

	s.mu.Lock()
	s.etag = cf.SchemaETag
	s.docsContext = cf.DocsContext
	s.docsETag = cf.DocsETag
	s.docsLastModified = cf.DocsLastModified
	s.publishLocked(cat)
	s.mu.Unlock()

	logging.GetLogger().Info("Loaded catalog cache",
		"path", s.cfg.CachePath, "operations", len(cat.Operations))
}

// EnsureReady blocks until a catalog is available, forcing a refresh when the
// cold boot produced nothing.
func (s *Service) EnsureReady(ctx context.Context) error {
	if len(s.Operations()) > 0 {
		return nil
	}
	return s.Refresh(ctx, true)
}

// Refresh fetches the upstream schema and the docs context, republishing and
// persisting on change. Concurrent callers join the in-flight refresh
// instead of starting another one.
func (s *Service) Refresh(ctx context.Context, force bool) error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx, force)
	})
	return err
}

// Operation resolves an operation by id.
func (s *Service) Operation(id string) *schema.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Operations returns the currently published operation list.
func (s *Service) Operations() []*schema.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Operations
}

// RootSchema returns the raw root schema, or nil before the first publish.
func (s *Service) RootSchema() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.catalog == nil {
		return nil
	}
	return s.catalog.RootSchema
}

// DocsContext returns the scraped documentation blob, possibly empty.
func (s *Service) DocsContext() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docsContext
}

// StartBackground schedules non-forced refreshes at the configured interval
// until Close is called or ctx is cancelled.
func (s *Service) StartBackground(ctx context.Context) {
	if s.cfg.RefreshInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				if err := s.Refresh(ctx, false); err != nil {
					logging.GetLogger().Warn("Background catalog refresh failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the background refresh ticker.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Service) refresh(ctx context.Context, force bool) error {
	defer metrics.MeasureSince([]string{"catalog", "refresh", "latency"}, time.Now())

	schemaChanged, err := s.refreshSchema(ctx, force)
	if err != nil {
		metrics.IncrCounter([]string{"catalog", "refresh", "error"}, 1)
		return err
	}
	docsChanged := s.refreshDocs(ctx)

	if schemaChanged || docsChanged {
		s.persist()
	}
	return nil
}

func (s *Service) refreshSchema(ctx context.Context, force bool) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.SchemaURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build schema request: %w", err)
	}
	req.Header.Set("Accept", s.cfg.AcceptHeader)

	s.mu.RLock()
	etag := s.etag
	empty := s.catalog == nil || len(s.catalog.Operations) == 0
	s.mu.RUnlock()

	if !force && etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to fetch schema: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		if !empty {
			return false, nil
		}
		// A 304 against an empty catalog means the stored ETag is stale
		// relative to lost local state. Refetch unconditionally.
		logging.GetLogger().Warn("Schema 304 with empty catalog, forcing refetch")
		return s.refreshSchema(ctx, true)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("schema fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read schema response: %w", err)
	}
	root, err := decodeSchema(body)
	if err != nil {
		return false, err
	}
	cat, err := schema.Normalize(root)
	if err != nil {
		return false, fmt.Errorf("failed to normalize schema: %w", err)
	}

	s.mu.Lock()
	if v := resp.Header.Get("ETag"); v != "" {
		s.etag = v
	}
	s.publishLocked(cat)
	s.mu.Unlock()

	metrics.IncrCounter([]string{"catalog", "refresh", "success"}, 1)
	logging.GetLogger().Info("Published catalog", "operations", len(cat.Operations))
	return true, nil
}

// refreshDocs updates the documentation context. Failures never fail the
// refresh; the previous blob is kept.
func (s *Service) refreshDocs(ctx context.Context) bool {
	if s.cfg.DocsURL == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.DocsURL, nil)
	if err != nil {
		logging.GetLogger().Warn("Failed to build docs request", "error", err)
		return false
	}

	s.mu.RLock()
	docsETag, docsLastModified := s.docsETag, s.docsLastModified
	s.mu.RUnlock()

	if docsETag != "" {
		req.Header.Set("If-None-Match", docsETag)
	} else if docsLastModified != "" {
		req.Header.Set("If-Modified-Since", docsLastModified)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logging.GetLogger().Warn("Docs fetch failed", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		logging.GetLogger().Warn("Docs fetch returned non-OK status", "status", resp.StatusCode)
		return false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.GetLogger().Warn("Failed to read docs response", "error", err)
		return false
	}
	text := StripHTML(string(body))
	// The limit counts characters, so clamp on rune boundaries.
	if runes := []rune(text); len(runes) > docsContextLimit {
		text = string(runes[:docsContextLimit])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docsETag = resp.Header.Get("ETag")
	s.docsLastModified = resp.Header.Get("Last-Modified")
	if text == s.docsContext {
		return false
	}
	s.docsContext = text
	if s.onPublish != nil && s.catalog != nil {
		s.onPublish(s.catalog, s.docsContext)
	}
	return true
}

// publishLocked atomically replaces the catalog and the by-id index and
// notifies the subscriber. Caller holds s.mu.
func (s *Service) publishLocked(cat *schema.Catalog) {
	byID := make(map[string]*schema.Operation, len(cat.Operations))
	for _, op := range cat.Operations {
		byID[op.OperationID] = op
	}
	s.catalog = cat
	s.byID = byID
	if s.onPublish != nil {
		s.onPublish(cat, s.docsContext)
	}
}

func (s *Service) persist() {
	if s.cfg.CachePath == "" {
		return
	}

	s.mu.RLock()
	cf := &CacheFile{
		SchemaETag:       s.etag,
		DocsContext:      s.docsContext,
		DocsETag:         s.docsETag,
		DocsLastModified: s.docsLastModified,
	}
	if s.catalog != nil {
		cf.RootSchema = s.catalog.RootSchema
		cf.Operations = s.catalog.Operations
	}
	s.mu.RUnlock()

	if cf.RootSchema == nil {
		return
	}
	if err := writeCacheFile(s.cfg.CachePath, cf); err != nil {
		logging.GetLogger().Warn("Failed to persist catalog cache", "error", err)
	}
}
