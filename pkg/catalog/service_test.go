// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpany/heroku-mcp/pkg/schema"
)

func testRootSchema() map[string]any {
	return map[string]any{
		"definitions": map[string]any{
			"app": map[string]any{
				"links": []any{
					map[string]any{"href": "/apps", "method": "GET", "title": "List"},
					map[string]any{"href": "/apps", "method": "POST", "title": "Create"},
				},
			},
		},
	}
}

type schemaUpstream struct {
	etag     string
	payload  map[string]any
	status   int
	fetches  atomic.Int64
	notMods  atomic.Int64
	lastCond atomic.Value
}

func (u *schemaUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cond := r.Header.Get("If-None-Match")
		u.lastCond.Store(cond)
		if u.status != 0 {
			w.WriteHeader(u.status)
			return
		}
		if cond != "" && cond == u.etag {
			u.notMods.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		u.fetches.Add(1)
		if u.etag != "" {
			w.Header().Set("ETag", u.etag)
		}
		_ = json.NewEncoder(w).Encode(u.payload)
	}
}

func newTestService(t *testing.T, upstream *schemaUpstream, docsHandler http.HandlerFunc) *Service {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/schema", upstream.handler())
	if docsHandler != nil {
		mux.HandleFunc("/docs", docsHandler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := Config{
		SchemaURL:    srv.URL + "/schema",
		AcceptHeader: "application/vnd.heroku+json; version=3",
		CachePath:    filepath.Join(t.TempDir(), "catalog.json"),
	}
	if docsHandler != nil {
		cfg.DocsURL = srv.URL + "/docs"
	}
	svc := NewService(cfg, srv.Client())
	t.Cleanup(svc.Close)
	return svc
}

func TestRefresh_PublishesCatalog(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{etag: `"v1"`, payload: testRootSchema()}
	svc := newTestService(t, upstream, nil)

	var published atomic.Int64
	svc.SetOnPublish(func(cat *schema.Catalog, _ string) {
		published.Add(1)
		assert.Len(t, cat.Operations, 2)
	})

	require.NoError(t, svc.Refresh(context.Background(), true))
	assert.Len(t, svc.Operations(), 2)
	assert.NotNil(t, svc.Operation("GET /apps"))
	assert.NotNil(t, svc.Operation("POST /apps"))
	assert.Nil(t, svc.Operation("DELETE /apps"))
	assert.NotNil(t, svc.RootSchema())
	assert.EqualValues(t, 1, published.Load())
}

func TestRefresh_ConditionalRequestAfterETag(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{etag: `"v1"`, payload: testRootSchema()}
	svc := newTestService(t, upstream, nil)

	require.NoError(t, svc.Refresh(context.Background(), true))
	require.NoError(t, svc.Refresh(context.Background(), false))

	// Second refresh sent the stored ETag and the 304 left the catalog alone.
	assert.Equal(t, `"v1"`, upstream.lastCond.Load())
	assert.EqualValues(t, 1, upstream.fetches.Load())
	assert.EqualValues(t, 1, upstream.notMods.Load())
	assert.Len(t, svc.Operations(), 2)
}

func TestRefresh_ForceSkipsConditional(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{etag: `"v1"`, payload: testRootSchema()}
	svc := newTestService(t, upstream, nil)

	require.NoError(t, svc.Refresh(context.Background(), true))
	require.NoError(t, svc.Refresh(context.Background(), true))
	assert.EqualValues(t, 2, upstream.fetches.Load())
	assert.Equal(t, "", upstream.lastCond.Load())
}

func TestRefresh_NotModifiedWithEmptyCatalogRefetches(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{etag: `"v1"`, payload: testRootSchema()}
	svc := newTestService(t, upstream, nil)

	// Simulate a stale ETag with no catalog behind it.
	svc.mu.Lock()
	svc.etag = `"v1"`
	svc.mu.Unlock()

	require.NoError(t, svc.Refresh(context.Background(), false))
	assert.Len(t, svc.Operations(), 2)
	assert.EqualValues(t, 1, upstream.notMods.Load())
	assert.EqualValues(t, 1, upstream.fetches.Load())
}

func TestRefresh_UpstreamFailure(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{status: http.StatusBadGateway}
	svc := newTestService(t, upstream, nil)

	err := svc.Refresh(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Empty(t, svc.Operations())
}

func TestEnsureReady_ForcesRefreshWhenEmpty(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{payload: testRootSchema()}
	svc := newTestService(t, upstream, nil)

	require.NoError(t, svc.EnsureReady(context.Background()))
	assert.Len(t, svc.Operations(), 2)

	// Already populated: no further fetch.
	require.NoError(t, svc.EnsureReady(context.Background()))
	assert.EqualValues(t, 1, upstream.fetches.Load())
}

func TestLoad_ColdBootFromCacheFile(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{etag: `"v1"`, payload: testRootSchema()}
	svc := newTestService(t, upstream, nil)
	require.NoError(t, svc.Refresh(context.Background(), true))

	// A fresh service over the same cache path boots without the network.
	reborn := NewService(svc.cfg, nil)
	reborn.Load()
	assert.Len(t, reborn.Operations(), 2)
	assert.Equal(t, `"v1"`, reborn.etag)
}

func TestLoad_DiscardsCorruptAndMisversionedCache(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	svc := NewService(Config{CachePath: path}, nil)

	// Missing file.
	svc.Load()
	assert.Empty(t, svc.Operations())

	// Corrupt payload.
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	svc.Load()
	assert.Empty(t, svc.Operations())

	// Wrong version.
	cf := map[string]any{"version": 2, "root_schema": testRootSchema()}
	data, err := json.Marshal(cf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	svc.Load()
	assert.Empty(t, svc.Operations())
}

func TestRefreshDocs_StripsAndPersists(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{payload: testRootSchema()}
	docs := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"docs-1"`)
		_, _ = w.Write([]byte("<html><head><style>p{}</style><script>x()</script></head>" +
			"<body><h1>Platform   API</h1><p>Reference for  dynos.</p></body></html>"))
	}
	svc := newTestService(t, upstream, docs)

	var gotDocs atomic.Value
	svc.SetOnPublish(func(_ *schema.Catalog, docsContext string) {
		gotDocs.Store(docsContext)
	})

	require.NoError(t, svc.Refresh(context.Background(), true))
	assert.Equal(t, "Platform API Reference for dynos.", svc.DocsContext())
	assert.Equal(t, "Platform API Reference for dynos.", gotDocs.Load())

	cf, err := readCacheFile(svc.cfg.CachePath)
	require.NoError(t, err)
	require.NotNil(t, cf)
	assert.Equal(t, "Platform API Reference for dynos.", cf.DocsContext)
	assert.Equal(t, `"docs-1"`, cf.DocsETag)
}

func TestRefreshDocs_FailureKeepsPrevious(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{payload: testRootSchema()}
	var failDocs atomic.Bool
	docs := func(w http.ResponseWriter, r *http.Request) {
		if failDocs.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("<p>first version</p>"))
	}
	svc := newTestService(t, upstream, docs)

	require.NoError(t, svc.Refresh(context.Background(), true))
	require.Equal(t, "first version", svc.DocsContext())

	failDocs.Store(true)
	require.NoError(t, svc.Refresh(context.Background(), true))
	assert.Equal(t, "first version", svc.DocsContext())
}

func TestRefreshDocs_ClampsOnRuneBoundaries(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{payload: testRootSchema()}
	docs := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("愛", docsContextLimit+500)))
	}
	svc := newTestService(t, upstream, docs)

	require.NoError(t, svc.Refresh(context.Background(), true))

	got := svc.DocsContext()
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, []rune(got), docsContextLimit)
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"tags", "<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"script dropped", "<script>alert(1)</script>visible", "visible"},
		{"style dropped", "<style>.a{}</style>text", "text"},
		{"whitespace collapsed", "  a \n\n b\t c  ", "a b c"},
		{"nested", "<div><p>one</p><p>two</p></div>", "one two"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, StripHTML(tc.in))
		})
	}
}

func TestStartBackground_StopsOnClose(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{payload: testRootSchema()}
	svc := newTestService(t, upstream, nil)
	svc.cfg.RefreshInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartBackground(ctx)

	require.Eventually(t, func() bool {
		return len(svc.Operations()) == 2
	}, time.Second, 5*time.Millisecond)

	svc.Close()
	fetched := upstream.fetches.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, upstream.fetches.Load(), fetched+1)
}

func TestWriteCacheFile_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "catalog.json")
	in := &CacheFile{SchemaETag: `"e"`, RootSchema: testRootSchema(), DocsContext: strings.Repeat("d", 10)}
	require.NoError(t, writeCacheFile(path, in))

	out, err := readCacheFile(path)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, cacheVersion, out.Version)
	assert.Equal(t, `"e"`, out.SchemaETag)
	assert.NotEmpty(t, out.CachedAt)
}

func TestPersist_WritesOperationsAndSchemaETag(t *testing.T) {
	t.Parallel()

	upstream := &schemaUpstream{etag: `"v1"`, payload: testRootSchema()}
	svc := newTestService(t, upstream, nil)
	require.NoError(t, svc.Refresh(context.Background(), true))

	data, err := os.ReadFile(svc.cfg.CachePath)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "cached_at")
	assert.Equal(t, `"v1"`, raw["schema_etag"])
	assert.Len(t, raw["operations"], 2)

	// Cold boot restores the catalog straight from the persisted list.
	cf, err := readCacheFile(svc.cfg.CachePath)
	require.NoError(t, err)
	require.Len(t, cf.Operations, 2)
	assert.Equal(t, svc.Operations()[0].OperationID, cf.Operations[0].OperationID)
}
