// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/mcpany/heroku-mcp/pkg/util"
)

// readCacheCapacity bounds the cache. Overflow evicts the entry with the
// earliest expiry, not the least recently used one.
const readCacheCapacity = 1000

// readCache holds successful GET/HEAD responses per user+operation+url key.
type readCache struct {
	ttl   time.Duration
	items *ttlcache.Cache[string, *Response]
}

func newReadCache(ttl time.Duration) *readCache {
	if ttl <= 0 {
		return &readCache{}
	}
	return &readCache{
		ttl: ttl,
		items: ttlcache.New[string, *Response](
			ttlcache.WithTTL[string, *Response](ttl),
			ttlcache.WithDisableTouchOnHit[string, *Response](),
		),
	}
}

// key returns the cache key, or "" when caching does not apply.
func (rc *readCache) key(userID, operationID, fullURL string, mutating bool) string {
	if rc.items == nil || mutating {
		return ""
	}
	return userID + ":" + operationID + ":" + fullURL
}

func (rc *readCache) get(key string) *Response {
	if rc.items == nil || key == "" {
		return nil
	}
	item := rc.items.Get(key)
	if item == nil {
		// Get hides expired entries but leaves them in place; settle the
		// expiry on access.
		rc.items.Delete(key)
		return nil
	}
	return copyResponse(item.Value())
}

func (rc *readCache) put(key string, resp *Response) {
	if rc.items == nil || key == "" {
		return
	}
	rc.items.DeleteExpired()
	for rc.items.Len() >= readCacheCapacity && !rc.items.Has(key) {
		rc.evictClosestToExpiry()
	}
	rc.items.Set(key, copyResponse(resp), ttlcache.DefaultTTL)
}

// evictClosestToExpiry removes the live entry with the earliest expires_at.
func (rc *readCache) evictClosestToExpiry() {
	var victim string
	var earliest time.Time
	rc.items.Range(func(item *ttlcache.Item[string, *Response]) bool {
		if victim == "" || item.ExpiresAt().Before(earliest) {
			victim = item.Key()
			earliest = item.ExpiresAt()
		}
		return true
	})
	if victim != "" {
		rc.items.Delete(victim)
	}
}

// copyResponse deep-copies a response so cached snapshots are never aliased
// by callers.
func copyResponse(resp *Response) *Response {
	headers := make(map[string]string, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = v
	}
	out := &Response{
		Request:   resp.Request,
		Status:    resp.Status,
		Headers:   headers,
		Body:      util.DeepCopyJSON(resp.Body),
		RequestID: resp.RequestID,
	}
	out.Warnings = append(out.Warnings, resp.Warnings...)
	return out
}
