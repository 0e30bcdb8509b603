// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCache_OverflowEvictsEarliestExpiry(t *testing.T) {
	t.Parallel()

	rc := newReadCache(time.Minute)
	for i := 0; i < readCacheCapacity; i++ {
		rc.put(fmt.Sprintf("u:GET /apps:url-%d", i), &Response{Status: 200})
	}
	require.Equal(t, readCacheCapacity, rc.items.Len())

	// A read must not shield the oldest entry from eviction.
	require.NotNil(t, rc.get("u:GET /apps:url-0"))

	rc.put("u:GET /apps:url-overflow", &Response{Status: 200})

	assert.Nil(t, rc.get("u:GET /apps:url-0"), "earliest-expiring entry should have been evicted")
	assert.NotNil(t, rc.get("u:GET /apps:url-1"), "later-expiring entry should have survived")
	assert.NotNil(t, rc.get("u:GET /apps:url-overflow"))
	assert.Equal(t, readCacheCapacity, rc.items.Len())
}

func TestReadCache_OverflowReplacingExistingKeyEvictsNothing(t *testing.T) {
	t.Parallel()

	rc := newReadCache(time.Minute)
	for i := 0; i < readCacheCapacity; i++ {
		rc.put(fmt.Sprintf("u:GET /apps:url-%d", i), &Response{Status: 200})
	}

	rc.put("u:GET /apps:url-0", &Response{Status: 201})

	require.Equal(t, readCacheCapacity, rc.items.Len())
	assert.Equal(t, 201, rc.get("u:GET /apps:url-0").Status)
}

func TestReadCache_ExpiredEntryRemovedOnAccess(t *testing.T) {
	t.Parallel()

	rc := newReadCache(time.Millisecond)
	rc.put("u:GET /apps:url", &Response{Status: 200})
	time.Sleep(10 * time.Millisecond)

	assert.Nil(t, rc.get("u:GET /apps:url"))
	assert.Equal(t, 0, rc.items.Len())
}
