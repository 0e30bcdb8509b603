// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package tokenstore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	return New(path, bytes.Repeat([]byte{0x07}, 32)), path
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	rec, err := store.Get("alice")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	in := &TokenRecord{
		AccessToken:  "tok-123",
		RefreshToken: "ref-456",
		Scope:        []string{"global"},
		ExpiresAt:    "2026-01-02T15:04:05Z",
		ObtainedAt:   "2026-01-02T14:04:05Z",
	}
	require.NoError(t, store.Put("alice", in))

	out, err := store.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "tok-123", out.AccessToken)
	assert.Equal(t, "Bearer", out.TokenType)
	assert.Equal(t, []string{"global"}, out.Scope)

	// The file on disk never contains the plaintext token.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "tok-123")
	assert.NotContains(t, string(data), "ref-456")

	var envelopes map[string]map[string]string
	require.NoError(t, json.Unmarshal(data, &envelopes))
	require.Contains(t, envelopes, "alice")
	assert.NotEmpty(t, envelopes["alice"]["iv"])
	assert.NotEmpty(t, envelopes["alice"]["auth_tag"])
	assert.NotEmpty(t, envelopes["alice"]["ciphertext"])
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	require.NoError(t, store.Put("bob", &TokenRecord{AccessToken: "abc"}))

	reopened := New(path, bytes.Repeat([]byte{0x07}, 32))
	rec, err := reopened.Get("bob")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "abc", rec.AccessToken)
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	require.NoError(t, store.Put("alice", &TokenRecord{AccessToken: "x"}))
	require.NoError(t, store.Delete("alice"))

	rec, err := store.Get("alice")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Deleting an absent user is a no-op.
	require.NoError(t, store.Delete("nobody"))
}

func TestStore_WrongKeyFailsClosed(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	require.NoError(t, store.Put("alice", &TokenRecord{AccessToken: "x"}))

	other := New(path, bytes.Repeat([]byte{0x08}, 32))
	_, err := other.Get("alice")
	assert.Error(t, err)
}

func TestStore_CorruptFileErrors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	store := New(path, bytes.Repeat([]byte{0x07}, 32))
	_, err := store.Get("alice")
	assert.Error(t, err)
}
