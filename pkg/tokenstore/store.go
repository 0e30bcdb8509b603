// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package tokenstore persists per-user OAuth token records, encrypted at rest
// with AES-256-GCM. The store is single-owner within a process: all access is
// serialized behind one mutex and the whole file is rewritten on every change.
package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mcpany/heroku-mcp/pkg/crypto"
)

// TokenRecord is one caller's OAuth state as stored on disk (decrypted form).
type TokenRecord struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Scope        []string `json:"scope,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
	ObtainedAt   string   `json:"obtained_at,omitempty"`
}

// Store maps caller ids to encrypted token envelopes backed by a JSON file.
// The file is read lazily on first access; a missing file is an empty store.
type Store struct {
	path string
	key  []byte

	mu        sync.Mutex
	loaded    bool
	envelopes map[string]*crypto.Envelope
}

// New creates a store over the given file path. key must be 32 bytes.
func New(path string, key []byte) *Store {
	return &Store{path: path, key: key}
}

// Get returns the token record for userID, or nil if none is stored. A record
// that fails decryption returns an error: that user's stored state has been
// tampered with and must not be silently discarded.
func (s *Store) Get(userID string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	env, ok := s.envelopes[userID]
	if !ok {
		return nil, nil
	}

	plaintext, err := crypto.Open(s.key, env)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token record for %q: %w", userID, err)
	}

	var rec TokenRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse token record for %q: %w", userID, err)
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}
	return &rec, nil
}

// Put encrypts and stores the record for userID, then persists the whole file.
func (s *Store) Put(userID string, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize token record: %w", err)
	}
	env, err := crypto.Seal(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt token record: %w", err)
	}

	s.envelopes[userID] = env
	return s.persistLocked()
}

// Delete removes the record for userID. Deleting an absent user is a no-op.
func (s *Store) Delete(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	if _, ok := s.envelopes[userID]; !ok {
		return nil
	}
	delete(s.envelopes, userID)
	return s.persistLocked()
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.envelopes = make(map[string]*crypto.Envelope)
			s.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read token store: %w", err)
	}

	envelopes := make(map[string]*crypto.Envelope)
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return fmt.Errorf("failed to parse token store: %w", err)
	}
	s.envelopes = envelopes
	s.loaded = true
	return nil
}

func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token store directory: %w", err)
	}
	data, err := json.Marshal(s.envelopes)
	if err != nil {
		return fmt.Errorf("failed to serialize token store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token store: %w", err)
	}
	return nil
}
