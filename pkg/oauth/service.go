// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package oauth brokers OAuth 2.0 authorization-code and refresh-token flows
// on behalf of each caller, persisting token records through the encrypted
// token store.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcpany/heroku-mcp/pkg/logging"
	"github.com/mcpany/heroku-mcp/pkg/tokenstore"
)

// Pending authorization states expire after this long.
const stateTTL = 10 * time.Minute

// expirySkew is subtracted from the stored expiry when deciding whether an
// access token is still vendable.
const expirySkew = 60 * time.Second

var (
	// ErrInvalidState is returned for a callback whose state is unknown.
	ErrInvalidState = errors.New("invalid state")
	// ErrExpiredState is returned for a callback whose state outlived its TTL.
	ErrExpiredState = errors.New("expired state")
	// ErrNoToken is returned when no vendable access token exists for a user.
	ErrNoToken = errors.New("no token available")
)

// Config carries the OAuth client parameters.
type Config struct {
	ClientID     string
	ClientSecret string
	Scope        string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
}

type pendingState struct {
	userID    string
	createdAt time.Time
}

// Service owns the state-CSRF ledger and the per-user token lifecycle.
type Service struct {
	conf       *oauth2.Config
	store      *tokenstore.Store
	httpClient *http.Client

	mu      sync.Mutex
	pending map[string]pendingState

	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewService creates the OAuth service over the given token store.
func NewService(cfg Config, store *tokenstore.Store, httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       splitScope(cfg.Scope),
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizeURL,
				TokenURL: cfg.TokenURL,
			},
		},
		store:      store,
		httpClient: httpClient,
		pending:    make(map[string]pendingState),
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

// AuthorizationURL mints a random 128-bit state bound to userID and returns
// the provider URL the user must visit.
func (s *Service) AuthorizationURL(userID string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := hex.EncodeToString(buf)

	s.mu.Lock()
	s.pending[state] = pendingState{userID: userID, createdAt: s.now()}
	s.mu.Unlock()

	return s.conf.AuthCodeURL(state), nil
}

// HandleCallback validates the state, exchanges the authorization code and
// persists the resulting token record. The state entry is removed whether or
// not the exchange succeeds.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (string, error) {
	s.mu.Lock()
	entry, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()

	if !ok {
		return "", ErrInvalidState
	}
	if s.now().Sub(entry.createdAt) > stateTTL {
		return "", ErrExpiredState
	}

	tok, err := s.conf.Exchange(s.clientContext(ctx), code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if err := s.persistToken(entry.userID, tok, ""); err != nil {
		return "", err
	}
	return entry.userID, nil
}

// AccessToken vends a usable access token for userID, refreshing through the
// provider when the stored token is within 60 seconds of expiry. A refresh
// response without a new refresh token preserves the old one.
func (s *Service) AccessToken(ctx context.Context, userID string) (string, error) {
	rec, err := s.store.Get(userID)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.AccessToken == "" {
		return "", ErrNoToken
	}

	if rec.ExpiresAt == "" {
		return rec.AccessToken, nil
	}
	expiresAt, err := time.Parse(time.RFC3339, rec.ExpiresAt)
	if err != nil {
		// Unparseable expiry: treat the token as non-expiring.
		return rec.AccessToken, nil
	}
	if s.now().Before(expiresAt.Add(-expirySkew)) {
		return rec.AccessToken, nil
	}

	if rec.RefreshToken == "" {
		return "", ErrNoToken
	}

	src := s.conf.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	if err := s.persistToken(userID, tok, rec.RefreshToken); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Status reports whether userID currently holds a token, with its scopes and
// expiry. A stored record counts as authenticated even when close to expiry;
// vending decides refresh.
func (s *Service) Status(userID string) (bool, []string, string) {
	rec, err := s.store.Get(userID)
	if err != nil || rec == nil || rec.AccessToken == "" {
		return false, nil, ""
	}
	return true, rec.Scope, rec.ExpiresAt
}

// Logout removes the stored token record for userID.
func (s *Service) Logout(userID string) error {
	return s.store.Delete(userID)
}

// StartSweeper begins periodic removal of expired pending states.
func (s *Service) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.sweepPending()
			}
		}
	}()
}

// Close stops the background sweeper.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Service) sweepPending() {
	cutoff := s.now().Add(-stateTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for state, entry := range s.pending {
		if entry.createdAt.Before(cutoff) {
			delete(s.pending, state)
		}
	}
}

func (s *Service) persistToken(userID string, tok *oauth2.Token, previousRefresh string) error {
	rec := &tokenstore.TokenRecord{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ObtainedAt:   s.now().UTC().Format(time.RFC3339),
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = previousRefresh
	}
	if !tok.Expiry.IsZero() {
		rec.ExpiresAt = tok.Expiry.UTC().Format(time.RFC3339)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rec.Scope = splitScope(scope)
	}

	if err := s.store.Put(userID, rec); err != nil {
		return fmt.Errorf("failed to persist token record: %w", err)
	}
	logging.GetLogger().Info("Stored OAuth token", "user_id", userID, "expires_at", rec.ExpiresAt)
	return nil
}

// clientContext makes the oauth2 library use the service's HTTP client for
// token-endpoint requests.
func (s *Service) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// splitScope accepts space- or comma-separated scope strings.
func splitScope(scope string) []string {
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
