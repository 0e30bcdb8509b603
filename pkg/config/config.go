// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package config loads the server configuration from environment variables
// (prefix HEROKU_MCP_), an optional .env file, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mcpany/heroku-mcp/pkg/crypto"
)

// envPrefix namespaces all recognized environment variables.
const envPrefix = "HEROKU_MCP"

// Config is the fully resolved server configuration.
type Config struct {
	SchemaURL    string `mapstructure:"schema_url"`
	APIBaseURL   string `mapstructure:"api_base_url"`
	DocsURL      string `mapstructure:"docs_url"`
	AcceptHeader string `mapstructure:"accept_header"`

	SchemaRefreshInterval time.Duration `mapstructure:"schema_refresh_interval"`
	CatalogCachePath      string        `mapstructure:"catalog_cache_path"`

	AllowWrites    bool          `mapstructure:"allow_writes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	ReadCacheTTL   time.Duration `mapstructure:"read_cache_ttl"`

	ExecuteMaxBodyBytes     int `mapstructure:"execute_max_body_bytes"`
	ExecuteBodyPreviewChars int `mapstructure:"execute_body_preview_chars"`

	UserIDHeader            string `mapstructure:"user_id_header"`
	WriteConfirmationSecret string `mapstructure:"write_confirmation_secret"`

	TokenStorePath     string `mapstructure:"token_store_path"`
	TokenEncryptionKey string `mapstructure:"token_encryption_key"`

	OAuthClientID     string `mapstructure:"oauth_client_id"`
	OAuthClientSecret string `mapstructure:"oauth_client_secret"`
	OAuthScope        string `mapstructure:"oauth_scope"`
	OAuthAuthorizeURL string `mapstructure:"oauth_authorize_url"`
	OAuthTokenURL     string `mapstructure:"oauth_token_url"`
	OAuthRedirectURI  string `mapstructure:"oauth_redirect_uri"`

	ListenAddress string `mapstructure:"listen_address"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
}

// Load resolves the configuration. A .env file in the working directory is
// applied first, without overriding variables already present in the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	// AutomaticEnv alone does not surface env-only keys through Unmarshal;
	// each key needs an explicit binding.
	for _, key := range recognizedKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var recognizedKeys = []string{
	"schema_url", "api_base_url", "docs_url", "accept_header",
	"schema_refresh_interval", "catalog_cache_path",
	"allow_writes", "request_timeout", "max_retries", "read_cache_ttl",
	"execute_max_body_bytes", "execute_body_preview_chars",
	"user_id_header", "write_confirmation_secret",
	"token_store_path", "token_encryption_key",
	"oauth_client_id", "oauth_client_secret", "oauth_scope",
	"oauth_authorize_url", "oauth_token_url", "oauth_redirect_uri",
	"listen_address", "log_level", "log_format",
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	stateDir := filepath.Join(home, ".heroku-mcp")

	v.SetDefault("schema_url", "https://api.heroku.com/schema")
	v.SetDefault("api_base_url", "https://api.heroku.com")
	v.SetDefault("docs_url", "https://devcenter.heroku.com/articles/platform-api-reference")
	v.SetDefault("accept_header", "application/vnd.heroku+json; version=3")
	v.SetDefault("schema_refresh_interval", 24*time.Hour)
	v.SetDefault("catalog_cache_path", filepath.Join(stateDir, "catalog.json"))
	v.SetDefault("allow_writes", false)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("max_retries", 2)
	v.SetDefault("read_cache_ttl", time.Duration(0))
	v.SetDefault("execute_max_body_bytes", 51200)
	v.SetDefault("execute_body_preview_chars", 2048)
	v.SetDefault("user_id_header", "x-user-id")
	v.SetDefault("token_store_path", filepath.Join(stateDir, "tokens.json"))
	v.SetDefault("oauth_scope", "global")
	v.SetDefault("oauth_authorize_url", "https://id.heroku.com/oauth/authorize")
	v.SetDefault("oauth_token_url", "https://id.heroku.com/oauth/token")
	v.SetDefault("listen_address", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Validate rejects configurations no command can run with. The encryption
// key is checked by EncryptionKey instead, so commands that never touch the
// token store (the cache seeder) do not need one.
func (c *Config) Validate() error {
	if c.AllowWrites && c.WriteConfirmationSecret == "" {
		return fmt.Errorf("write_confirmation_secret is required when writes are enabled")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// EncryptionKey decodes and validates the token encryption key.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.TokenEncryptionKey == "" {
		return nil, fmt.Errorf("token_encryption_key is required")
	}
	key, err := crypto.ParseKey(c.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid token_encryption_key: %w", err)
	}
	return key, nil
}
