// Package config reads all process configuration from environment
// variables (optionally via a .env file) plus a YAML credentials file
// declaring OAuth clients and API keys.
package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chatterhq/slack-chatter/internal/auth"
	"github.com/chatterhq/slack-chatter/internal/models"
	"github.com/chatterhq/slack-chatter/internal/tools"
)

// Transport selection values.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
	TransportBoth  = "both"
)

// clientSecretMinLen is the minimum length for plaintext client
// secrets. Shorter secrets do not provide enough entropy. bcrypt
// hashes are exempt.
const clientSecretMinLen = 16

// Config holds all environment-based configuration for slack-chatter.
type Config struct {
	// Transport selects which front ends run: http, stdio, or both.
	Transport string `env:"TRANSPORT" envDefault:"http"`

	// HTTP server settings (required when the http transport runs).
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	ServerURL  string `env:"SERVER_URL"`

	// CredentialsFile points at the YAML file declaring OAuth clients
	// and API keys. Required for the http transport.
	CredentialsFile string `env:"CREDENTIALS_FILE"`

	// APIKeys optionally declares extra API keys inline:
	// "label1:sc_hex1,label2:sc_hex2".
	APIKeys string `env:"API_KEYS"`

	// StorePath enables the persistent bbolt backing for OAuth state.
	// Empty means everything lives in memory.
	StorePath string `env:"STORE_PATH"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Backend search service settings.
	BackendURL    string `env:"BACKEND_URL"`
	BackendAPIKey string `env:"BACKEND_API_KEY"`

	// Rate limiting toward the backend: quota per sliding window.
	BackendRateQuota  int           `env:"BACKEND_RATE_QUOTA" envDefault:"60"`
	BackendRateWindow time.Duration `env:"BACKEND_RATE_WINDOW" envDefault:"60s"`

	// Environment controls log format; LogLevel the verbosity.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Credentials is the YAML credentials file shape.
type Credentials struct {
	Clients []models.OAuthClient `yaml:"clients"`
	APIKeys []models.APIKey      `yaml:"api_keys"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportHTTP, TransportStdio, TransportBoth:
	default:
		return fmt.Errorf("TRANSPORT must be one of http, stdio, both (got %q)", c.Transport)
	}

	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}

	if c.HTTPEnabled() {
		if c.ServerURL == "" {
			return fmt.Errorf("SERVER_URL is required for the http transport")
		}

		if c.CredentialsFile == "" && c.APIKeys == "" {
			return fmt.Errorf("at least one credential source required for the http transport: CREDENTIALS_FILE or API_KEYS")
		}
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if c.BackendRateQuota <= 0 || c.BackendRateWindow <= 0 {
		return fmt.Errorf("BACKEND_RATE_QUOTA and BACKEND_RATE_WINDOW must be positive")
	}

	return nil
}

// HTTPEnabled reports whether the HTTP transport should run.
func (c *Config) HTTPEnabled() bool {
	return c.Transport == TransportHTTP || c.Transport == TransportBoth
}

// StdioEnabled reports whether the stdio transport should run.
func (c *Config) StdioEnabled() bool {
	return c.Transport == TransportStdio || c.Transport == TransportBoth
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// LoadCredentials reads the YAML credentials file and merges any
// inline API_KEYS entries. Every entry is validated; a bad credential
// aborts startup rather than silently shrinking the allow-list.
func (c *Config) LoadCredentials() (*Credentials, error) {
	creds := &Credentials{}

	if c.CredentialsFile != "" {
		data, err := os.ReadFile(c.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}

		if err := yaml.Unmarshal(data, creds); err != nil {
			return nil, fmt.Errorf("parsing credentials file: %w", err)
		}
	}

	inline, err := c.parseInlineAPIKeys()
	if err != nil {
		return nil, err
	}

	creds.APIKeys = append(creds.APIKeys, inline...)

	if err := creds.validate(); err != nil {
		return nil, err
	}

	return creds, nil
}

func (creds *Credentials) validate() error {
	seenClients := make(map[string]struct{})

	for i, cl := range creds.Clients {
		if cl.ClientID == "" {
			return fmt.Errorf("client entry %d: client_id is required", i+1)
		}

		if _, dup := seenClients[cl.ClientID]; dup {
			return fmt.Errorf("duplicate client_id %q", cl.ClientID)
		}

		seenClients[cl.ClientID] = struct{}{}

		if cl.ClientSecret == "" {
			return fmt.Errorf("client %q: client_secret is required", cl.ClientID)
		}

		// bcrypt hashes are exempt from the length floor.
		if !strings.HasPrefix(cl.ClientSecret, "$2") && len(cl.ClientSecret) < clientSecretMinLen {
			return fmt.Errorf("client %q: client_secret must be at least %d characters", cl.ClientID, clientSecretMinLen)
		}

		if len(cl.RedirectURIs) == 0 {
			return fmt.Errorf("client %q: at least one redirect_uri is required", cl.ClientID)
		}
	}

	seenKeys := make(map[string]struct{})

	for i, k := range creds.APIKeys {
		if err := validateAPIKey(k, i); err != nil {
			return err
		}

		if _, dup := seenKeys[k.Key]; dup {
			return fmt.Errorf("duplicate API key for label %q", k.Label)
		}

		seenKeys[k.Key] = struct{}{}
	}

	return nil
}

func validateAPIKey(k models.APIKey, i int) error {
	if k.Label == "" {
		return fmt.Errorf("api key entry %d: label is required", i+1)
	}

	if !strings.HasPrefix(k.Key, auth.APIKeyPrefix) {
		return fmt.Errorf("api key %q: key must start with %q", k.Label, auth.APIKeyPrefix)
	}

	if len(k.Key) < auth.APIKeyMinLen {
		return fmt.Errorf("api key %q: key too short (minimum %d characters)", k.Label, auth.APIKeyMinLen)
	}

	if _, err := hex.DecodeString(k.Key[len(auth.APIKeyPrefix):]); err != nil {
		return fmt.Errorf("api key %q: non-hex characters after %q prefix", k.Label, auth.APIKeyPrefix)
	}

	return nil
}

// parseInlineAPIKeys parses the API_KEYS string.
// Format: "label1:sc_key1,label2:sc_key2"
func (c *Config) parseInlineAPIKeys() ([]models.APIKey, error) {
	if c.APIKeys == "" {
		return nil, nil
	}

	var entries []models.APIKey

	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		label := pair[:idx]

		key := pair[idx+1:]
		if label == "" || key == "" {
			return nil, fmt.Errorf("empty label or key in entry %d", len(entries)+1)
		}

		// Inline keys carry no scope column; they get every scope.
		// Narrower grants belong in the credentials file.
		entries = append(entries, models.APIKey{Label: label, Key: key, Scopes: tools.AllScopes})
	}

	return entries, nil
}
