// Package models defines types shared across internal packages.
package models

import "time"

// OAuthClient represents a registered OAuth client. Clients are
// declared in configuration and immutable once loaded.
type OAuthClient struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientName   string   `json:"client_name,omitempty" yaml:"client_name"`
	ClientSecret string   `json:"-" yaml:"client_secret"`
	RedirectURIs []string `json:"redirect_uris" yaml:"redirect_uris"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes"`
}

// AllowsScope reports whether the client may request the given scope.
// A client with no declared scopes may request any.
func (c *OAuthClient) AllowsScope(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}

	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}

	return false
}

// AuthCode represents a pending authorization code. Consumable exactly
// once; the code_verifier presented at token exchange must hash
// (SHA-256, base64url, no padding) to CodeChallenge.
type AuthCode struct {
	Code          string    `json:"code"`
	ClientID      string    `json:"client_id"`
	RedirectURI   string    `json:"redirect_uri"`
	CodeChallenge string    `json:"code_challenge"`
	Scopes        []string  `json:"scopes,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Token represents an issued opaque bearer token. Paired holds the
// value of the companion token (the refresh token for an access token
// and vice versa) so revocation can cascade.
type Token struct {
	Value     string    `json:"value"`
	Kind      TokenKind `json:"kind"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes,omitempty"`
	Paired    string    `json:"paired,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIKey represents a static allow-listed API key. Created at startup
// from configuration; never rotated by the running process.
type APIKey struct {
	Key       string    `json:"-" yaml:"key"`
	Label     string    `json:"label" yaml:"label"`
	Scopes    []string  `json:"scopes" yaml:"scopes"`
	ExpiresAt time.Time `json:"expires_at,omitzero" yaml:"expires_at"`
}

// SearchQuery holds the parameters for a backend search call.
type SearchQuery struct {
	Query         string `json:"query"`
	TopK          int    `json:"top_k"`
	ChannelFilter string `json:"channel_filter,omitempty"`
	UserFilter    string `json:"user_filter,omitempty"`
	DateFrom      string `json:"date_from,omitempty"`
	DateTo        string `json:"date_to,omitempty"`
}

// SearchResult is a single message returned by the backend.
type SearchResult struct {
	MessageID       string  `json:"message_id"`
	Text            string  `json:"text"`
	UserName        string  `json:"user_name"`
	ChannelName     string  `json:"channel_name"`
	Timestamp       string  `json:"timestamp"`
	SimilarityScore float64 `json:"similarity_score"`
}

// SearchStats describes the state of the backend index.
type SearchStats struct {
	TotalMessages   int    `json:"total_messages"`
	ChannelsIndexed int    `json:"channels_indexed"`
	LastRefresh     string `json:"last_refresh"`
	Status          string `json:"status"`
}

// Health is the backend liveness report.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
