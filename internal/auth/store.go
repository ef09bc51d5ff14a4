// Package auth implements the OAuth 2.1 authorization gateway and the
// API-key path. It acts as both the authorization server and the
// resource server for the MCP endpoint. Codes and tokens live in
// injected stores so the in-memory and persistent backings are
// interchangeable; clients and API keys come from configuration and
// are immutable after startup.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/chatterhq/slack-chatter/internal/models"
	"github.com/chatterhq/slack-chatter/internal/store"
)

const (
	// APIKeyPrefix distinguishes static API keys from OAuth bearer
	// tokens in the Authorization header.
	APIKeyPrefix = "sc_"

	// APIKeyMinLen is the minimum accepted API key length, prefix
	// included. Shorter keys carry too little entropy.
	APIKeyMinLen = 19

	codeExpiry         = 10 * time.Minute
	accessTokenExpiry  = 24 * time.Hour
	refreshTokenExpiry = 30 * 24 * time.Hour

	// cleanupInterval controls how often expired entries are reaped.
	// The sweep only bounds memory; expiry is checked at use time.
	cleanupInterval = 5 * time.Minute

	// authCodeBytes and tokenBytes size the random credentials
	// (hex-encoded to twice these lengths).
	authCodeBytes = 32
	tokenBytes    = 32
)

// Store holds all OAuth state. Codes and tokens are keyed arenas;
// clients and API keys are fixed at construction.
type Store struct {
	codes   store.Store[models.AuthCode]
	tokens  store.Store[models.Token]
	clients map[string]models.OAuthClient
	keys    map[string]models.APIKey
	logger  *slog.Logger
	stopGC  chan struct{}
}

// NewStore creates the OAuth store over the given arenas and starts a
// background sweep of expired codes and tokens. Call Stop to terminate
// the sweeper.
func NewStore(codes store.Store[models.AuthCode], tokens store.Store[models.Token], clients []models.OAuthClient, keys []models.APIKey, logger *slog.Logger) *Store {
	s := &Store{
		codes:   codes,
		tokens:  tokens,
		clients: make(map[string]models.OAuthClient, len(clients)),
		keys:    make(map[string]models.APIKey, len(keys)),
		logger:  logger,
		stopGC:  make(chan struct{}),
	}

	for _, c := range clients {
		s.clients[c.ClientID] = c
	}

	for _, k := range keys {
		s.keys[k.Key] = k
	}

	go s.gcLoop()

	return s
}

// Stop terminates the background sweep goroutine.
func (s *Store) Stop() {
	close(s.stopGC)
}

func (s *Store) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			if n := s.codes.Sweep(now) + s.tokens.Sweep(now); n > 0 {
				s.logger.Debug("swept expired oauth state", slog.Int("count", n))
			}
		case <-s.stopGC:
			return
		}
	}
}

// Client returns the configured client for a client_id.
func (s *Store) Client(clientID string) (models.OAuthClient, bool) {
	c, ok := s.clients[clientID]
	return c, ok
}

// SaveCode stores a pending authorization code.
func (s *Store) SaveCode(ac models.AuthCode) error {
	return s.codes.Put(ac.Code, ac)
}

// PeekCode returns a pending, unexpired code without consuming it.
// Token-exchange validation runs against the peeked value so a failed
// exchange (wrong verifier, wrong client) does not burn the code.
func (s *Store) PeekCode(code string) (models.AuthCode, bool) {
	ac, ok := s.codes.Get(code)
	if !ok || time.Now().After(ac.ExpiresAt) {
		return models.AuthCode{}, false
	}

	return ac, true
}

// ConsumeCode atomically removes a code. It is the single arbiter of
// the used-exactly-once invariant: under concurrent exchanges only one
// caller gets true.
func (s *Store) ConsumeCode(code string) (models.AuthCode, bool) {
	ac, ok := s.codes.Take(code)
	if !ok || time.Now().After(ac.ExpiresAt) {
		return models.AuthCode{}, false
	}

	return ac, true
}

// SaveToken stores an issued token.
func (s *Store) SaveToken(t models.Token) error {
	return s.tokens.Put(t.Value, t)
}

// Token returns an unexpired token of any kind.
func (s *Store) Token(value string) (models.Token, bool) {
	t, ok := s.tokens.Get(value)
	if !ok || time.Now().After(t.ExpiresAt) {
		return models.Token{}, false
	}

	return t, true
}

// ValidateToken returns an unexpired token of the given kind. A
// refresh token presented where an access token is expected (or vice
// versa) does not validate.
func (s *Store) ValidateToken(value string, kind models.TokenKind) (models.Token, bool) {
	t, ok := s.Token(value)
	if !ok || t.Kind != kind {
		return models.Token{}, false
	}

	return t, true
}

// ConsumeToken atomically removes an unexpired token of the given kind
// and cascades to its paired companion. Take is the single arbiter of
// refresh rotation: under concurrent exchanges of one refresh token
// only one caller gets true. A token of the wrong kind is rejected
// without being removed.
func (s *Store) ConsumeToken(value string, kind models.TokenKind) (models.Token, bool) {
	if _, ok := s.ValidateToken(value, kind); !ok {
		return models.Token{}, false
	}

	t, ok := s.tokens.Take(value)
	if !ok || time.Now().After(t.ExpiresAt) {
		return models.Token{}, false
	}

	if t.Paired != "" {
		s.tokens.Delete(t.Paired)
	}

	return t, true
}

// RevokeToken removes a token and cascades to its paired companion, so
// revoking an access token also kills the refresh token and vice
// versa. Unknown tokens are a no-op.
func (s *Store) RevokeToken(value string) {
	t, ok := s.tokens.Take(value)
	if !ok {
		return
	}

	if t.Paired != "" {
		s.tokens.Delete(t.Paired)
	}
}

// ValidateAPIKey returns the API key record for an unexpired key. A
// zero expiry means the key never expires.
func (s *Store) ValidateAPIKey(key string) (models.APIKey, bool) {
	k, ok := s.keys[key]
	if !ok {
		return models.APIKey{}, false
	}

	if !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt) {
		return models.APIKey{}, false
	}

	return k, true
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
