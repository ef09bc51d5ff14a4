package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatterhq/slack-chatter/internal/tools"
)

// setBaseEnv sets the minimum viable http-transport environment.
func setBaseEnv(t *testing.T) {
	t.Helper()

	t.Setenv("TRANSPORT", "http")
	t.Setenv("SERVER_URL", "https://gateway.example")
	t.Setenv("BACKEND_URL", "http://localhost:9000")
	t.Setenv("API_KEYS", "ci:sc_00112233445566778899aabbccddeeff")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 60, cfg.BackendRateQuota)
	assert.Equal(t, time.Minute, cfg.BackendRateWindow)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.HTTPEnabled())
	assert.False(t, cfg.StdioEnabled())
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*testing.T)
		wantMsg string
	}{
		{"bad transport", func(t *testing.T) { t.Setenv("TRANSPORT", "grpc") }, "TRANSPORT"},
		{"missing backend url", func(t *testing.T) { t.Setenv("BACKEND_URL", "") }, "BACKEND_URL"},
		{"missing server url", func(t *testing.T) { t.Setenv("SERVER_URL", "") }, "SERVER_URL"},
		{"no credential source", func(t *testing.T) { t.Setenv("API_KEYS", "") }, "credential source"},
		{"bad session ttl", func(t *testing.T) { t.Setenv("SESSION_TTL", "-1h") }, "SESSION_TTL"},
		{"zero quota", func(t *testing.T) { t.Setenv("BACKEND_RATE_QUOTA", "0") }, "BACKEND_RATE_QUOTA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			tt.mutate(t)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_StdioNeedsNoServerURL(t *testing.T) {
	t.Setenv("TRANSPORT", "stdio")
	t.Setenv("BACKEND_URL", "http://localhost:9000")
	t.Setenv("SERVER_URL", "")
	t.Setenv("API_KEYS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.StdioEnabled())
	assert.False(t, cfg.HTTPEnabled())
}

func writeCredentialsFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadCredentials_FromYAML(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("API_KEYS", "")

	path := writeCredentialsFile(t, `
clients:
  - client_id: reporting-bot
    client_secret: a-long-enough-secret
    redirect_uris:
      - https://bot.example/callback
    scopes:
      - search:read
api_keys:
  - label: ci
    key: sc_00112233445566778899aabbccddeeff
    scopes:
      - search:read
      - stats:read
`)
	t.Setenv("CREDENTIALS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	creds, err := cfg.LoadCredentials()
	require.NoError(t, err)
	require.Len(t, creds.Clients, 1)
	assert.Equal(t, "reporting-bot", creds.Clients[0].ClientID)
	assert.Equal(t, []string{"search:read"}, creds.Clients[0].Scopes)
	require.Len(t, creds.APIKeys, 1)
	assert.Equal(t, []string{"search:read", "stats:read"}, creds.APIKeys[0].Scopes)
}

func TestLoadCredentials_InlineKeysGetAllScopes(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	creds, err := cfg.LoadCredentials()
	require.NoError(t, err)
	require.Len(t, creds.APIKeys, 1)
	assert.Equal(t, "ci", creds.APIKeys[0].Label)
	assert.Equal(t, tools.AllScopes, creds.APIKeys[0].Scopes)
}

func TestLoadCredentials_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			"missing client secret",
			"clients:\n  - client_id: c1\n    redirect_uris: [https://a/cb]\n",
			"client_secret",
		},
		{
			"short client secret",
			"clients:\n  - client_id: c1\n    client_secret: short\n    redirect_uris: [https://a/cb]\n",
			"at least",
		},
		{
			"no redirect uris",
			"clients:\n  - client_id: c1\n    client_secret: a-long-enough-secret\n",
			"redirect_uri",
		},
		{
			"duplicate client",
			"clients:\n  - client_id: c1\n    client_secret: a-long-enough-secret\n    redirect_uris: [https://a/cb]\n  - client_id: c1\n    client_secret: another-long-secret!\n    redirect_uris: [https://b/cb]\n",
			"duplicate client_id",
		},
		{
			"bad key prefix",
			"api_keys:\n  - label: k\n    key: vs_00112233445566778899aabbccddeeff\n",
			"must start with",
		},
		{
			"short key",
			"api_keys:\n  - label: k\n    key: sc_0011\n",
			"too short",
		},
		{
			"non-hex key",
			"api_keys:\n  - label: k\n    key: sc_zz112233445566778899aabbccddeeff\n",
			"non-hex",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv("API_KEYS", "")
			t.Setenv("CREDENTIALS_FILE", writeCredentialsFile(t, tt.yaml))

			cfg, err := Load()
			require.NoError(t, err)

			_, err = cfg.LoadCredentials()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadCredentials_BcryptSecretExemptFromLengthFloor(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("API_KEYS", "")
	t.Setenv("CREDENTIALS_FILE", writeCredentialsFile(t,
		"clients:\n  - client_id: c1\n    client_secret: $2a$10$abcdefghijklmnopqrstuv\n    redirect_uris: [https://a/cb]\n"))

	cfg, err := Load()
	require.NoError(t, err)

	_, err = cfg.LoadCredentials()
	assert.NoError(t, err)
}
