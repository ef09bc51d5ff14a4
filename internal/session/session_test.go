package session

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatterhq/slack-chatter/internal/mcp"
)

func testManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func(scopes []string) *mcp.Dispatcher {
		return mcp.NewDispatcher(nil, scopes, mcp.ServerInfo{Name: "test", Version: "0"}, logger, nil)
	}

	m := NewManager(ttl, factory, logger, nil)
	t.Cleanup(m.Stop)

	return m
}

func TestAuthenticate_CreatesSession(t *testing.T) {
	m := testManager(t, time.Hour)

	p := Principal{ID: "client-1", Method: "oauth"}
	sess := m.Authenticate(p, []string{"search:read"}, "")

	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, p, sess.Principal)
	assert.Equal(t, []string{"search:read"}, sess.Scopes)
	assert.NotNil(t, sess.Dispatcher())
	assert.True(t, sess.ExpiresAt.After(sess.CreatedAt))
	assert.Equal(t, 1, m.Count())
}

func TestAuthenticate_ReusesValidSession(t *testing.T) {
	m := testManager(t, time.Hour)

	p := Principal{ID: "client-1", Method: "oauth"}
	first := m.Authenticate(p, []string{"search:read"}, "")
	second := m.Authenticate(p, []string{"search:read"}, first.ID)

	assert.Equal(t, first.ID, second.ID)
	assert.Same(t, first.Dispatcher(), second.Dispatcher())
	assert.Equal(t, 1, m.Count())
}

func TestAuthenticate_RejectsSessionOfOtherPrincipal(t *testing.T) {
	m := testManager(t, time.Hour)

	first := m.Authenticate(Principal{ID: "client-1", Method: "oauth"}, nil, "")
	second := m.Authenticate(Principal{ID: "client-2", Method: "oauth"}, nil, first.ID)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, m.Count())
}

func TestAuthenticate_UnknownPresentedIDCreatesFresh(t *testing.T) {
	m := testManager(t, time.Hour)

	sess := m.Authenticate(Principal{ID: "client-1", Method: "api_key"}, nil, "mcp_session_bogus")
	require.NotNil(t, sess)
	assert.NotEqual(t, "mcp_session_bogus", sess.ID)
}

func TestValidate_Errors(t *testing.T) {
	m := testManager(t, time.Hour)

	_, err := m.Validate("")
	assert.ErrorIs(t, err, ErrMissing)

	_, err = m.Validate("mcp_session_nope")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestValidate_ExpiredSessionEvicted(t *testing.T) {
	m := testManager(t, 10*time.Millisecond)

	sess := m.Authenticate(Principal{ID: "client-1", Method: "oauth"}, nil, "")
	require.Equal(t, 1, m.Count())

	time.Sleep(20 * time.Millisecond)

	_, err := m.Validate(sess.ID)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Zero(t, m.Count(), "expired session must be evicted on access")

	// A second lookup no longer finds it at all.
	_, err = m.Validate(sess.ID)
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestExpiredSessionNotReused(t *testing.T) {
	m := testManager(t, 10*time.Millisecond)

	p := Principal{ID: "client-1", Method: "oauth"}
	first := m.Authenticate(p, nil, "")

	time.Sleep(20 * time.Millisecond)

	second := m.Authenticate(p, nil, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRevoke(t *testing.T) {
	m := testManager(t, time.Hour)

	sess := m.Authenticate(Principal{ID: "client-1", Method: "oauth"}, nil, "")
	m.Revoke(sess.ID)

	_, err := m.Validate(sess.ID)
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestSessionIDsAreUnique(t *testing.T) {
	m := testManager(t, time.Hour)

	seen := make(map[string]struct{})

	for range 50 {
		sess := m.Authenticate(Principal{ID: "client-1", Method: "oauth"}, nil, "")
		_, dup := seen[sess.ID]
		require.False(t, dup)
		seen[sess.ID] = struct{}{}
	}
}
