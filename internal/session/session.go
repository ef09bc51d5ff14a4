// Package session issues and validates the opaque session handles that
// bind a credential to a scope set and a per-session protocol
// dispatcher. A session is the unit of JSON-RPC protocol state; two
// sessions never share a dispatcher.
package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatterhq/slack-chatter/internal/mcp"
	"github.com/chatterhq/slack-chatter/internal/metrics"
	"github.com/chatterhq/slack-chatter/internal/store"
)

// DefaultTTL is the session lifetime unless configured otherwise.
const DefaultTTL = 24 * time.Hour

// sweepInterval controls how often expired sessions are reaped. The
// sweep only bounds memory; expiry is enforced lazily on access.
const sweepInterval = 5 * time.Minute

// Validation failures. Expired sessions are evicted by the validation
// that discovers them.
var (
	ErrMissing = errors.New("session id missing")
	ErrUnknown = errors.New("session unknown")
	ErrExpired = errors.New("session expired")
)

// Principal identifies the authenticated owner of a session.
type Principal struct {
	ID     string
	Method string // "api_key" or "oauth"
}

// Session binds a principal and scope set to a dispatcher carrying the
// session's initialize state.
type Session struct {
	ID         string
	Principal  Principal
	Scopes     []string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	dispatcher *mcp.Dispatcher
}

// Dispatcher returns the session's protocol dispatcher.
func (s *Session) Dispatcher() *mcp.Dispatcher { return s.dispatcher }

// DispatcherFactory builds a fresh dispatcher for a new session's
// scope set.
type DispatcherFactory func(scopes []string) *mcp.Dispatcher

// Manager owns the session table. Sessions live in memory only; they
// embed protocol state that cannot outlive the process.
type Manager struct {
	ttl      time.Duration
	sessions *store.Mem[*Session]
	factory  DispatcherFactory
	logger   *slog.Logger
	metrics  *metrics.Metrics
	stop     chan struct{}
}

// NewManager creates a session manager and starts the background
// sweep. Call Stop to terminate the sweeper. metrics may be nil.
func NewManager(ttl time.Duration, factory DispatcherFactory, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	mgr := &Manager{
		ttl: ttl,
		sessions: store.NewMem[*Session](func(s *Session) time.Time {
			return s.ExpiresAt
		}),
		factory: factory,
		logger:  logger,
		metrics: m,
		stop:    make(chan struct{}),
	}

	go mgr.sweepLoop()

	return mgr
}

// Stop terminates the background sweeper.
func (m *Manager) Stop() {
	close(m.stop)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := m.sessions.Sweep(time.Now()); removed > 0 {
				m.logger.Info("swept expired sessions", slog.Int("count", removed))
				m.observeCount()
			}
		case <-m.stop:
			return
		}
	}
}

// Authenticate resolves a validated credential to a session. When the
// caller presents a still-valid session owned by the same principal it
// is reused; otherwise a fresh session is created.
func (m *Manager) Authenticate(p Principal, scopes []string, presentedID string) *Session {
	if presentedID != "" {
		if sess, err := m.Validate(presentedID); err == nil && sess.Principal == p {
			return sess
		}
	}

	now := time.Now()
	sess := &Session{
		ID:         "mcp_session_" + uuid.NewString(),
		Principal:  p,
		Scopes:     scopes,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		dispatcher: m.factory(scopes),
	}

	_ = m.sessions.Put(sess.ID, sess)
	m.observeCount()

	m.logger.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("principal", p.ID),
		slog.String("method", p.Method),
	)

	return sess
}

// Validate looks up a session by id. Expiry is checked against the
// wall clock on every access; an expired session is evicted here, so
// correctness never depends on the background sweep.
func (m *Manager) Validate(id string) (*Session, error) {
	if id == "" {
		return nil, ErrMissing
	}

	sess, ok := m.sessions.Get(id)
	if !ok {
		return nil, ErrUnknown
	}

	if time.Now().After(sess.ExpiresAt) {
		m.sessions.Delete(id)
		m.observeCount()

		return nil, ErrExpired
	}

	return sess, nil
}

// Revoke destroys a session immediately.
func (m *Manager) Revoke(id string) {
	m.sessions.Delete(id)
	m.observeCount()
}

// Count returns the number of sessions currently held, expired
// stragglers included.
func (m *Manager) Count() int {
	return m.sessions.Len()
}

func (m *Manager) observeCount() {
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(m.sessions.Len()))
	}
}
