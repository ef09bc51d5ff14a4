package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/chatterhq/slack-chatter/internal/models"
	"github.com/chatterhq/slack-chatter/internal/session"
)

// SessionHeader carries the session id on requests and responses.
const SessionHeader = "Mcp-Session-Id"

type contextKey int

const (
	ctxSession contextKey = iota
	ctxRemoteIP
)

// RequestSession returns the session bound to the request, or nil.
func RequestSession(ctx context.Context) *session.Session {
	v, _ := ctx.Value(ctxSession).(*session.Session)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// Middleware returns HTTP middleware that authenticates Bearer
// credentials and binds the request to a session. Unauthenticated
// requests get a 401 with the WWW-Authenticate header pointing to the
// protected resource metadata URL (RFC 9728 Section 5.1). The resolved
// session travels in the request context and its id is echoed in the
// response header.
func Middleware(store *Store, sessions *session.Manager, logger *slog.Logger, serverURL string) func(http.Handler) http.Handler {
	metadataURL := serverURL + "/.well-known/oauth-protected-resource"
	// RFC 6750 Section 3.1: no error attribute when no token was provided.
	wwwAuthNoToken := fmt.Sprintf(`Bearer resource_metadata="%s"`, metadataURL)
	// error="invalid_token" signals the client should attempt a refresh.
	wwwAuthInvalid := fmt.Sprintf(`Bearer error="invalid_token", resource_metadata="%s"`, metadataURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer credential",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthNoToken)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			credential := strings.TrimPrefix(authHeader, "Bearer ")

			principal, scopes, ok := resolveCredential(store, credential)
			if !ok {
				logger.Debug("middleware: invalid credential",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthInvalid)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			sess := sessions.Authenticate(principal, scopes, r.Header.Get(SessionHeader))
			w.Header().Set(SessionHeader, sess.ID)

			logger.Debug("middleware: authenticated",
				slog.String("principal", principal.ID),
				slog.String("method", principal.Method),
				slog.String("session_id", sess.ID),
				slog.String("ip", ip),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxSession, sess)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveCredential maps a Bearer credential to its principal and
// granted scopes. API keys carry the "sc_" prefix and bypass the OAuth
// dance entirely; everything else is treated as an access token.
func resolveCredential(store *Store, credential string) (session.Principal, []string, bool) {
	if strings.HasPrefix(credential, APIKeyPrefix) {
		key, ok := store.ValidateAPIKey(credential)
		if !ok {
			return session.Principal{}, nil, false
		}

		return session.Principal{ID: key.Label, Method: "api_key"}, key.Scopes, true
	}

	token, ok := store.ValidateToken(credential, models.TokenAccess)
	if !ok {
		return session.Principal{}, nil, false
	}

	return session.Principal{ID: token.ClientID, Method: "oauth"}, token.Scopes, true
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
