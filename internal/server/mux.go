// Package server wires the transports: the authenticated HTTP mux and
// the stdio line loop.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/chatterhq/slack-chatter/internal/auth"
	"github.com/chatterhq/slack-chatter/internal/backend"
	"github.com/chatterhq/slack-chatter/internal/mcp"
	"github.com/chatterhq/slack-chatter/internal/metrics"
	"github.com/chatterhq/slack-chatter/internal/session"
)

// maxRPCBody bounds the size of a single JSON-RPC request body.
const maxRPCBody = 4 << 20

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	AuthStore *auth.Store
	Sessions  *session.Manager
	Backend   backend.Service
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	ServerURL string
	Scopes    []string
}

// NewMux builds the HTTP mux with OAuth discovery, authorization,
// token, introspection, revocation, and MCP endpoints. The MCP
// endpoint is protected by Bearer credential middleware that binds
// each request to a session.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", auth.HandleProtectedResourceMetadata(cfg.ServerURL, cfg.Scopes))
	mux.HandleFunc("/.well-known/oauth-authorization-server", auth.HandleServerMetadata(cfg.ServerURL, cfg.Scopes))
	mux.HandleFunc("/oauth/authorize", auth.HandleAuthorize(cfg.AuthStore, cfg.Logger, cfg.ServerURL, cfg.Scopes))
	mux.HandleFunc("/oauth/token", auth.HandleToken(cfg.AuthStore, cfg.Logger))
	mux.HandleFunc("/oauth/introspect", auth.HandleIntrospect(cfg.AuthStore))
	mux.HandleFunc("/oauth/revoke", auth.HandleRevoke(cfg.AuthStore))

	authMiddleware := auth.Middleware(cfg.AuthStore, cfg.Sessions, cfg.Logger, cfg.ServerURL)
	mux.Handle("/mcp", authMiddleware(handleMCP(cfg.Logger)))

	mux.HandleFunc("/health", handleHealth(cfg.Backend))

	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics.Handler())
	}

	return mux
}

// handleMCP serves one JSON-RPC request per POST, dispatched through
// the session bound by the middleware. Protocol-level failures travel
// inside the JSON-RPC envelope, so the HTTP status is 200 for
// anything the dispatcher could parse or answer.
func handleMCP(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sess := auth.RequestSession(r.Context())
		if sess == nil {
			// The middleware always binds a session; reaching here
			// means the handler was mounted without it.
			http.Error(w, "no session", http.StatusInternalServerError)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody))
		if err != nil {
			http.Error(w, "reading request body", http.StatusBadRequest)
			return
		}

		resp := serve(r.Context(), sess.Dispatcher(), body)

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("encoding rpc response", slog.String("error", err.Error()))
		}
	})
}

// serve runs one raw JSON-RPC message through a dispatcher. Both
// transports funnel through here so malformed JSON gets the same
// parse-error answer on HTTP and stdio.
func serve(ctx context.Context, d *mcp.Dispatcher, raw []byte) *mcp.Response {
	req, errResp := mcp.Parse(raw)
	if errResp != nil {
		return errResp
	}

	return d.Handle(ctx, req)
}

func handleHealth(svc backend.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		health, err := svc.Health(r.Context())

		status := http.StatusOK
		if err != nil {
			health.Status = "unreachable"
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, health)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
