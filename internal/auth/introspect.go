package auth

import (
	"net/http"
	"strings"
)

// introspectionResponse is the RFC 7662 response. Only active carries
// meaning for inactive tokens; the remaining fields are omitted.
type introspectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
}

// HandleIntrospect returns the /oauth/introspect handler (RFC 7662).
// Unknown, expired, and malformed tokens all yield {"active": false};
// the endpoint never distinguishes why a token is inactive.
func HandleIntrospect(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
			return
		}

		t, ok := store.Token(r.FormValue("token"))
		if !ok {
			writeJSON(w, http.StatusOK, introspectionResponse{Active: false})
			return
		}

		writeJSON(w, http.StatusOK, introspectionResponse{
			Active:    true,
			Scope:     strings.Join(t.Scopes, " "),
			ClientID:  t.ClientID,
			TokenType: string(t.Kind),
			Exp:       t.ExpiresAt.Unix(),
		})
	}
}

// HandleRevoke returns the /oauth/revoke handler (RFC 7009). Revoking
// either half of a pair kills both. The endpoint returns 200 even for
// unknown tokens so callers cannot probe for valid ones.
func HandleRevoke(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
			return
		}

		store.RevokeToken(r.FormValue("token"))
		w.WriteHeader(http.StatusOK)
	}
}
