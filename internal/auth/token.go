package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/chatterhq/slack-chatter/internal/models"
)

// maxRequestBody bounds OAuth endpoint request bodies.
const maxRequestBody = 64 * 1024

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	writeJSON(w, status, errorResponse{Error: errCode, ErrorDescription: description})
}

// HandleToken returns the /oauth/token handler supporting the
// authorization_code and refresh_token grants.
func HandleToken(store *Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		// Support both JSON and form-encoded bodies.
		var req tokenRequest
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
				return
			}
		} else {
			if err := r.ParseForm(); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
				return
			}

			req = tokenRequest{
				GrantType:    r.FormValue("grant_type"),
				Code:         r.FormValue("code"),
				RedirectURI:  r.FormValue("redirect_uri"),
				CodeVerifier: r.FormValue("code_verifier"),
				ClientID:     r.FormValue("client_id"),
				ClientSecret: r.FormValue("client_secret"),
				RefreshToken: r.FormValue("refresh_token"),
			}
		}

		// Clients may also authenticate with client_secret_basic, as
		// the discovery document advertises. Basic credentials win
		// over any copies in the body.
		if id, secret, ok := r.BasicAuth(); ok {
			req.ClientID = unescapeBasicAuth(id)
			req.ClientSecret = unescapeBasicAuth(secret)
		}

		switch req.GrantType {
		case "authorization_code":
			handleCodeGrant(w, store, logger, req)
		case "refresh_token":
			handleRefreshGrant(w, store, logger, req)
		default:
			writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type",
				"supported grant types are authorization_code and refresh_token")
		}
	}
}

// handleCodeGrant exchanges an authorization code for a token pair.
// Every check runs against the peeked code first; consumption is the
// last step so a failed exchange never burns the code.
func handleCodeGrant(w http.ResponseWriter, store *Store, logger *slog.Logger, req tokenRequest) {
	if req.Code == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	client, ok := store.Client(req.ClientID)
	if !ok || !verifyClientSecret(client.ClientSecret, req.ClientSecret) {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	ac, ok := store.PeekCode(req.Code)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid or expired authorization code")
		return
	}

	if ac.ClientID != req.ClientID {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "code was issued to a different client")
		return
	}

	if req.RedirectURI != ac.RedirectURI {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}

	if req.CodeVerifier == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "code_verifier is required")
		return
	}

	if !verifyPKCE(req.CodeVerifier, ac.CodeChallenge) {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	// All checks passed; Take settles any race between concurrent
	// exchanges of the same code.
	if _, ok := store.ConsumeCode(req.Code); !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid or expired authorization code")
		return
	}

	resp, err := issuePair(store, ac.ClientID, ac.Scopes)
	if err != nil {
		logger.Error("issuing token pair", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "server_error", "could not issue tokens")

		return
	}

	logger.Info("tokens issued", slog.String("client_id", ac.ClientID), slog.String("grant", "authorization_code"))
	writeJSON(w, http.StatusOK, resp)
}

// handleRefreshGrant rotates a refresh token: the old access+refresh
// pair is invalidated and a fresh pair issued.
func handleRefreshGrant(w http.ResponseWriter, store *Store, logger *slog.Logger, req tokenRequest) {
	if req.RefreshToken == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	// Rotation, not reuse: the atomic consume settles any race between
	// concurrent exchanges of the same refresh token, and its cascade
	// kills the paired access token.
	rt, ok := store.ConsumeToken(req.RefreshToken, models.TokenRefresh)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid or expired refresh token")
		return
	}

	resp, err := issuePair(store, rt.ClientID, rt.Scopes)
	if err != nil {
		logger.Error("issuing token pair", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "server_error", "could not issue tokens")

		return
	}

	logger.Info("tokens issued", slog.String("client_id", rt.ClientID), slog.String("grant", "refresh_token"))
	writeJSON(w, http.StatusOK, resp)
}

// issuePair mints a linked access+refresh token pair.
func issuePair(store *Store, clientID string, scopes []string) (tokenResponse, error) {
	access := RandomHex(tokenBytes)
	refresh := RandomHex(tokenBytes)
	now := time.Now()

	if err := store.SaveToken(models.Token{
		Value:     access,
		Kind:      models.TokenAccess,
		ClientID:  clientID,
		Scopes:    scopes,
		Paired:    refresh,
		ExpiresAt: now.Add(accessTokenExpiry),
	}); err != nil {
		return tokenResponse{}, err
	}

	if err := store.SaveToken(models.Token{
		Value:     refresh,
		Kind:      models.TokenRefresh,
		ClientID:  clientID,
		Scopes:    scopes,
		Paired:    access,
		ExpiresAt: now.Add(refreshTokenExpiry),
	}); err != nil {
		return tokenResponse{}, err
	}

	return tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessTokenExpiry.Seconds()),
		RefreshToken: refresh,
		Scope:        strings.Join(scopes, " "),
	}, nil
}

// unescapeBasicAuth undoes the form-urlencoding RFC 6749 applies to
// Basic credentials; values that are not valid encodings pass through
// unchanged.
func unescapeBasicAuth(v string) string {
	u, err := url.QueryUnescape(v)
	if err != nil {
		return v
	}

	return u
}

// verifyClientSecret compares a presented secret against the configured
// one. Configured secrets may be bcrypt hashes; plaintext secrets are
// compared in constant time.
func verifyClientSecret(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}

	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(presented)) == nil
	}

	configuredH := sha256.Sum256([]byte(configured))
	presentedH := sha256.Sum256([]byte(presented))

	return subtle.ConstantTimeCompare(configuredH[:], presentedH[:]) == 1
}

// verifyPKCE checks that SHA256(verifier) matches the challenge (S256 method).
func verifyPKCE(verifier, challenge string) bool {
	h := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(h[:])

	return computed == challenge
}
