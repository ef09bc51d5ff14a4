package auth

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatterhq/slack-chatter/internal/models"
)

// redirectWithError redirects the user-agent back to the client with an
// error response per RFC 6749 Section 4.1.2.1. This must only be called
// after the redirect_uri and client_id have been validated.
func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, state, errCode, description string) {
	params := url.Values{}
	params.Set("error", errCode)
	params.Set("error_description", description)

	if state != "" {
		params.Set("state", state)
	}

	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

// appendQuery attaches params to a redirect URI, retaining any query
// component the URI already carries (RFC 6749 Section 4.1.2).
func appendQuery(redirectURI string, params url.Values) string {
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}

	return redirectURI + sep + params.Encode()
}

// validateRedirectURI checks that redirectURI matches one of the
// client's registered redirect_uris. Exact match is required except for
// loopback prefixes (http://127.0.0.1 or http://localhost), where any
// port and path are accepted per RFC 8252 Section 7.3.
func validateRedirectURI(client models.OAuthClient, redirectURI string) bool {
	for _, registered := range client.RedirectURIs {
		if redirectURI == registered {
			return true
		}

		if isLocalhostPrefix(registered) && isLoopbackRedirect(redirectURI, registered) {
			return true
		}
	}

	return false
}

// isLocalhostPrefix returns true if the URI is an HTTP loopback prefix
// without a port or path, making it suitable for prefix matching per
// RFC 8252 Section 7.3.
func isLocalhostPrefix(uri string) bool {
	return uri == "http://127.0.0.1" || uri == "http://localhost"
}

// isLoopbackRedirect checks if redirectURI is a valid loopback redirect
// matching the registered prefix URI. Both are parsed as URLs and
// compared by scheme and hostname to prevent DNS confusion attacks
// (e.g. 127.0.0.1.evil.com matching a 127.0.0.1 prefix).
func isLoopbackRedirect(redirectURI, registeredPrefix string) bool {
	ru, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}

	pu, err := url.Parse(registeredPrefix)
	if err != nil {
		return false
	}

	return ru.Scheme == pu.Scheme && ru.Hostname() == pu.Hostname()
}

// HandleAuthorize returns the /oauth/authorize handler. Clients are
// machines holding pre-shared credentials, so there is no login form:
// the request is validated and the code minted in one round trip.
// The serverURL is the issuer identifier included on the redirect for
// mix-up attack prevention (RFC 9207); supportedScopes is the full
// scope set granted when neither the request nor the client narrows it.
func HandleAuthorize(store *Store, logger *slog.Logger, serverURL string, supportedScopes []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()

		clientID := q.Get("client_id")
		if clientID == "" {
			http.Error(w, "missing client_id", http.StatusBadRequest)
			return
		}

		client, ok := store.Client(clientID)
		if !ok {
			http.Error(w, "unknown client_id", http.StatusBadRequest)
			return
		}

		// Errors up to here are plain 400s: without a validated
		// redirect_uri there is nowhere safe to redirect.
		redirectURI := q.Get("redirect_uri")
		if redirectURI == "" {
			// RFC 6749 Section 3.1.2.3: when only one redirect URI is
			// registered, use it. Otherwise require an explicit value.
			if len(client.RedirectURIs) == 1 {
				redirectURI = client.RedirectURIs[0]
			} else {
				http.Error(w, "redirect_uri is required when multiple URIs are registered", http.StatusBadRequest)
				return
			}
		} else if !validateRedirectURI(client, redirectURI) {
			http.Error(w, "redirect_uri not registered for this client", http.StatusBadRequest)
			return
		}

		state := q.Get("state")

		// RFC 6749 Section 4.1.1: response_type is REQUIRED and must
		// be "code". From here on, errors go back by redirect.
		if responseType := q.Get("response_type"); responseType != "code" {
			errCode := "unsupported_response_type"
			if responseType == "" {
				errCode = "invalid_request"
			}

			redirectWithError(w, r, redirectURI, state, errCode, "response_type must be \"code\"")

			return
		}

		codeChallenge := q.Get("code_challenge")
		if codeChallenge == "" {
			redirectWithError(w, r, redirectURI, state, "invalid_request", "code_challenge is required (PKCE)")
			return
		}

		if q.Get("code_challenge_method") != "S256" {
			redirectWithError(w, r, redirectURI, state, "invalid_request", "code_challenge_method must be S256")
			return
		}

		scopes, err := resolveScopes(client, q.Get("scope"), supportedScopes)
		if err != nil {
			redirectWithError(w, r, redirectURI, state, "invalid_scope", err.Error())
			return
		}

		code := RandomHex(authCodeBytes)
		if err := store.SaveCode(models.AuthCode{
			Code:          code,
			ClientID:      clientID,
			RedirectURI:   redirectURI,
			CodeChallenge: codeChallenge,
			Scopes:        scopes,
			ExpiresAt:     time.Now().Add(codeExpiry),
		}); err != nil {
			logger.Error("storing authorization code", slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)

			return
		}

		logger.Info("authorization code issued",
			slog.String("client_id", clientID),
			slog.String("scopes", strings.Join(scopes, " ")),
		)

		params := url.Values{}
		params.Set("code", code)

		// state is opaque passthrough, never interpreted.
		if state != "" {
			params.Set("state", state)
		}

		// RFC 9207: include the issuer identifier to prevent mix-up attacks.
		if serverURL != "" {
			params.Set("iss", serverURL)
		}

		http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
	}
}

// resolveScopes parses the scope parameter and checks every requested
// scope against the client's allow-list. An empty request grants the
// client's declared scopes, or every supported scope for a client with
// no declaration.
func resolveScopes(client models.OAuthClient, scopeParam string, supported []string) ([]string, error) {
	requested := strings.Fields(scopeParam)
	if len(requested) == 0 {
		if len(client.Scopes) > 0 {
			return client.Scopes, nil
		}

		return supported, nil
	}

	for _, s := range requested {
		if !client.AllowsScope(s) {
			return nil, &scopeError{scope: s}
		}
	}

	return requested, nil
}

type scopeError struct {
	scope string
}

func (e *scopeError) Error() string {
	return "scope " + e.scope + " not allowed for this client"
}
