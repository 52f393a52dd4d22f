// Package auth checks the shared admin secret carried by HTTP and
// websocket requests.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderName is the dedicated header an admin client may send the secret in.
const HeaderName = "X-Admin-Token"

// Secret is the shared admin secret. The zero value rejects every request.
type Secret string

// Matches reports whether token equals the secret in constant time.
func (s Secret) Matches(token string) bool {
	if s == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s), []byte(token)) == 1
}

// Authorized accepts the secret from the token query parameter, the
// X-Admin-Token header or a Bearer Authorization header. Browsers cannot set
// headers on websocket upgrades, hence the query parameter.
func (s Secret) Authorized(r *http.Request) bool {
	if s.Matches(r.URL.Query().Get("token")) {
		return true
	}
	if s.Matches(r.Header.Get(HeaderName)) {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && s.Matches(strings.TrimPrefix(auth, "Bearer ")) {
		return true
	}
	return false
}
