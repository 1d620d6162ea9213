package webserver

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authorizer decides whether a request may use the admin routes.
type Authorizer interface {
	Authorize(r *http.Request) bool
}

// BearerToken accepts "Authorization: Bearer <token>". An empty token
// accepts every request.
type BearerToken string

func (t BearerToken) Authorize(r *http.Request) bool {
	if t == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(t)) == 1
}

func RequireAdmin(auth Authorizer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth != nil && !auth.Authorize(r) {
			writeJSON(w, http.StatusUnauthorized, reply{Message: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
