package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken rejects requests that do not carry the admin token in
// either Authorization: Bearer or X-Admin-Token. Both sides are hashed
// before comparison so the compare is constant time regardless of length.
func requireToken(token string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := presentedToken(r)
			if got == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required", nil)
				return
			}
			sum := sha256.Sum256([]byte(got))
			if subtle.ConstantTimeCompare(sum[:], want[:]) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Admin-Token"))
}
