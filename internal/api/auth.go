package api

import (
	"net/http"
	"strings"

	"github.com/M-sasank/finsight/internal/auth"
)

// TokenVerifier resolves a bearer token to the owner id it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// BearerAuth rejects requests without a valid bearer token and stores the
// token's owner in the request context.
func BearerAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			owner, err := v.Verify(strings.TrimSpace(header[len(prefix):]))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithOwner(r.Context(), owner)))
		})
	}
}

func ownerOf(r *http.Request) string {
	owner, _ := auth.Owner(r.Context())
	return owner
}
