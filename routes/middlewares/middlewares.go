package middlewares

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"
)

// Authenticated verifies the bearer token on student routes.
func Authenticated(secret string) func(http.Handler) http.Handler {
	return oauth.Authorize(secret, nil)
}

// Admin additionally requires the 'admin' role claim.
func Admin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return chi.Chain(oauth.Authorize(secret, nil), admin).Handler(next)
	}
}

func admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !HasRole(r, "admin") {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func HasRole(r *http.Request, role string) bool {
	claims, ok := r.Context().Value(oauth.ClaimsContext).(map[string]string)
	if !ok {
		return false
	}

	rolesClaim, ok := claims["roles"]
	if !ok {
		return false
	}
	for _, have := range strings.Split(rolesClaim, ",") {
		if have == role {
			return true
		}
	}
	return false
}

// Username returns the credential the bearer token was issued to. Student
// ids are usernames.
func Username(r *http.Request) string {
	username, _ := r.Context().Value(oauth.CredentialContext).(string)
	return username
}
