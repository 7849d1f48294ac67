package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/auth"
	"github.com/quiverhq/quiver/internal/domain"
)

// Header names the session middleware reads. Auth keys arrive as a
// comma-separated list; the principal id is set by the auth proxy in front of
// this service.
const (
	headerAuthKeys  = "X-Auth-Keys"
	headerPrincipal = "X-Principal-Id"
)

// SessionMiddleware resolves the caller's auth keys and principal from
// request headers into the context session. Missing headers yield the
// anonymous session with the default auth key.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var keys []string
		if raw := r.Header.Get(headerAuthKeys); raw != "" {
			keys = strings.Split(raw, ",")
		}
		resolved, err := auth.ResolveAuthKeys(keys)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		session := auth.Session{AuthKeys: resolved}
		if raw := r.Header.Get(headerPrincipal); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, domain.NewBadRequest("invalid principal id %q", raw).Error(), http.StatusBadRequest)
				return
			}
			session.PrincipalID = id
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), session)))
	})
}
