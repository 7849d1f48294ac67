// Package auth resolves caller auth keys and carries the authenticated
// session through the request context. The engine treats access as an opaque
// predicate evaluated per entity read.
package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
)

// DefaultAuthKey is the key applied to entities created without an explicit
// key, and the key every session may read.
const DefaultAuthKey = "none"

// Session is the authenticated scope of one call: the acting principal and
// the resolved auth keys it may read.
type Session struct {
	PrincipalID uuid.UUID
	AuthKeys    []string
}

// ResolveAuthKeys canonicalizes caller-supplied auth keys: trimmed, deduped,
// and always including the default key. An empty list resolves to the
// default key alone.
func ResolveAuthKeys(keys []string) ([]string, error) {
	resolved := []string{DefaultAuthKey}
	seen := map[string]struct{}{DefaultAuthKey: {}}
	for _, key := range keys {
		canonical := strings.TrimSpace(key)
		if canonical == "" {
			return nil, domain.NewBadRequest("auth key cannot be empty")
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		resolved = append(resolved, canonical)
	}
	return resolved, nil
}

// CanAccess reports whether the session may read an entity with the given
// resolved auth key.
func (s Session) CanAccess(authKey string) bool {
	for _, key := range s.AuthKeys {
		if key == authKey {
			return true
		}
	}
	return false
}

type contextKey string

const sessionKey contextKey = "session"

// ContextWithSession returns a context carrying the authenticated session.
func ContextWithSession(ctx context.Context, session Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionKey, session)
}

// SessionFromContext retrieves the session, falling back to an anonymous
// session restricted to the default auth key.
func SessionFromContext(ctx context.Context) Session {
	if ctx != nil {
		if session, ok := ctx.Value(sessionKey).(Session); ok {
			return session
		}
	}
	return Session{AuthKeys: []string{DefaultAuthKey}}
}
