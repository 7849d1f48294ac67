package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
)

func TestResolveAuthKeys(t *testing.T) {
	keys, err := ResolveAuthKeys([]string{" teamA ", "teamB", "teamA", DefaultAuthKey})
	if err != nil {
		t.Fatalf("ResolveAuthKeys: %v", err)
	}
	want := []string{DefaultAuthKey, "teamA", "teamB"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, keys)
		}
	}
}

func TestResolveAuthKeysAlwaysIncludesDefault(t *testing.T) {
	keys, err := ResolveAuthKeys(nil)
	if err != nil {
		t.Fatalf("ResolveAuthKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != DefaultAuthKey {
		t.Fatalf("expected only the default key, got %v", keys)
	}
}

func TestResolveAuthKeysRejectsEmpty(t *testing.T) {
	if _, err := ResolveAuthKeys([]string{"  "}); !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	session := Session{PrincipalID: uuid.New(), AuthKeys: []string{DefaultAuthKey, "teamA"}}
	ctx := ContextWithSession(context.Background(), session)

	got := SessionFromContext(ctx)
	if got.PrincipalID != session.PrincipalID {
		t.Fatalf("expected principal %s, got %s", session.PrincipalID, got.PrincipalID)
	}
	if !got.CanAccess("teamA") || !got.CanAccess(DefaultAuthKey) {
		t.Fatalf("session must access its keys")
	}
	if got.CanAccess("teamB") {
		t.Fatalf("session must not access foreign keys")
	}
}

func TestSessionFromContextAnonymousFallback(t *testing.T) {
	got := SessionFromContext(context.Background())
	if got.PrincipalID != uuid.Nil {
		t.Fatalf("anonymous session must carry no principal")
	}
	if !got.CanAccess(DefaultAuthKey) || got.CanAccess("teamA") {
		t.Fatalf("anonymous session must only access the default key, got %v", got.AuthKeys)
	}
}
