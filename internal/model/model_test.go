package model

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestClaims_RolesFallback(t *testing.T) {
	t.Parallel()

	var nilClaims *Claims
	if nilClaims.Roles() != nil {
		t.Fatalf("nil claims must have no roles")
	}

	c := &Claims{RoleNames: []string{"USER"}}
	if got := c.Roles(); len(got) != 1 || got[0] != "USER" {
		t.Fatalf("fallback roles: %v", got)
	}

	c.Authorities = []string{"ADMIN"}
	if got := c.Roles(); len(got) != 1 || got[0] != "ADMIN" {
		t.Fatalf("authorities must win: %v", got)
	}
}

func TestClaims_ExpiresAtTime(t *testing.T) {
	t.Parallel()

	c := &Claims{}
	if !c.ExpiresAtTime().IsZero() {
		t.Fatalf("missing exp must be zero time")
	}
	exp := time.Unix(1700000000, 0)
	c.ExpiresAt = jwt.NewNumericDate(exp)
	if !c.ExpiresAtTime().Equal(exp) {
		t.Fatalf("exp mismatch: %v", c.ExpiresAtTime())
	}
}

func TestLogoutReason_MessageTotal(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, r := range []LogoutReason{
		ReasonUnspecified, ReasonSessionExpired, ReasonTokenRefreshFailed,
		ReasonUnauthorized, ReasonTokenInvalidated, LogoutReason("something_else"),
	} {
		msg := r.Message()
		if msg == "" {
			t.Fatalf("empty message for %q", r)
		}
		seen[msg] = true
	}
	if len(seen) != 5 {
		t.Fatalf("each known reason needs its own copy, got %d distinct", len(seen))
	}
}
