// Package authz derives authentication and role checks from the token store.
// Nothing is cached: every call decodes the stored token again.
package authz

import (
	"context"
	"net/url"

	"github.com/and161185/pharm-admin/internal/model"
)

// Tokens is the part of the token store the facade reads.
type Tokens interface {
	Valid(ctx context.Context) (string, *model.Claims, bool)
}

// Facade answers "who is signed in and what may they do".
type Facade struct{ tokens Tokens }

// NewFacade constructs a facade over tokens.
func NewFacade(tokens Tokens) *Facade { return &Facade{tokens: tokens} }

// IsAuthenticated reports whether a decodable, unexpired token is held.
func (f *Facade) IsAuthenticated(ctx context.Context) bool {
	_, _, ok := f.tokens.Valid(ctx)
	return ok
}

// CurrentUser returns the claims of the valid token.
func (f *Facade) CurrentUser(ctx context.Context) (*model.Claims, bool) {
	_, c, ok := f.tokens.Valid(ctx)
	return c, ok
}

// Roles returns the current authorities, or an empty list.
func (f *Facade) Roles(ctx context.Context) []string {
	c, ok := f.CurrentUser(ctx)
	if !ok || len(c.Roles()) == 0 {
		return []string{}
	}
	return c.Roles()
}

// HasRole reports exact membership of role.
func (f *Facade) HasRole(ctx context.Context, role string) bool {
	for _, r := range f.Roles(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether any of roles is held. An empty list is false.
func (f *Facade) HasAnyRole(ctx context.Context, roles ...string) bool {
	held := f.Roles(ctx)
	for _, want := range roles {
		for _, r := range held {
			if r == want {
				return true
			}
		}
	}
	return false
}

// Outcome of a guard check.
type Outcome int

const (
	Allow Outcome = iota
	// RedirectLogin: identity unknown (no token or expired).
	RedirectLogin
	// Forbidden: identity known, roles insufficient.
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	default:
		return "forbidden"
	}
}

// Decision says where a protected view request should go.
type Decision struct {
	Outcome Outcome
	// Location is the redirect target; empty for Allow, and for Forbidden
	// when the guard has no forbidden view (the caller renders its own).
	Location string
	// From is the originally requested location, preserved for RedirectLogin.
	From string
}

// Guard gates protected views.
type Guard struct {
	Facade        *Facade
	LoginPath     string
	ForbiddenPath string
}

// Check decides access to from. With no required roles only authentication is needed.
func (g Guard) Check(ctx context.Context, from string, required ...string) Decision {
	if !g.Facade.IsAuthenticated(ctx) {
		loc := g.LoginPath
		if from != "" {
			loc += "?" + url.Values{"from": {from}}.Encode()
		}
		return Decision{Outcome: RedirectLogin, Location: loc, From: from}
	}
	if len(required) > 0 && !g.Facade.HasAnyRole(ctx, required...) {
		return Decision{Outcome: Forbidden, Location: g.ForbiddenPath, From: from}
	}
	return Decision{Outcome: Allow, From: from}
}
