package devapi

import (
	"context"
	"strings"

	"github.com/and161185/pharm-admin/internal/model"
)

type ctxKey string

const claimsKey ctxKey = "pharm.claims"

// WithClaims stores verified claims in context.
func WithClaims(ctx context.Context, c *model.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches verified claims from context.
func ClaimsFromCtx(ctx context.Context) (*model.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*model.Claims)
	return c, ok && c != nil
}

// bearer extracts the token from "Bearer <token>" values.
func bearer(values ...string) (string, bool) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, true
			}
		}
	}
	return "", false
}

func hasAny(c *model.Claims, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, have := range c.Roles() {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
