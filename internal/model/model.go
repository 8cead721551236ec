// Package model defines the session domain types shared by stores, transports and views.
package model

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the decodable fields of an access token.
type Claims struct {
	jwt.RegisteredClaims

	Authorities []string `json:"authorities,omitempty"`
	// RoleNames is accepted from backends that emit "roles" instead of "authorities".
	RoleNames []string `json:"roles,omitempty"`
}

// Roles returns the authorities list, falling back to the "roles" claim.
func (c *Claims) Roles() []string {
	if c == nil {
		return nil
	}
	if len(c.Authorities) > 0 {
		return c.Authorities
	}
	return c.RoleNames
}

// ExpiresAtTime returns the exp claim, or the zero time when it is absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// TokenPair collects an issued access token and an optional refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string // empty: keep whatever refresh token is already stored
}

// LogoutReason tells logout subscribers why a session ended.
type LogoutReason string

const (
	ReasonUnspecified        LogoutReason = ""
	ReasonSessionExpired     LogoutReason = "session_expired"
	ReasonTokenRefreshFailed LogoutReason = "token_refresh_failed"
	ReasonUnauthorized       LogoutReason = "unauthorized"
	ReasonTokenInvalidated   LogoutReason = "token_invalidated"
)

// Message returns the user-facing copy shown when a session ends for this reason.
func (r LogoutReason) Message() string {
	switch r {
	case ReasonSessionExpired:
		return "Your session has expired. Please sign in again."
	case ReasonTokenRefreshFailed:
		return "We could not renew your session. Please sign in again."
	case ReasonUnauthorized:
		return "You are not authorized. Please sign in again."
	case ReasonTokenInvalidated:
		return "Your session was ended from another place. Please sign in again."
	default:
		return "You have been signed out."
	}
}
