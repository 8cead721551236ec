// Package token persists the access/refresh token pair and decodes access-token claims.
//
// The store never returns storage faults to callers: a slot that cannot be
// read, parsed or decoded is reported as absent and logged.
package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/and161185/pharm-admin/internal/model"
	"github.com/and161185/pharm-admin/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Fixed slot names.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Store holds at most one access token (and optionally a refresh token).
type Store struct {
	st  storage.Storage
	log *zap.Logger
	now func() time.Time

	// paired writes are never observed half done
	mu sync.RWMutex
	// gen changes whenever a session starts or ends; guarded by mu
	gen uint64
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore constructs a token store over slot storage.
func NewStore(st storage.Storage, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{st: st, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Token returns the stored access token. Missing, unreadable and undecodable
// tokens are all reported as absent.
func (s *Store) Token(ctx context.Context) (string, bool) {
	s.mu.RLock()
	tok, ok := s.read(ctx, AccessTokenKey)
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if _, ok := s.Decode(tok); !ok {
		s.log.Warn("stored access token is undecodable; treating as absent")
		return "", false
	}
	return tok, true
}

// RefreshToken returns the stored refresh token if any.
func (s *Store) RefreshToken(ctx context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(ctx, RefreshTokenKey)
}

// SetToken overwrites the access token and, when refresh is non-empty, the
// refresh token. It starts a new session generation.
func (s *Store) SetToken(ctx context.Context, access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.write(ctx, access, refresh)
}

// Generation identifies the current session. SetToken and RemoveTokens move
// it on; SetTokenAt does not.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// SetTokenAt writes like SetToken, but only while the session is still at gen.
// It reports false and writes nothing when the session was replaced or cleared.
func (s *Store) SetTokenAt(ctx context.Context, gen uint64, access, refresh string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.write(ctx, access, refresh)
	return true
}

// write stores the pair. When the refresh slot cannot be written the access
// slot is put back, so a new access token is never paired with a stale refresh token.
func (s *Store) write(ctx context.Context, access, refresh string) {
	prev, prevErr := s.st.Get(ctx, AccessTokenKey)
	if err := s.st.Set(ctx, AccessTokenKey, access); err != nil {
		s.log.Warn("store access token", zap.Error(err))
		return
	}
	if refresh == "" {
		return
	}
	err := s.st.Set(ctx, RefreshTokenKey, refresh)
	if err == nil {
		return
	}
	s.log.Warn("store refresh token; restoring previous access token", zap.Error(err))

	if prevErr == nil && prev != "" {
		err = s.st.Set(ctx, AccessTokenKey, prev)
	} else {
		err = s.st.Delete(ctx, AccessTokenKey)
	}
	if err != nil {
		s.log.Error("restore access token", zap.Error(err))
	}
}

// SetPair stores an issued token pair.
func (s *Store) SetPair(ctx context.Context, p model.TokenPair) {
	s.SetToken(ctx, p.AccessToken, p.RefreshToken)
}

// RemoveTokens clears both slots unconditionally and ends the session
// generation. It is idempotent.
func (s *Store) RemoveTokens(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	for _, key := range []string{AccessTokenKey, RefreshTokenKey} {
		if err := s.st.Delete(ctx, key); err != nil {
			s.log.Warn("remove token slot", zap.String("slot", key), zap.Error(err))
		}
	}
}

// Decode parses token claims without verifying the signature; the client
// holds no verification key. Any parse failure yields absent.
func (s *Store) Decode(tok string) (*model.Claims, bool) {
	return Decode(tok)
}

// Decode is the side-effect free claims decoder behind Store.Decode.
func Decode(tok string) (*model.Claims, bool) {
	if tok == "" {
		return nil, false
	}
	var claims model.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return nil, false
	}
	return &claims, true
}

// IsExpired reports whether the token's exp claim lies in the past.
// Undecodable tokens and tokens without exp are expired. No clock skew is allowed.
func (s *Store) IsExpired(tok string) bool {
	claims, ok := Decode(tok)
	if !ok || claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Time.Before(s.now())
}

// Authorities returns the token's authorities claim.
func (s *Store) Authorities(tok string) ([]string, bool) {
	claims, ok := Decode(tok)
	if !ok {
		return nil, false
	}
	return claims.Roles(), true
}

// Valid returns the stored token and its claims when present and unexpired.
func (s *Store) Valid(ctx context.Context) (string, *model.Claims, bool) {
	tok, ok := s.Token(ctx)
	if !ok || s.IsExpired(tok) {
		return "", nil, false
	}
	claims, _ := Decode(tok)
	return tok, claims, true
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	v, err := s.st.Get(ctx, key)
	switch {
	case err == nil:
		return v, v != ""
	case errors.Is(err, errs.ErrNotFound):
		return "", false
	default:
		s.log.Warn("read token slot", zap.String("slot", key), zap.Error(err))
		return "", false
	}
}
