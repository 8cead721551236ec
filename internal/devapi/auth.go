// Package devapi is a development backend speaking the admin dashboard's
// wire contract: envelope responses, JWT access tokens with authorities,
// rotating opaque refresh tokens, and a gRPC health service behind bearer auth.
package devapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgcrypto "github.com/and161185/pharm-admin/internal/crypto"
	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/and161185/pharm-admin/internal/limiter"
	"github.com/and161185/pharm-admin/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// User is a seeded account.
type User struct {
	ID          uuid.UUID
	Username    string
	PwdHash     string
	Authorities []string
}

type refreshEntry struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// Auth issues and verifies tokens for seeded users.
type Auth struct {
	signKey    []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	lim        limiter.Limiter
	now        func() time.Time

	mu      sync.Mutex
	users   map[string]*User
	byID    map[uuid.UUID]*User
	refresh map[string]refreshEntry
}

// NewAuth constructs Auth. A nil limiter disables lockouts.
func NewAuth(signKey []byte, accessTTL, refreshTTL time.Duration, lim limiter.Limiter) *Auth {
	return &Auth{
		signKey:    signKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		lim:        lim,
		now:        time.Now,
		users:      map[string]*User{},
		byID:       map[uuid.UUID]*User{},
		refresh:    map[string]refreshEntry{},
	}
}

// AddUser seeds an account.
func (a *Auth) AddUser(username, password string, authorities ...string) error {
	if username == "" || password == "" {
		return errors.New("empty username/password")
	}
	hash, err := pkgcrypto.Hash(password)
	if err != nil {
		return err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[username]; ok {
		return fmt.Errorf("user %q: %w", username, errs.ErrAlreadyExists)
	}
	u := &User{ID: id, Username: username, PwdHash: hash, Authorities: authorities}
	a.users[username] = u
	a.byID[id] = u
	return nil
}

// Login authenticates with lockout by (username, ip).
func (a *Auth) Login(ctx context.Context, username, password, ip string) (model.TokenPair, User, error) {
	ipHash := limiter.HashIP(ip)
	if a.lim != nil {
		allowed, _, err := a.lim.Allow(ctx, username, ipHash)
		if err != nil {
			return model.TokenPair{}, User{}, err
		}
		if !allowed {
			return model.TokenPair{}, User{}, errs.ErrRateLimited
		}
	}

	a.mu.Lock()
	u, found := a.users[username]
	a.mu.Unlock()
	ok := false
	if found {
		ok, _ = pkgcrypto.Verify(password, u.PwdHash)
	}
	if !ok {
		if a.lim != nil {
			if blocked, _, ferr := a.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
				return model.TokenPair{}, User{}, errs.ErrRateLimited
			}
		}
		// unknown user and wrong password look the same
		return model.TokenPair{}, User{}, errs.ErrUnauthorized
	}
	if a.lim != nil {
		_ = a.lim.Success(ctx, username, ipHash)
	}

	pair, err := a.issue(u)
	if err != nil {
		return model.TokenPair{}, User{}, err
	}
	return pair, *u, nil
}

// Refresh rotates refreshToken into a new pair. The old token stops working.
func (a *Auth) Refresh(refreshToken string) (model.TokenPair, error) {
	a.mu.Lock()
	e, ok := a.refresh[refreshToken]
	delete(a.refresh, refreshToken)
	u := a.byID[e.userID]
	a.mu.Unlock()
	if !ok || u == nil || !a.now().Before(e.expiresAt) {
		return model.TokenPair{}, errs.ErrUnauthorized
	}
	return a.issue(u)
}

// Revoke invalidates refreshToken. Unknown tokens are ignored.
func (a *Auth) Revoke(refreshToken string) {
	a.mu.Lock()
	delete(a.refresh, refreshToken)
	a.mu.Unlock()
}

func (a *Auth) issue(u *User) (model.TokenPair, error) {
	access, err := a.issueAccessToken(u)
	if err != nil {
		return model.TokenPair{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.TokenPair{}, err
	}
	rt := id.String()
	a.mu.Lock()
	a.refresh[rt] = refreshEntry{userID: u.ID, expiresAt: a.now().Add(a.refreshTTL)}
	a.mu.Unlock()
	return model.TokenPair{AccessToken: access, RefreshToken: rt}, nil
}

// issueAccessToken creates a signed HS256 JWT carrying the user's authorities.
func (a *Auth) issueAccessToken(u *User) (string, error) {
	now := a.now()
	claims := model.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ID:        u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
		},
		Authorities: u.Authorities,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signKey)
}

// Verify checks signature and expiry of an access token.
func (a *Auth) Verify(tok string) (*model.Claims, error) {
	var claims model.Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.signKey, nil
	}, jwt.WithLeeway(5*time.Second), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, errs.ErrUnauthorized
	}
	return &claims, nil
}
