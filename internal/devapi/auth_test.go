package devapi

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/and161185/pharm-admin/internal/limiter"
	"github.com/and161185/pharm-admin/internal/token"
)

type fakeClock struct{ ns atomic.Int64 }

func newClock() *fakeClock {
	c := &fakeClock{}
	c.ns.Store(time.Now().UnixNano())
	return c
}

func (c *fakeClock) now() time.Time          { return time.Unix(0, c.ns.Load()) }
func (c *fakeClock) advance(d time.Duration) { c.ns.Add(int64(d)) }

func newAuth(t *testing.T, lim limiter.Limiter) (*Auth, *fakeClock) {
	t.Helper()
	a := NewAuth([]byte("dev-secret"), time.Minute, time.Hour, lim)
	c := newClock()
	a.now = c.now
	if err := a.AddUser("admin", "admin-pass", "ADMIN"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if err := a.AddUser("clerk", "clerk-pass", "USER"); err != nil {
		t.Fatalf("seed clerk: %v", err)
	}
	return a, c
}

func TestAddUser_Duplicate(t *testing.T) {
	t.Parallel()
	a, _ := newAuth(t, nil)
	if err := a.AddUser("admin", "x"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
	if err := a.AddUser("", "x"); err == nil {
		t.Fatalf("empty username accepted")
	}
}

func TestLogin_IssuesTokensWithAuthorities(t *testing.T) {
	t.Parallel()
	a, _ := newAuth(t, nil)

	pair, u, err := a.Login(context.Background(), "admin", "admin-pass", "127.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.Username != "admin" || pair.RefreshToken == "" {
		t.Fatalf("unexpected result: %+v %+v", u, pair)
	}
	claims, ok := token.Decode(pair.AccessToken)
	if !ok {
		t.Fatalf("client cannot decode issued token")
	}
	if got := claims.Roles(); len(got) != 1 || got[0] != "ADMIN" {
		t.Fatalf("authorities = %v", got)
	}
	if _, err := a.Verify(pair.AccessToken); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestLogin_WrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	t.Parallel()
	a, _ := newAuth(t, nil)
	ctx := context.Background()

	_, _, e1 := a.Login(ctx, "admin", "nope", "1.1.1.1")
	_, _, e2 := a.Login(ctx, "ghost", "nope", "1.1.1.1")
	if !errors.Is(e1, errs.ErrUnauthorized) || !errors.Is(e2, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized twice, got %v / %v", e1, e2)
	}
}

func TestLogin_LockoutAfterFailures(t *testing.T) {
	t.Parallel()
	a, _ := newAuth(t, limiter.NewMemory(time.Minute, 2, time.Minute))
	ctx := context.Background()

	_, _, _ = a.Login(ctx, "admin", "bad", "9.9.9.9")
	if _, _, err := a.Login(ctx, "admin", "bad", "9.9.9.9"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("second failure should block, got %v", err)
	}
	if _, _, err := a.Login(ctx, "admin", "admin-pass", "9.9.9.9"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("blocked client must stay blocked, got %v", err)
	}
	if _, _, err := a.Login(ctx, "admin", "admin-pass", "8.8.8.8"); err != nil {
		t.Fatalf("other client: %v", err)
	}
}

func TestRefresh_RotatesAndRevokes(t *testing.T) {
	t.Parallel()
	a, _ := newAuth(t, nil)
	pair, _, err := a.Login(context.Background(), "admin", "admin-pass", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	next, err := a.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh token not rotated")
	}
	if _, err := a.Refresh(pair.RefreshToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("reused refresh token accepted: %v", err)
	}

	a.Revoke(next.RefreshToken)
	if _, err := a.Refresh(next.RefreshToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("revoked refresh token accepted: %v", err)
	}
}

func TestRefresh_Expired(t *testing.T) {
	t.Parallel()
	a, clk := newAuth(t, nil)
	pair, _, _ := a.Login(context.Background(), "admin", "admin-pass", "")
	clk.advance(2 * time.Hour)
	if _, err := a.Refresh(pair.RefreshToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expired refresh token accepted: %v", err)
	}
}

func TestVerify_ExpiredAndForeign(t *testing.T) {
	t.Parallel()
	a, clk := newAuth(t, nil)
	pair, _, _ := a.Login(context.Background(), "admin", "admin-pass", "")

	clk.advance(2 * time.Minute)
	if _, err := a.Verify(pair.AccessToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expired token verified: %v", err)
	}

	other := NewAuth([]byte("other-secret"), time.Minute, time.Hour, nil)
	_ = other.AddUser("x", "y")
	p2, _, _ := other.Login(context.Background(), "x", "y", "")
	if _, err := a.Verify(p2.AccessToken); err == nil {
		t.Fatalf("foreign signature verified")
	}
}
