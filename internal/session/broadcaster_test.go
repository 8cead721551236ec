package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/and161185/pharm-admin/internal/model"
	"github.com/and161185/pharm-admin/internal/storage"
	"github.com/and161185/pharm-admin/internal/token"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
)

type recFallback struct {
	alerts []string
	paths  []string
}

func (r *recFallback) Alert(m string)    { r.alerts = append(r.alerts, m) }
func (r *recFallback) Navigate(p string) { r.paths = append(r.paths, p) }

func validJWT(t *testing.T) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newFixture(t *testing.T) (*Broadcaster, *token.Store, *recFallback) {
	t.Helper()
	store := token.NewStore(storage.NewMemory(), zaptest.NewLogger(t))
	store.SetToken(context.Background(), validJWT(t), "r")
	fb := &recFallback{}
	return NewBroadcaster(store, fb, "/login", zaptest.NewLogger(t)), store, fb
}

func TestTrigger_ListenerIsolation(t *testing.T) {
	t.Parallel()
	b, _, fb := newFixture(t)

	var calls [3]int
	b.Register(func(model.LogoutReason) { calls[0]++ })
	b.Register(func(model.LogoutReason) { calls[1]++; panic(errors.New("listener boom")) })
	b.Register(func(model.LogoutReason) { calls[2]++ })

	b.Trigger(context.Background(), model.ReasonUnauthorized)
	if calls != [3]int{1, 1, 1} {
		t.Fatalf("each listener must run once, got %v", calls)
	}
	if len(fb.alerts) != 0 {
		t.Fatalf("fallback must not run when listeners exist")
	}
}

func TestTrigger_UnregisterMiddle(t *testing.T) {
	t.Parallel()
	b, _, _ := newFixture(t)

	var order []string
	b.Register(func(model.LogoutReason) { order = append(order, "A") })
	unB := b.Register(func(model.LogoutReason) { order = append(order, "B") })
	b.Register(func(model.LogoutReason) { order = append(order, "C") })

	unB()
	unB() // second call is a no-op
	if b.Len() != 2 {
		t.Fatalf("Len=%d, want 2", b.Len())
	}

	b.Trigger(context.Background(), model.ReasonSessionExpired)
	if len(order) != 2 || order[0] != "A" || order[1] != "C" {
		t.Fatalf("want [A C], got %v", order)
	}
}

func TestRegister_SameCallbackTwice(t *testing.T) {
	t.Parallel()
	b, _, _ := newFixture(t)

	n := 0
	cb := func(model.LogoutReason) { n++ }
	un1 := b.Register(cb)
	b.Register(cb)

	b.Trigger(context.Background(), model.ReasonUnspecified)
	if n != 2 {
		t.Fatalf("duplicate registrations must both fire, got %d", n)
	}

	un1()
	b.Trigger(context.Background(), model.ReasonUnspecified)
	if n != 3 {
		t.Fatalf("unregister must remove only its own entry, got %d", n)
	}
}

func TestTrigger_TokensClearedBeforeListeners(t *testing.T) {
	t.Parallel()
	b, store, _ := newFixture(t)

	var sawToken bool
	var reason model.LogoutReason
	b.Register(func(r model.LogoutReason) {
		_, sawToken = store.Token(context.Background())
		reason = r
	})

	if !b.IsAuthenticated(context.Background()) {
		t.Fatalf("fixture must start authenticated")
	}
	b.Trigger(context.Background(), model.ReasonTokenRefreshFailed)
	if sawToken {
		t.Fatalf("listener observed a token mid-logout")
	}
	if reason != model.ReasonTokenRefreshFailed {
		t.Fatalf("reason=%q", reason)
	}
	if b.IsAuthenticated(context.Background()) {
		t.Fatalf("must not be authenticated after logout")
	}
}

func TestTrigger_FallbackWithoutListeners(t *testing.T) {
	t.Parallel()
	b, store, fb := newFixture(t)

	b.Trigger(context.Background(), model.ReasonSessionExpired)
	if _, ok := store.Token(context.Background()); ok {
		t.Fatalf("token store must be cleared")
	}
	if _, ok := store.RefreshToken(context.Background()); ok {
		t.Fatalf("refresh slot must be cleared")
	}
	if len(fb.alerts) != 1 || fb.alerts[0] != model.ReasonSessionExpired.Message() {
		t.Fatalf("alerts=%v", fb.alerts)
	}
	if len(fb.paths) != 1 || fb.paths[0] != "/login" {
		t.Fatalf("navigation=%v", fb.paths)
	}
}

func TestTrigger_NilFallbackStillClears(t *testing.T) {
	t.Parallel()
	store := token.NewStore(storage.NewMemory(), nil)
	store.SetToken(context.Background(), validJWT(t), "")
	b := NewBroadcaster(store, nil, "/login", nil)

	b.Trigger(context.Background(), model.ReasonUnspecified)
	if _, ok := store.Token(context.Background()); ok {
		t.Fatalf("token store must be cleared")
	}
}

func TestBroadcaster_ConcurrentRegisterTrigger(t *testing.T) {
	t.Parallel()
	store := token.NewStore(storage.NewMemory(), nil)
	b := NewBroadcaster(store, nil, "/login", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			un := b.Register(func(model.LogoutReason) {})
			un()
		}()
		go func() {
			defer wg.Done()
			b.Trigger(context.Background(), model.ReasonUnauthorized)
		}()
	}
	wg.Wait()
	if b.Len() != 0 {
		t.Fatalf("all registrations were removed, Len=%d", b.Len())
	}
}

func TestConsoleFallback(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := ConsoleFallback{Out: &buf}
	c.Alert("bye")
	c.Navigate("adminctl login")
	if got := buf.String(); got != "bye\nsign in again: adminctl login\n" {
		t.Fatalf("output=%q", got)
	}
}
