// Package session ends authenticated sessions. A Broadcaster lets code with no
// knowledge of views (the HTTP layer, for instance) force a logout, while any
// number of subscribers decide what logout means for them.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/and161185/pharm-admin/internal/model"
	"go.uber.org/zap"
)

// Callback reacts to a session ending.
type Callback func(reason model.LogoutReason)

// Tokens is the part of the token store the broadcaster needs.
type Tokens interface {
	RemoveTokens(ctx context.Context)
	Valid(ctx context.Context) (string, *model.Claims, bool)
}

// Fallback makes a logout observable when nobody has subscribed yet.
type Fallback interface {
	Alert(message string)
	Navigate(path string)
}

// Trigger is what low-level code depends on to force a logout.
type Trigger interface {
	Trigger(ctx context.Context, reason model.LogoutReason)
}

type registration struct{ fn Callback }

// Broadcaster is a publish/subscribe registry of logout callbacks.
// Construct one in the composition root and pass it to whoever needs it.
type Broadcaster struct {
	tokens    Tokens
	fallback  Fallback
	loginPath string
	log       *zap.Logger

	mu   sync.Mutex
	regs []*registration
}

var _ Trigger = (*Broadcaster)(nil)

// NewBroadcaster constructs a broadcaster clearing tokens on every trigger.
func NewBroadcaster(tokens Tokens, fallback Fallback, loginPath string, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{tokens: tokens, fallback: fallback, loginPath: loginPath, log: log}
}

// Register adds cb and returns a function removing exactly this registration.
// Registering the same function twice yields two independent entries.
func (b *Broadcaster) Register(cb Callback) (unregister func()) {
	r := &registration{fn: cb}
	b.mu.Lock()
	b.regs = append(b.regs, r)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		kept := b.regs[:0:0]
		for _, x := range b.regs {
			if x != r {
				kept = append(kept, x)
			}
		}
		b.regs = kept
	}
}

// Len returns the number of current registrations.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.regs)
}

// Trigger clears the token store, then calls every registered callback in
// registration order. Tokens are gone before the first callback runs.
// With no registrations the fallback alerts and navigates to login.
func (b *Broadcaster) Trigger(ctx context.Context, reason model.LogoutReason) {
	b.tokens.RemoveTokens(ctx)

	b.mu.Lock()
	snapshot := append([]*registration(nil), b.regs...)
	b.mu.Unlock()

	b.log.Info("logout", zap.String("reason", string(reason)), zap.Int("listeners", len(snapshot)))

	if len(snapshot) == 0 {
		if b.fallback != nil {
			b.fallback.Alert(reason.Message())
			b.fallback.Navigate(b.loginPath)
		}
		return
	}
	for i, r := range snapshot {
		b.invoke(i, r.fn, reason)
	}
}

// IsAuthenticated reports whether a decodable, unexpired token is held.
func (b *Broadcaster) IsAuthenticated(ctx context.Context) bool {
	_, _, ok := b.tokens.Valid(ctx)
	return ok
}

func (b *Broadcaster) invoke(i int, fn Callback, reason model.LogoutReason) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("logout listener failed",
				zap.Int("listener", i),
				zap.String("reason", string(reason)),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn(reason)
}
