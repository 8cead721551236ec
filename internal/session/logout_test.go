package session

import (
	"context"
	"errors"
	"testing"

	"github.com/and161185/pharm-admin/internal/model"
	"go.uber.org/zap/zaptest"
)

type countTrigger struct {
	n      int
	reason model.LogoutReason
	during func()
}

func (c *countTrigger) Trigger(_ context.Context, r model.LogoutReason) {
	c.n++
	c.reason = r
	if c.during != nil {
		c.during()
	}
}

func TestLogout_RevokeThenTrigger(t *testing.T) {
	t.Parallel()
	trig := &countTrigger{}
	revoked := 0
	l := NewLogout(trig, func(context.Context) error { revoked++; return nil }, zaptest.NewLogger(t))

	if l.State() != Idle {
		t.Fatalf("initial state %s", l.State())
	}
	if !l.Do(context.Background(), model.ReasonUnspecified) {
		t.Fatalf("first logout must run")
	}
	if revoked != 1 || trig.n != 1 {
		t.Fatalf("revoked=%d trig=%d", revoked, trig.n)
	}
	if l.State() != Idle {
		t.Fatalf("must return to idle, got %s", l.State())
	}
}

func TestLogout_ReentrantCallIsNoop(t *testing.T) {
	t.Parallel()
	trig := &countTrigger{}
	l := NewLogout(trig, nil, nil)

	var inner bool
	trig.during = func() {
		if l.State() != LoggingOut {
			t.Errorf("state during trigger = %s", l.State())
		}
		inner = l.Do(context.Background(), model.ReasonUnauthorized)
	}

	if !l.Do(context.Background(), model.ReasonSessionExpired) {
		t.Fatalf("outer logout must run")
	}
	if inner {
		t.Fatalf("re-entrant logout must be a no-op")
	}
	if trig.n != 1 || trig.reason != model.ReasonSessionExpired {
		t.Fatalf("trigger n=%d reason=%q", trig.n, trig.reason)
	}
}

func TestLogout_RevokeFailureStillTriggers(t *testing.T) {
	t.Parallel()
	trig := &countTrigger{}
	l := NewLogout(trig, func(context.Context) error { return errors.New("offline") }, zaptest.NewLogger(t))

	if !l.Do(context.Background(), model.ReasonUnspecified) || trig.n != 1 {
		t.Fatalf("local logout must happen even when revoke fails")
	}
}
