package session

import (
	"context"
	"sync/atomic"

	"github.com/and161185/pharm-admin/internal/model"
	"go.uber.org/zap"
)

// State of a Logout.
type State int32

const (
	Idle State = iota
	LoggingOut
)

func (s State) String() string {
	if s == LoggingOut {
		return "logging_out"
	}
	return "idle"
}

// RevokeFunc tells the backend the session is over (best effort).
type RevokeFunc func(ctx context.Context) error

// Logout runs a user-initiated logout once at a time: calls made while one
// is in flight are no-ops.
type Logout struct {
	trigger Trigger
	revoke  RevokeFunc
	log     *zap.Logger

	state atomic.Int32
}

// NewLogout constructs a logout driver. revoke may be nil.
func NewLogout(trigger Trigger, revoke RevokeFunc, log *zap.Logger) *Logout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logout{trigger: trigger, revoke: revoke, log: log}
}

// State returns the current state.
func (l *Logout) State() State { return State(l.state.Load()) }

// Do revokes the session server-side, then triggers the broadcast.
// It reports false when another logout was already in progress.
func (l *Logout) Do(ctx context.Context, reason model.LogoutReason) bool {
	if !l.state.CompareAndSwap(int32(Idle), int32(LoggingOut)) {
		l.log.Debug("logout already in progress")
		return false
	}
	defer l.state.Store(int32(Idle))

	if l.revoke != nil {
		if err := l.revoke(ctx); err != nil {
			// local teardown happens regardless
			l.log.Warn("revoke session", zap.Error(err))
		}
	}
	l.trigger.Trigger(ctx, reason)
	return true
}
