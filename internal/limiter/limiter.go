// Package limiter locks out repeated failed logins per (username, client).
package limiter

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and the retry-after.
	Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username string, ipHash []byte) error
	// Failure records a failed attempt and reports whether it caused a block.
	Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
}

// HashIP returns a stable hash for an IP string so raw addresses are never kept.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

type entry struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is a sliding-window limiter held in process memory.
type Memory struct {
	mu       sync.Mutex
	m        map[string]*entry
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewMemory blocks a (username, ip) for blockFor after maxFails failures that
// are each less than window apart.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{m: map[string]*entry{}, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

func key(username string, ipHash []byte) string { return username + "\x00" + string(ipHash) }

func (l *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[key(username, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (l *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	l.mu.Lock()
	delete(l.m, key(username, ipHash))
	l.mu.Unlock()
	return nil
}

func (l *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	k := key(username, ipHash)
	e, ok := l.m[k]
	if !ok || now.Sub(e.updatedAt) > l.window {
		e = &entry{}
		l.m[k] = e
	}
	e.fails++
	e.updatedAt = now
	if e.fails >= l.maxFails {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
