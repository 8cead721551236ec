// Package httpclient implements the request/response interceptor pair as an
// http.RoundTripper, the token refresher it depends on, and a typed client
// that returns api envelopes.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/and161185/pharm-admin/internal/model"
	"github.com/and161185/pharm-admin/internal/transport"
	u "github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Header and query names set on every outbound request.
const (
	HeaderRequestID = "X-Request-ID"
	CacheBustParam  = "_t"

	contentJSON = "application/json"
)

// Tokens is the part of the token store the interceptors use.
type Tokens interface {
	Token(ctx context.Context) (string, bool)
	RefreshToken(ctx context.Context) (string, bool)
	SetToken(ctx context.Context, access, refresh string)
	// Generation and SetTokenAt let a refresh detect a logout that happened while it ran.
	Generation() uint64
	SetTokenAt(ctx context.Context, gen uint64, access, refresh string) bool
}

// Logout receives the refresh-failure broadcast.
type Logout interface {
	Trigger(ctx context.Context, reason model.LogoutReason)
}

// Transport decorates every request and handles a 401 by refreshing once and
// replaying the original request.
type Transport struct {
	// Base performs the actual exchange; nil means http.DefaultTransport.
	Base      http.RoundTripper
	Tokens    Tokens
	Refresher *Refresher
	Logout    Logout
	// Limiter throttles outbound requests when set.
	Limiter *rate.Limiter
	// SkipRefresh lists path suffixes (login, refresh, logout) whose 401s are returned as is.
	SkipRefresh []string
	// AttemptTimeout bounds each exchange with Base separately, so a refresh
	// does not eat into the replay's budget. Zero means no bound.
	AttemptTimeout time.Duration
	Log            *zap.Logger

	now func() time.Time
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *zap.Logger {
	if t.Log != nil {
		return t.Log
	}
	return zap.NewNop()
}

func (t *Transport) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	out, err := t.prepare(req)
	if err != nil {
		return nil, err
	}
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			closeBody(out)
			return nil, err
		}
	}

	start := t.clock()
	resp, err := t.send(out)
	if err != nil {
		return nil, err
	}
	t.logger().Debug("http request",
		zap.String("method", out.Method),
		zap.String("path", out.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", t.clock().Sub(start)),
	)
	if resp.StatusCode != http.StatusUnauthorized || transport.Retried(ctx) || t.skip(out.URL.Path) || t.Refresher == nil {
		return resp, nil
	}

	access, rerr := t.Refresher.Refresh(ctx)
	switch {
	case rerr == nil:
	case ctx.Err() != nil:
		// caller cancellation is not a refresh failure
		t.logger().Debug("refresh abandoned by caller", zap.String("path", out.URL.Path), zap.Error(ctx.Err()))
		return resp, nil
	case errors.Is(rerr, errs.ErrSessionEnded):
		return resp, nil
	default:
		t.logger().Warn("token refresh failed", zap.String("path", out.URL.Path), zap.Error(rerr))
		if t.Logout != nil {
			t.Logout.Trigger(ctx, model.ReasonTokenRefreshFailed)
		}
		return resp, nil
	}

	retry, err := replay(out, access)
	if err != nil {
		return resp, nil
	}
	drain(resp)
	return t.send(retry)
}

// send performs one exchange with Base under AttemptTimeout. The deadline is
// released when the response body is closed.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	if t.AttemptTimeout <= 0 {
		return t.base().RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.AttemptTimeout)
	resp, err := t.base().RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// prepare clones req and attaches the bearer token, request id, content type
// and cache-busting parameter. The body is buffered when it cannot be re-read.
func (t *Transport) prepare(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		out.Body = io.NopCloser(bytes.NewReader(b))
		out.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(b)), nil }
		out.ContentLength = int64(len(b))
	}

	if tok, ok := t.Tokens.Token(req.Context()); ok {
		out.Header.Set("Authorization", "Bearer "+tok)
	}
	if out.Header.Get(HeaderRequestID) == "" {
		if id, err := u.NewV4(); err == nil {
			out.Header.Set(HeaderRequestID, id.String())
		}
	}
	if out.Header.Get("Accept") == "" {
		out.Header.Set("Accept", contentJSON)
	}
	// multipart bodies carry their own boundary from the writer
	if out.Body != nil && out.Body != http.NoBody && out.Header.Get("Content-Type") == "" {
		out.Header.Set("Content-Type", contentJSON)
	}

	q := out.URL.Query()
	q.Set(CacheBustParam, strconv.FormatInt(t.clock().UnixMilli(), 10))
	out.URL.RawQuery = q.Encode()
	return out, nil
}

func (t *Transport) skip(path string) bool {
	for _, p := range t.SkipRefresh {
		if p != "" && strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

// replay rebuilds the already prepared request with a fresh bearer token.
func replay(out *http.Request, access string) (*http.Request, error) {
	r := out.Clone(transport.WithRetried(out.Context()))
	if out.GetBody != nil {
		body, err := out.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	r.Header.Set("Authorization", "Bearer "+access)
	return r, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func closeBody(r *http.Request) {
	if r.Body != nil {
		r.Body.Close()
	}
}
