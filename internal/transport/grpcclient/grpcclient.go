// Package grpcclient applies the bearer/refresh interceptor pair to gRPC calls.
package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"

	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/and161185/pharm-admin/internal/model"
	"github.com/and161185/pharm-admin/internal/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Tokens yields the live access token.
type Tokens interface {
	Token(ctx context.Context) (string, bool)
}

// Refresher obtains and persists a new access token.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Logout receives the refresh-failure broadcast.
type Logout interface {
	Trigger(ctx context.Context, reason model.LogoutReason)
}

// Credentials attaches the current token to every RPC. The store is read per
// call so a replay after refresh carries the new token.
type Credentials struct {
	Tokens Tokens
	// Secure must be true unless the connection is plaintext (local dev).
	Secure bool
}

func (c Credentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	tok, ok := c.Tokens.Token(ctx)
	if !ok {
		return map[string]string{}, nil
	}
	return map[string]string{"authorization": "Bearer " + tok}, nil
}

func (c Credentials) RequireTransportSecurity() bool { return c.Secure }

// RefreshUnary retries a call once after a successful refresh when the server
// answers Unauthenticated. When refresh fails the logout is broadcast and the
// original error returned. A caller that gives up during the refresh, or a
// session cleared meanwhile, gets the original error without a broadcast.
func RefreshUnary(r Refresher, logout Logout, log *zap.Logger) grpc.UnaryClientInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated || transport.Retried(ctx) {
			return err
		}
		if _, rerr := r.Refresh(ctx); rerr != nil {
			if ctx.Err() != nil || errors.Is(rerr, errs.ErrSessionEnded) {
				return err
			}
			log.Warn("token refresh failed", zap.String("method", method), zap.Error(rerr))
			if logout != nil {
				logout.Trigger(ctx, model.ReasonTokenRefreshFailed)
			}
			return err
		}
		return invoker(transport.WithRetried(ctx), method, req, reply, cc, opts...)
	}
}

// TLS selects transport credentials: plaintext, TLS skipping verification,
// system roots, or a custom CA bundle.
func TLS(caPath string, plaintext, skipVerify bool) (credentials.TransportCredentials, error) {
	switch {
	case plaintext:
		return insecure.NewCredentials(), nil
	case skipVerify:
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev only
	case caPath == "":
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// Dial opens a client connection with the interceptor pair installed.
func Dial(addr string, tc credentials.TransportCredentials, tokens Tokens, r Refresher, logout Logout, log *zap.Logger, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	secure := tc.Info().SecurityProtocol != "insecure"
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(tc),
		grpc.WithPerRPCCredentials(Credentials{Tokens: tokens, Secure: secure}),
		grpc.WithUnaryInterceptor(RefreshUnary(r, logout, log)),
	}
	return grpc.NewClient(addr, append(base, opts...)...)
}
