package devapi

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingUnary logs one line per call. Failed calls are logged at warn level.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		began := time.Now()
		resp, err := next(ctx, req)

		fields := []zap.Field{
			zap.String("rpc", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("took", time.Since(began)),
		}
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if id := md.Get("x-request-id"); len(id) > 0 {
				fields = append(fields, zap.String("request_id", id[0]))
			}
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			fields = append(fields, zap.Stringer("remote", p.Addr))
		}
		if err != nil {
			log.Warn("rpc failed", fields...)
		} else {
			log.Debug("rpc", fields...)
		}
		return resp, err
	}
}

// RecoverUnary converts a handler panic into codes.Internal.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Error("rpc handler panicked",
				zap.String("rpc", info.FullMethod),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			resp, err = nil, status.Errorf(codes.Internal, "internal error in %s", info.FullMethod)
		}()
		return next(ctx, req)
	}
}

// AuthUnary requires a valid bearer token on every method except those in open.
func AuthUnary(a *Auth, open ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]bool, len(open))
	for _, m := range open {
		skip[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if skip[info.FullMethod] {
			return next(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		tok, ok := bearer(md.Get("authorization")...)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		claims, err := a.Verify(tok)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return next(WithClaims(ctx, claims), req)
	}
}

// NewGRPCServer builds a server exposing the health service behind AuthUnary.
func NewGRPCServer(a *Auth, log *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		AuthUnary(a),
	))
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
