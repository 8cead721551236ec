// Package transport holds what the HTTP and gRPC interceptors share.
package transport

import "context"

type retriedKey struct{}

// WithRetried marks ctx so calls made with it never enter the refresh protocol.
func WithRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// Retried reports whether ctx carries the retried marker.
func Retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}
