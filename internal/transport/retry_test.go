package transport

import (
	"context"
	"testing"
)

func TestRetriedMarker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if Retried(ctx) {
		t.Fatalf("fresh context must not be marked")
	}
	if !Retried(WithRetried(ctx)) {
		t.Fatalf("marked context not detected")
	}
	type otherKey struct{}
	if Retried(context.WithValue(ctx, otherKey{}, true)) {
		t.Fatalf("foreign key must not count as marker")
	}
}
