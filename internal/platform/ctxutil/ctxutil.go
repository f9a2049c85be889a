package ctxutil

import (
	"context"
	"strings"
	"time"
)

type requestIDKey struct{}

// MaxRequestIDLen caps correlation ids accepted from callers.
const MaxRequestIDLen = 128

// WithRequestID stores a correlation id on the context. Oversized or empty
// ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxRequestIDLen {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Default attaches a deadline for outbound calls when the caller did not set
// one. The returned cancel must always be called.
func Default(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, 30*time.Second)
}
