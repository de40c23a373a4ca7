package middleware

import (
	"context"
	"time"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
)

type (
	traceKey  struct{}
	connIDKey struct{}
)

type trace struct {
	method string
	start  time.Time
}

// Tracing records the method being handled and when handling started.
func Tracing() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (any, error) {
			ctx = context.WithValue(ctx, traceKey{}, trace{method: method, start: time.Now()})
			return next(ctx, method, params)
		}
	}
}

// TraceMethod returns the method recorded by Tracing, or "".
func TraceMethod(ctx context.Context) string {
	t, _ := ctx.Value(traceKey{}).(trace)
	return t.method
}

// TraceElapsed reports how long the current message has been in the chain,
// or 0 without Tracing.
func TraceElapsed(ctx context.Context) time.Duration {
	t, ok := ctx.Value(traceKey{}).(trace)
	if !ok {
		return 0
	}
	return time.Since(t.start)
}

// WithConnID tags ctx with the id the supervisor gave the connection.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnID returns the connection id set by WithConnID, or "".
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}
