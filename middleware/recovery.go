package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
)

// Recovery contains a panic in the in-process server to the message that
// caused it. The client gets CodeInternalError and the connection stays up.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (result any, err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				logger.LogAttrs(ctx, slog.LevelError, "panic in lsp handler",
					slog.String("method", method),
					slog.String("conn", ConnID(ctx)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				result, err = nil, jsonrpc.Errorf(jsonrpc.CodeInternalError, "%s: handler panicked", method)
			}()
			return next(ctx, method, params)
		}
	}
}
