package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
)

// Logging logs every dispatched message: failures at warn with the JSON-RPC
// error code, successes at debug.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (any, error) {
			start := time.Now()
			result, err := next(ctx, method, params)
			elapsed := time.Since(start)

			level, msg := slog.LevelDebug, "request handled"
			attrs := make([]slog.Attr, 0, 5)
			attrs = append(attrs, slog.String("method", method), slog.Duration("duration", elapsed))
			if id := ConnID(ctx); id != "" {
				attrs = append(attrs, slog.String("conn", id))
			}
			if err != nil {
				level, msg = slog.LevelWarn, "request failed"
				attrs = append(attrs, slog.String("error", err.Error()))
				var rpcErr *jsonrpc.Error
				if errors.As(err, &rpcErr) {
					attrs = append(attrs, slog.Int("code", rpcErr.Code))
				}
			}
			logger.LogAttrs(ctx, level, msg, attrs...)
			return result, err
		}
	}
}
