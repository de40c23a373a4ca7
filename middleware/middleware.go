// Package middleware wraps the JSON-RPC dispatch of a bridged connection.
// The same chain sees requests and notifications, so logging, panic
// recovery, connection tagging and metrics cover every message the
// in-process server handles.
package middleware

import (
	"context"
	"slices"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
)

// Handler is the shape every middleware sees. Notifications pass through
// it too and their result is dropped.
type Handler func(ctx context.Context, method string, params jsonrpc.RawMessage) (any, error)

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Chain composes mws so that mws[0] is outermost and runs first.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for _, m := range slices.Backward(mws) {
			next = m(next)
		}
		return next
	}
}

// Requests applies m to a connection's request handler.
func (m Middleware) Requests(h jsonrpc.Handler) jsonrpc.Handler {
	return jsonrpc.Handler(m(Handler(h)))
}

// Notifications applies m to a connection's notification handler.
func (m Middleware) Notifications(h jsonrpc.NotificationHandler) jsonrpc.NotificationHandler {
	wrapped := m(func(ctx context.Context, method string, params jsonrpc.RawMessage) (any, error) {
		h(ctx, method, params)
		return nil, nil
	})
	return func(ctx context.Context, method string, params jsonrpc.RawMessage) {
		wrapped(ctx, method, params)
	}
}
