package wsbridge

import (
	json "github.com/goccy/go-json"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
	mw "github.com/gossip-lsp/wsbridge/middleware"
	"github.com/gossip-lsp/wsbridge/protocol"
)

// RawHandler processes a JSON-RPC request with raw params. Use HandleRequest
// to register these for methods without a typed helper.
type RawHandler func(ctx *Context, params jsonrpc.RawMessage) (any, error)

// RawNotificationHandler processes a JSON-RPC notification with raw params.
type RawNotificationHandler func(ctx *Context, params jsonrpc.RawMessage)

type HoverHandler func(ctx *Context, params *protocol.HoverParams) (*protocol.Hover, error)
type DidOpenHandler func(ctx *Context, params *protocol.DidOpenTextDocumentParams) error
type DidCloseHandler func(ctx *Context, params *protocol.DidCloseTextDocumentParams) error

// OnRequest registers a typed request handler. Params are decoded into P; a
// decode failure is answered with CodeInvalidParams.
func OnRequest[P, R any](s *Server, method string, h func(ctx *Context, params *P) (R, error)) {
	s.HandleRequest(method, func(ctx *Context, raw jsonrpc.RawMessage) (any, error) {
		p, err := decodeParams[P](raw)
		if err != nil {
			return nil, err
		}
		return h(ctx, p)
	})
}

// OnNotification registers a typed notification handler. Errors and
// undecodable params are logged.
func OnNotification[P any](s *Server, method string, h func(ctx *Context, params *P) error) {
	s.HandleNotification(method, func(ctx *Context, raw jsonrpc.RawMessage) {
		p, err := decodeParams[P](raw)
		if err == nil {
			err = h(ctx, p)
		}
		if err != nil {
			ctx.Logger().Warn("notification handler failed", "method", method, "error", err, "elapsed", mw.TraceElapsed(ctx))
		}
	})
}

func decodeParams[P any](raw jsonrpc.RawMessage) (*P, error) {
	p := new(P)
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "invalid params: %v", err)
	}
	return p, nil
}
