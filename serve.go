package wsbridge

import (
	"context"
	"fmt"
	"io"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
	mw "github.com/gossip-lsp/wsbridge/middleware"
)

// Serve binds s to a fresh JSON-RPC connection over rwc and runs it until
// the stream ends, the client sends exit, or ctx is cancelled. A clean end
// of stream returns nil. A Server can be served only once.
func Serve(ctx context.Context, s *Server, rwc io.ReadWriteCloser) error {
	if !s.served.CompareAndSwap(false, true) {
		return errServed
	}

	codec := jsonrpc.NewStreamCodec(rwc)
	if s.maxMessageSize > 0 {
		codec.SetMaxMessageSize(s.maxMessageSize)
	}

	handler := jsonrpc.Handler(s.dispatch)
	notifHandler := jsonrpc.NotificationHandler(s.dispatchNotification)
	if len(s.middlewares) > 0 {
		chain := mw.Chain(s.middlewares...)
		handler = chain.Requests(handler)
		notifHandler = chain.Notifications(notifHandler)
	}

	conn := jsonrpc.NewConn(codec, handler, notifHandler)
	s.conn = conn
	s.client = newClientProxy(conn, func() string {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.trace
	})

	logger := s.logger
	if id := mw.ConnID(ctx); id != "" {
		logger = logger.With("conn", id)
	}
	logger.Debug("lsp session starting", "name", s.name, "version", s.version)

	if err := conn.Run(ctx); err != nil {
		return fmt.Errorf("lsp session: %w", err)
	}
	return nil
}
