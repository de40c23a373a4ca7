package wsbridge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
	mw "github.com/gossip-lsp/wsbridge/middleware"
	"github.com/gossip-lsp/wsbridge/protocol"
)

// Lifecycle states of a Server.
const (
	stateNew int32 = iota
	stateInitialized
	stateShutdown
)

var errServed = errors.New("wsbridge: server already served")

// Server is the in-process LSP backend. It holds the handler registry and
// the lifecycle state of exactly one connection, so a fresh Server is made
// for every connection (see ServerBackend).
type Server struct {
	name    string
	version string
	logger  *slog.Logger

	maxMessageSize int
	middlewares    []mw.Middleware

	// set during Serve
	conn   *jsonrpc.Conn
	client *ClientProxy
	served atomic.Bool

	mu            sync.RWMutex
	handlers      map[string]RawHandler
	notifHandlers map[string]RawNotificationHandler

	// populated during initialize
	workspaceFolders []protocol.WorkspaceFolder
	clientInfo       *protocol.ClientInfo
	clientCaps       protocol.ClientCapabilities
	initOptions      jsonrpc.RawMessage
	trace            string

	state atomic.Int32
}

// NewServer creates a server with the given name and version.
func NewServer(name, version string, opts ...Option) *Server {
	s := &Server{
		name:           name,
		version:        version,
		logger:         slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
		maxMessageSize: jsonrpc.DefaultMaxMessageSize,
		handlers:       make(map[string]RawHandler),
		notifHandlers:  make(map[string]RawNotificationHandler),
		trace:          "off",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) OnHover(h HoverHandler) { OnRequest(s, protocol.MethodHover, h) }

func (s *Server) OnDidOpen(h DidOpenHandler) { OnNotification(s, protocol.MethodDidOpen, h) }

func (s *Server) OnDidClose(h DidCloseHandler) { OnNotification(s, protocol.MethodDidClose, h) }

// HandleRequest registers a raw handler for a request method.
func (s *Server) HandleRequest(method string, h RawHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleNotification registers a raw handler for a notification method.
func (s *Server) HandleNotification(method string, h RawNotificationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifHandlers[method] = h
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Conn returns the JSON-RPC connection, or nil before Serve.
func (s *Server) Conn() *jsonrpc.Conn { return s.conn }

// Initialized reports whether initialize has completed and shutdown has not
// been requested.
func (s *Server) Initialized() bool { return s.state.Load() == stateInitialized }

func (s *Server) requestHandler(method string) (RawHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[method]
	return h, ok
}

func (s *Server) notificationHandler(method string) (RawNotificationHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.notifHandlers[method]
	return h, ok
}

// dispatch routes requests. initialize and shutdown are handled here; every
// other method is gated on the lifecycle state.
func (s *Server) dispatch(ctx context.Context, method string, params jsonrpc.RawMessage) (any, error) {
	gctx := newContext(ctx, s)

	switch method {
	case protocol.MethodInitialize:
		return s.handleInitialize(gctx, params)
	case protocol.MethodShutdown:
		return s.handleShutdown(gctx)
	}

	switch s.state.Load() {
	case stateNew:
		return nil, jsonrpc.Errorf(jsonrpc.CodeServerNotInitialized, "server not initialized")
	case stateShutdown:
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidRequest, "server is shutting down")
	}

	if h, ok := s.requestHandler(method); ok {
		return h(gctx, params)
	}
	return nil, jsonrpc.Errorf(jsonrpc.CodeMethodNotFound, "method not found: %s", method)
}

func (s *Server) dispatchNotification(ctx context.Context, method string, params jsonrpc.RawMessage) {
	gctx := newContext(ctx, s)

	switch method {
	case protocol.MethodInitialized:
		gctx.Logger().Info("client initialized")
		return
	case protocol.MethodExit:
		gctx.Logger().Info("received exit notification", "clean", s.state.Load() == stateShutdown)
		if s.conn != nil {
			s.conn.Close()
		}
		return
	case protocol.MethodSetTrace:
		var p protocol.SetTraceParams
		if err := json.Unmarshal(params, &p); err == nil {
			s.mu.Lock()
			s.trace = p.Value
			s.mu.Unlock()
		}
		return
	}

	if s.state.Load() != stateInitialized {
		return
	}

	if h, ok := s.notificationHandler(method); ok {
		h(gctx, params)
		return
	}
	if !strings.HasPrefix(method, "$/") {
		gctx.Logger().Debug("unhandled notification", "method", method)
	}
}

func (s *Server) handleInitialize(ctx *Context, params jsonrpc.RawMessage) (any, error) {
	var p protocol.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "%v", err)
	}
	if !s.state.CompareAndSwap(stateNew, stateInitialized) {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidRequest, "initialize may only be sent once")
	}

	s.mu.Lock()
	s.workspaceFolders = p.WorkspaceFolders
	s.clientInfo = p.ClientInfo
	s.clientCaps = p.Capabilities
	if p.Trace != "" {
		s.trace = p.Trace
	}
	if p.InitializationOptions != nil {
		if raw, err := json.Marshal(p.InitializationOptions); err == nil {
			s.initOptions = raw
		}
	}
	if len(s.workspaceFolders) == 0 && p.RootURI != nil {
		s.workspaceFolders = []protocol.WorkspaceFolder{
			{URI: *p.RootURI, Name: uriBasename(string(*p.RootURI))},
		}
	}
	folders := len(s.workspaceFolders)
	s.mu.Unlock()

	attrs := []any{"name", s.name, "version", s.version, "workspaceFolders", folders}
	if p.ClientInfo != nil {
		attrs = append(attrs, "client", p.ClientInfo.Name)
	}
	ctx.Logger().Info("server initialized", attrs...)

	return &protocol.InitializeResult{
		Capabilities: s.buildCapabilities(),
		ServerInfo:   &protocol.ServerInfo{Name: s.name, Version: s.version},
	}, nil
}

func (s *Server) handleShutdown(ctx *Context) (any, error) {
	switch s.state.Load() {
	case stateNew:
		return nil, jsonrpc.Errorf(jsonrpc.CodeServerNotInitialized, "server not initialized")
	case stateShutdown:
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidRequest, "shutdown already requested")
	}
	s.state.Store(stateShutdown)
	ctx.Logger().Info("server shutting down")
	return nil, nil
}

func uriBasename(uri string) string {
	s := strings.TrimRight(uri, "/")
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
