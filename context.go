package wsbridge

import (
	"context"
	"log/slog"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
	mw "github.com/gossip-lsp/wsbridge/middleware"
	"github.com/gossip-lsp/wsbridge/protocol"
)

// Context is what handlers receive: the request context plus the client
// proxy and the session of the connection being served.
type Context struct {
	context.Context

	Client *ClientProxy
	server *Server
}

func newContext(ctx context.Context, s *Server) *Context {
	return &Context{Context: ctx, Client: s.client, server: s}
}

// Session is a snapshot of what the client declared during initialize.
type Session struct {
	ConnID       string
	Client       *protocol.ClientInfo
	Folders      []protocol.WorkspaceFolder
	Capabilities protocol.ClientCapabilities
	InitOptions  jsonrpc.RawMessage
	Trace        string
}

// Root is the first workspace folder, or "" when the client sent none.
func (s Session) Root() protocol.DocumentURI {
	if len(s.Folders) == 0 {
		return ""
	}
	return s.Folders[0].URI
}

// Session returns a snapshot of the connection's session. Before initialize
// only ConnID and Trace are set.
func (c *Context) Session() Session {
	srv := c.server
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return Session{
		ConnID:       c.ConnID(),
		Client:       srv.clientInfo,
		Folders:      append([]protocol.WorkspaceFolder(nil), srv.workspaceFolders...),
		Capabilities: srv.clientCaps,
		InitOptions:  srv.initOptions,
		Trace:        srv.trace,
	}
}

// ServerInfo returns the name and version reported to the client.
func (c *Context) ServerInfo() protocol.ServerInfo {
	return protocol.ServerInfo{Name: c.server.name, Version: c.server.version}
}

// ConnID returns the id the supervisor gave this connection, or "".
func (c *Context) ConnID() string {
	return mw.ConnID(c)
}

// Logger returns the server's logger tagged with the connection id.
func (c *Context) Logger() *slog.Logger {
	if id := c.ConnID(); id != "" {
		return c.server.logger.With("conn", id)
	}
	return c.server.logger
}
