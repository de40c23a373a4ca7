// Package lsptest provides testing utilities for the bridge. It runs a
// Supervisor on a loopback listener and drives it with a real WebSocket LSP
// client built on independent libraries, so tests exercise the same path a
// browser editor takes.
package lsptest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/gossip-lsp/wsbridge"
	"github.com/gossip-lsp/wsbridge/protocol"
)

// Timeout bounds every call the client makes.
const Timeout = 5 * time.Second

// Start runs a Supervisor for backend on a loopback port and returns its
// WebSocket URL. The supervisor is shut down when the test completes.
func Start(t testing.TB, backend wsbridge.Backend, opts ...wsbridge.SupervisorOption) (url string, sup *wsbridge.Supervisor) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sup = wsbridge.NewSupervisor(backend, opts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Serve(context.Background(), ln)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), Timeout)
		defer cancel()
		if err := sup.Shutdown(ctx); err != nil {
			t.Errorf("supervisor shutdown: %v", err)
		}
		<-done
	})
	return "ws://" + ln.Addr().String() + "/", sup
}

// Client is a test LSP client speaking over a WebSocket.
type Client struct {
	t    testing.TB
	ws   *websocket.Conn
	conn *jsonrpc2.Conn

	// Reply answers server-to-client requests. The default answers null.
	Reply func(method string, params json.RawMessage) (any, error)

	mu            sync.Mutex
	notifications []Notification
	notified      chan struct{}
}

// Notification is a server-to-client notification the client received.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Dial connects a client to url without initializing.
func Dial(t testing.TB, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	ws.SetReadLimit(-1)

	c := &Client{t: t, ws: ws, notified: make(chan struct{}, 1)}
	stream := websocket.NetConn(context.Background(), ws, websocket.MessageBinary)
	c.conn = jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewBufferedStream(stream, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(c.handle),
	)
	t.Cleanup(func() {
		c.conn.Close()
		ws.CloseNow()
	})
	return c
}

// NewClient dials url and performs the initialize handshake.
func NewClient(t testing.TB, url string) *Client {
	t.Helper()
	c := Dial(t, url)
	c.Initialize()
	return c
}

func (c *Client) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	if req.Notif {
		c.mu.Lock()
		c.notifications = append(c.notifications, Notification{Method: req.Method, Params: params})
		c.mu.Unlock()
		select {
		case c.notified <- struct{}{}:
		default:
		}
		return nil, nil
	}
	if c.Reply != nil {
		return c.Reply(req.Method, params)
	}
	return nil, nil
}

// Initialize sends the initialize request and initialized notification.
func (c *Client) Initialize() *protocol.InitializeResult {
	c.t.Helper()
	var result protocol.InitializeResult
	c.MustCall(protocol.MethodInitialize, &protocol.InitializeParams{
		ClientInfo: &protocol.ClientInfo{Name: "lsptest"},
	}, &result)
	c.Notify(protocol.MethodInitialized, &protocol.InitializedParams{})
	return &result
}

// Open sends a textDocument/didOpen notification.
func (c *Client) Open(uri, text string) {
	c.t.Helper()
	c.Notify(protocol.MethodDidOpen, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentURI(uri),
			LanguageID: "plaintext",
			Version:    1,
			Text:       text,
		},
	})
}

// Hover sends a textDocument/hover request.
func (c *Client) Hover(uri string, pos protocol.Position) (*protocol.Hover, error) {
	c.t.Helper()
	var result *protocol.Hover
	err := c.Call(protocol.MethodHover, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
			Position:     pos,
		},
	}, &result)
	return result, err
}

// Shutdown sends the shutdown request and the exit notification.
func (c *Client) Shutdown() {
	c.t.Helper()
	c.MustCall(protocol.MethodShutdown, nil, nil)
	c.Notify(protocol.MethodExit, nil)
}

// Call sends a request. A JSON-RPC error response is returned as a
// *jsonrpc2.Error.
func (c *Client) Call(method string, params, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	if result == nil {
		result = new(json.RawMessage)
	}
	return c.conn.Call(ctx, method, params, result)
}

func (c *Client) MustCall(method string, params, result any) {
	c.t.Helper()
	if err := c.Call(method, params, result); err != nil {
		c.t.Fatalf("call %s failed: %v", method, err)
	}
}

func (c *Client) Notify(method string, params any) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	if err := c.conn.Notify(ctx, method, params); err != nil {
		c.t.Fatalf("notify %s failed: %v", method, err)
	}
}

// WaitForNotification waits until a notification for method has arrived and
// returns the first one.
func (c *Client) WaitForNotification(method string) Notification {
	c.t.Helper()
	deadline := time.After(Timeout)
	for {
		c.mu.Lock()
		for _, n := range c.notifications {
			if n.Method == method {
				c.mu.Unlock()
				return n
			}
		}
		c.mu.Unlock()
		select {
		case <-c.notified:
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", method)
			return Notification{}
		}
	}
}

// Disconnected is closed once the server has closed the connection.
func (c *Client) Disconnected() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

// WaitDisconnected fails the test unless the server closes the connection
// within Timeout.
func (c *Client) WaitDisconnected() {
	c.t.Helper()
	select {
	case <-c.Disconnected():
	case <-time.After(Timeout):
		c.t.Fatal("server did not close the connection")
	}
}

// Close closes the WebSocket with a normal close frame.
func (c *Client) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	if err != nil {
		return fmt.Errorf("closing websocket: %w", err)
	}
	return nil
}
