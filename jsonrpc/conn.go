// Package jsonrpc implements a bidirectional JSON-RPC 2.0 connection over
// Content-Length framed streams, as specified by the LSP base protocol.
package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"
)

// MethodCancelRequest is handled by Conn itself: it cancels the context of
// the named in-flight request.
const MethodCancelRequest = "$/cancelRequest"

// ErrClosed is returned by Call and Notify once the connection is closed.
var ErrClosed = errors.New("jsonrpc: connection closed")

// Handler processes an incoming JSON-RPC request or notification.
type Handler func(ctx context.Context, method string, params RawMessage) (result any, err error)

// NotificationHandler processes an incoming JSON-RPC notification.
type NotificationHandler func(ctx context.Context, method string, params RawMessage)

// Conn is a bidirectional JSON-RPC 2.0 connection.
//
// Requests are handled concurrently, each on its own goroutine. Notifications
// are handled on the read loop, in arrival order, so a notification handler
// must not wait for a response from the peer.
type Conn struct {
	codec   *Codec
	handler Handler
	notif   NotificationHandler

	pending sync.Map // ID.key() -> chan *Response
	nextID  atomic.Int64

	cmu      sync.Mutex
	inflight map[string]context.CancelFunc
	handlers sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConn creates a new JSON-RPC connection using the given codec, request
// handler, and notification handler. A nil notification handler routes
// notifications to handler and drops the result.
func NewConn(codec *Codec, handler Handler, notif NotificationHandler) *Conn {
	return &Conn{
		codec:    codec,
		handler:  handler,
		notif:    notif,
		inflight: make(map[string]context.CancelFunc),
		done:     make(chan struct{}),
	}
}

// Run reads and dispatches messages until the stream ends, the connection is
// closed, ctx is cancelled or a read fails. A clean end of stream and Close
// return nil. Run waits for in-flight request handlers and then closes the
// connection.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	err := c.readLoop(ctx)
	c.handlers.Wait()
	c.Close()
	return err
}

func (c *Conn) readLoop(ctx context.Context) error {
	for {
		data, err := c.codec.Read()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case c.isClosed(), err == io.EOF:
				return nil
			default:
				return fmt.Errorf("reading message: %w", err)
			}
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			c.send(NewResponse(ID{}, nil, err))
			continue
		}

		switch m := msg.(type) {
		case *Request:
			c.startRequest(ctx, m)
		case *Notification:
			c.handleNotification(ctx, m)
		case *Response:
			c.handleResponse(m)
		}
	}
}

func (c *Conn) startRequest(ctx context.Context, req *Request) {
	rctx, cancel := context.WithCancel(ctx)
	key := req.ID.key()
	c.cmu.Lock()
	c.inflight[key] = cancel
	c.cmu.Unlock()

	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		defer func() {
			c.cmu.Lock()
			delete(c.inflight, key)
			c.cmu.Unlock()
			cancel()
		}()
		c.handleRequest(rctx, req)
	}()
}

func (c *Conn) handleRequest(ctx context.Context, req *Request) {
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = Errorf(CodeInternalError, "panic handling %s: %v", req.Method, r)
			}
		}()
		result, err = c.handler(ctx, req.Method, req.Params)
	}()
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = Errorf(CodeRequestCancelled, "request %s cancelled", req.ID)
	}
	c.send(NewResponse(req.ID, result, err))
}

func (c *Conn) handleNotification(ctx context.Context, n *Notification) {
	if n.Method == MethodCancelRequest {
		var p struct {
			ID ID `json:"id"`
		}
		if err := json.Unmarshal(n.Params, &p); err == nil {
			c.cmu.Lock()
			cancel, ok := c.inflight[p.ID.key()]
			c.cmu.Unlock()
			if ok {
				cancel()
			}
		}
		return
	}

	if c.notif != nil {
		c.notif(ctx, n.Method, n.Params)
	} else if c.handler != nil {
		c.handler(ctx, n.Method, n.Params)
	}
}

func (c *Conn) handleResponse(resp *Response) {
	if ch, ok := c.pending.LoadAndDelete(resp.ID.key()); ok {
		ch.(chan *Response) <- resp
	}
}

func (c *Conn) send(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.codec.Write(data)
}

// Call sends a request and waits for its response.
func (c *Conn) Call(ctx context.Context, method string, params any) (*Response, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	paramsData, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id := IntID(c.nextID.Add(1))

	ch := make(chan *Response, 1)
	c.pending.Store(id.key(), ch)
	defer c.pending.Delete(id.key())

	if err := c.send(&Request{JSONRPC: Version, ID: id, Method: method, Params: paramsData}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if c.isClosed() {
		return ErrClosed
	}
	paramsData, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.send(&Notification{JSONRPC: Version, Method: method, Params: paramsData})
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close terminates the connection and closes the codec's stream, which
// unblocks Run.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.codec.Close()
	})
	return c.closeErr
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func marshalParams(v any) (RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
