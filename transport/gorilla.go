package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gossip-lsp/wsbridge/stream"
)

// Gorilla is the default Handshaker, built on github.com/gorilla/websocket.
// Ping and pong frames are surfaced to the stream as control messages; pings
// are still answered with a pong.
type Gorilla struct {
	opts     Options
	upgrader websocket.Upgrader
}

// NewGorilla returns a Gorilla handshaker configured by opts.
func NewGorilla(opts Options) *Gorilla {
	return &Gorilla{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			Subprotocols:    opts.Subprotocols,
			CheckOrigin:     opts.checkOrigin,
		},
	}
}

// Handshake implements Handshaker.
func (g *Gorilla) Handshake(w http.ResponseWriter, r *http.Request) (Conn, error) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if g.opts.ReadLimit > 0 {
		ws.SetReadLimit(g.opts.ReadLimit)
	}
	return &gorillaConn{ws: ws, opts: g.opts}, nil
}

type gorillaConn struct {
	ws      *websocket.Conn
	opts    Options
	inbox   *stream.Inbox
	closing atomic.Bool
}

func (c *gorillaConn) Subprotocol() string { return c.ws.Subprotocol() }

func (c *gorillaConn) Split(ctx context.Context) (stream.Source, stream.Sink) {
	c.inbox = stream.NewInbox(c.opts.QueueLength)

	// A failed push means the connection is going away: the handler's error
	// ends ReadMessage and with it the read loop.
	c.ws.SetPingHandler(func(data string) error {
		if err := c.pushControl(ctx, data); err != nil {
			return err
		}
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), c.deadline())
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) {
			return nil
		}
		return err
	})
	c.ws.SetPongHandler(func(data string) error {
		return c.pushControl(ctx, data)
	})

	go c.readLoop(ctx)
	return c.inbox, stream.NewOutbox(stream.MessageWriterFunc(c.writeMessage), c.closeWrite)
}

func (c *gorillaConn) pushControl(ctx context.Context, data string) error {
	return c.inbox.Push(ctx, stream.Message{Kind: stream.Control, Data: []byte(data)})
}

func (c *gorillaConn) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		kind := stream.Binary
		if typ == websocket.TextMessage {
			kind = stream.Text
		}
		if err := c.inbox.Push(ctx, stream.Message{Kind: kind, Data: data}); err != nil {
			return
		}
	}
}

// finish ends the inbound channel. A close frame from the peer, or any read
// error after we started closing, is a clean end of stream.
func (c *gorillaConn) finish(err error) {
	if c.closing.Load() || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		c.inbox.End()
		return
	}
	c.inbox.Fail(fmt.Errorf("websocket read: %w", err))
}

func (c *gorillaConn) writeMessage(p []byte) error {
	if err := c.ws.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, p)
}

// closeWrite sends a normal closure frame. The peer's reply ends the read
// loop.
func (c *gorillaConn) closeWrite() error {
	c.closing.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.ws.WriteControl(websocket.CloseMessage, msg, c.deadline())
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *gorillaConn) deadline() time.Time {
	return time.Now().Add(c.opts.writeTimeout())
}

func (c *gorillaConn) Close() error {
	c.closing.Store(true)
	err := c.ws.Close()
	if c.inbox != nil {
		c.inbox.Close()
	}
	return err
}
