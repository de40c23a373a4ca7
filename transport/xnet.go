package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	"github.com/gossip-lsp/wsbridge/stream"
)

const closeStatusNormal = 1000

var errOrigin = errors.New("request origin not allowed")

// frameCodec receives one whole frame per call and records whether it was
// text or binary. It always sends binary frames.
var frameCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		return v.([]byte), websocket.BinaryFrame, nil
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		m := v.(*stream.Message)
		switch payloadType {
		case websocket.TextFrame:
			m.Kind = stream.Text
		case websocket.BinaryFrame:
			m.Kind = stream.Binary
		default:
			m.Kind = stream.Control
		}
		m.Data = data
		return nil
	},
}

// XNet is a Handshaker built on golang.org/x/net/websocket. That library
// answers pings and close frames internally, so its connections never
// surface control messages.
type XNet struct {
	opts Options
}

// NewXNet returns an XNet handshaker configured by opts.
func NewXNet(opts Options) *XNet {
	return &XNet{opts: opts}
}

// Handshake implements Handshaker. x/net/websocket owns the connection only
// for the duration of its Handler, so the handler parks until the returned
// Conn is closed.
func (x *XNet) Handshake(w http.ResponseWriter, r *http.Request) (Conn, error) {
	connCh := make(chan *xnetConn, 1)
	srv := websocket.Server{
		Handshake: x.handshake,
		Handler: func(ws *websocket.Conn) {
			if x.opts.ReadLimit > 0 {
				ws.MaxPayloadBytes = int(x.opts.ReadLimit)
			}
			c := &xnetConn{ws: ws, opts: x.opts, released: make(chan struct{})}
			connCh <- c
			<-c.released
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeHTTP(w, r)
	}()

	select {
	case c := <-connCh:
		return c, nil
	case <-done:
		// The handler never ran; x/net already wrote the error response.
		return nil, errors.New("websocket: handshake rejected")
	}
}

func (x *XNet) handshake(cfg *websocket.Config, r *http.Request) error {
	if !x.opts.checkOrigin(r) {
		return errOrigin
	}
	offered := cfg.Protocol
	cfg.Protocol = nil
	for _, p := range x.opts.Subprotocols {
		if slices.Contains(offered, p) {
			cfg.Protocol = []string{p}
			break
		}
	}
	return nil
}

type xnetConn struct {
	ws      *websocket.Conn
	opts    Options
	inbox   *stream.Inbox
	closing atomic.Bool
	sent    atomic.Bool // close frame written

	releaseOnce sync.Once
	released    chan struct{}
}

func (c *xnetConn) Subprotocol() string {
	if p := c.ws.Config().Protocol; len(p) == 1 {
		return p[0]
	}
	return ""
}

func (c *xnetConn) Split(ctx context.Context) (stream.Source, stream.Sink) {
	c.inbox = stream.NewInbox(c.opts.QueueLength)
	go c.readLoop(ctx)
	return c.inbox, stream.NewOutbox(stream.MessageWriterFunc(c.writeMessage), c.closeWrite)
}

func (c *xnetConn) readLoop(ctx context.Context) {
	for {
		var m stream.Message
		if err := frameCodec.Receive(c.ws, &m); err != nil {
			if err == io.EOF || c.closing.Load() {
				// x/net does not answer a close frame itself.
				c.sendClose()
				c.inbox.End()
			} else {
				c.inbox.Fail(fmt.Errorf("websocket read: %w", err))
			}
			return
		}
		if err := c.inbox.Push(ctx, m); err != nil {
			return
		}
	}
}

func (c *xnetConn) writeMessage(p []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout())); err != nil {
		return err
	}
	return frameCodec.Send(c.ws, p)
}

func (c *xnetConn) closeWrite() error {
	c.closing.Store(true)
	return c.sendClose()
}

func (c *xnetConn) sendClose() error {
	if !c.sent.CompareAndSwap(false, true) {
		return nil
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout()))
	return c.ws.WriteClose(closeStatusNormal)
}

func (c *xnetConn) Close() error {
	c.closing.Store(true)
	err := c.ws.Close()
	if c.inbox != nil {
		c.inbox.Close()
	}
	c.releaseOnce.Do(func() { close(c.released) })
	return err
}
