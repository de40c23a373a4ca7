// Package transport turns raw network connections into message transports
// for the stream adapter. A Handshaker upgrades an HTTP request to a
// WebSocket Conn, and a Conn splits into a stream.Source and stream.Sink.
//
// Two WebSocket implementations are provided: Gorilla (the default, built on
// github.com/gorilla/websocket) and XNet (golang.org/x/net/websocket). The
// package also provides listeners for TCP and Unix domain sockets, an
// in-memory message transport for tests and a child process stdio transport.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gossip-lsp/wsbridge/stream"
)

// Transport provides a bidirectional byte stream for JSON-RPC communication.
// A *stream.Adapter is a Transport, as is the stdio of a child process.
type Transport interface {
	io.ReadWriteCloser
}

var _ Transport = (*stream.Adapter)(nil)

// ErrHandshake wraps every failure to establish a WebSocket connection.
var ErrHandshake = errors.New("transport: websocket handshake failed")

// Conn is an established WebSocket connection.
type Conn interface {
	// Split starts the connection's read loop and returns its inbound and
	// outbound halves. It must be called at most once. The read loop stops
	// when ctx is cancelled or the connection is closed.
	Split(ctx context.Context) (stream.Source, stream.Sink)

	// Subprotocol returns the negotiated subprotocol, if any.
	Subprotocol() string

	// Close tears down the underlying network connection.
	Close() error
}

// Handshaker performs the server side of the WebSocket opening handshake.
// On failure it has already written an HTTP error response to w.
type Handshaker interface {
	Handshake(w http.ResponseWriter, r *http.Request) (Conn, error)
}

// Options configures a Handshaker and the connections it produces.
type Options struct {
	// ReadBufferSize and WriteBufferSize size the I/O buffers. Zero selects
	// the library default.
	ReadBufferSize  int
	WriteBufferSize int

	// ReadLimit caps the size of one inbound message. Zero means no limit
	// beyond the library default.
	ReadLimit int64

	// WriteTimeout bounds every frame write. Zero selects DefaultWriteTimeout.
	WriteTimeout time.Duration

	// QueueLength is the number of inbound messages read ahead of the
	// consumer. Values below one are treated as one.
	QueueLength int

	// Subprotocols lists the subprotocols offered to clients, in order of
	// preference.
	Subprotocols []string

	// CheckOrigin reports whether the request's Origin is acceptable. A nil
	// CheckOrigin accepts every request.
	CheckOrigin func(r *http.Request) bool
}

// DefaultWriteTimeout bounds frame writes when Options.WriteTimeout is zero.
const DefaultWriteTimeout = 10 * time.Second

func (o Options) writeTimeout() time.Duration {
	if o.WriteTimeout > 0 {
		return o.WriteTimeout
	}
	return DefaultWriteTimeout
}

func (o Options) checkOrigin(r *http.Request) bool {
	if o.CheckOrigin == nil {
		return true
	}
	return o.CheckOrigin(r)
}

// New returns the Handshaker registered under name: "gorilla" (or empty) or
// "xnet".
func New(name string, opts Options) (Handshaker, error) {
	switch name {
	case "", "gorilla":
		return NewGorilla(opts), nil
	case "xnet":
		return NewXNet(opts), nil
	default:
		return nil, errors.New("transport: unknown websocket library " + name)
	}
}
