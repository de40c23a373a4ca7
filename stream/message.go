// Package stream adapts a message-oriented duplex transport, such as a
// WebSocket connection, into a byte stream. Inbound messages are read as one
// continuous sequence of bytes regardless of frame boundaries, and each
// outbound write becomes exactly one binary message.
//
// Every operation comes in two flavours. The Try* methods never block: they
// report ErrWouldBlock and the caller parks on the Ready channel of the
// relevant half until progress is possible. Read, Write, Flush and Close are
// the blocking io.ReadWriteCloser built on top of them.
package stream

import "errors"

var (
	// ErrWouldBlock is returned by non-blocking operations that cannot make
	// progress yet. Retry after the matching Ready channel fires.
	ErrWouldBlock = errors.New("stream: operation would block")

	// ErrShutdown is returned by writes issued after the write half was shut down.
	ErrShutdown = errors.New("stream: write after shutdown")
)

// Kind classifies an inbound message.
type Kind int

const (
	// Text is a UTF-8 text message.
	Text Kind = iota + 1
	// Binary is a binary message.
	Binary
	// Control covers ping, pong and any other non-data frame.
	Control
	// Close is the peer's close frame.
	Close
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Binary:
		return "binary"
	case Control:
		return "control"
	case Close:
		return "close"
	default:
		return "unknown"
	}
}

// Message is one discrete payload received from the transport.
type Message struct {
	Kind Kind
	Data []byte
}

// Payload returns the bytes the message contributes to the stream. Only text
// and binary messages carry data.
func (m Message) Payload() []byte {
	switch m.Kind {
	case Text, Binary:
		return m.Data
	default:
		return nil
	}
}
