package transport

import (
	"context"

	"github.com/gossip-lsp/wsbridge/stream"
)

// MessagePipe returns an in-memory Conn and the Peer playing the client at
// its other end. It behaves like a WebSocket connection without a network.
func MessagePipe(queueLength int) (Conn, *Peer) {
	in := stream.NewInbox(queueLength)
	out := stream.NewInbox(queueLength)
	return &memoryConn{in: in, out: out}, &Peer{send: in, recv: out}
}

type memoryConn struct {
	in  *stream.Inbox // peer to conn
	out *stream.Inbox // conn to peer
}

func (c *memoryConn) Subprotocol() string { return "" }

func (c *memoryConn) Split(ctx context.Context) (stream.Source, stream.Sink) {
	send := func(p []byte) error {
		return c.out.Push(ctx, stream.Message{Kind: stream.Binary, Data: p})
	}
	closeFn := func() error {
		c.out.End()
		return nil
	}
	return c.in, stream.NewOutbox(stream.MessageWriterFunc(send), closeFn)
}

func (c *memoryConn) Close() error {
	c.in.Close()
	c.out.End()
	return nil
}

// Peer is the client end of a MessagePipe.
type Peer struct {
	send *stream.Inbox
	recv *stream.Inbox
}

// Send delivers m to the connection, blocking while its queue is full.
func (p *Peer) Send(ctx context.Context, m stream.Message) error {
	return p.send.Push(ctx, m)
}

// Recv returns the next message the connection wrote. It returns io.EOF once
// the connection has shut down its write side.
func (p *Peer) Recv(ctx context.Context) (stream.Message, error) {
	for {
		ready := p.recv.Ready()
		m, err := p.recv.TryNext()
		if err != stream.ErrWouldBlock {
			return m, err
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return stream.Message{}, ctx.Err()
		}
	}
}

// CloseSend ends the stream the connection reads, like a close frame.
func (p *Peer) CloseSend() { p.send.End() }

// Fail terminates the stream the connection reads with err, like a broken
// network connection.
func (p *Peer) Fail(err error) { p.send.Fail(err) }
