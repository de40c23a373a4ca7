package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Push once the consumer has closed the Inbox.
var ErrClosed = errors.New("stream: inbox closed")

// Inbox is a Source fed by a producer goroutine, typically a loop reading
// frames off a connection. It buffers at most limit messages, so the producer
// only reads ahead of the consumer by that much.
type Inbox struct {
	mu     sync.Mutex
	queue  []Message
	limit  int
	err    error // io.EOF or the terminal transport error
	closed bool

	readable signal
	writable signal
}

// NewInbox returns an Inbox holding up to limit undelivered messages. A limit
// below one is treated as one.
func NewInbox(limit int) *Inbox {
	if limit < 1 {
		limit = 1
	}
	return &Inbox{limit: limit}
}

// TryNext implements Source. Queued messages are delivered before a terminal
// error or end-of-channel.
func (b *Inbox) TryNext() (Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) > 0 {
		m := b.queue[0]
		b.queue[0] = Message{}
		b.queue = b.queue[1:]
		b.writable.broadcast()
		return m, nil
	}
	if b.err != nil {
		return Message{}, b.err
	}
	if b.closed {
		return Message{}, io.EOF
	}
	return Message{}, ErrWouldBlock
}

// Ready implements Source.
func (b *Inbox) Ready() <-chan struct{} {
	return b.readable.wait()
}

// Push queues m for the consumer, blocking while the Inbox is full. It fails
// with ErrClosed once the Inbox is closed or has ended.
func (b *Inbox) Push(ctx context.Context, m Message) error {
	for {
		ready := b.writable.wait()

		b.mu.Lock()
		if b.closed || b.err != nil {
			b.mu.Unlock()
			return ErrClosed
		}
		if len(b.queue) < b.limit {
			b.queue = append(b.queue, m)
			b.mu.Unlock()
			b.readable.broadcast()
			return nil
		}
		b.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// End marks the end of the channel. The consumer sees io.EOF after draining
// any queued messages.
func (b *Inbox) End() {
	b.finish(io.EOF)
}

// Fail terminates the channel with err after any queued messages. Only the
// first of End and Fail takes effect.
func (b *Inbox) Fail(err error) {
	if err == nil {
		err = io.EOF
	}
	b.finish(err)
}

func (b *Inbox) finish(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.readable.broadcast()
	b.writable.broadcast()
}

// Close discards queued messages and releases a producer blocked in Push.
// The consumer sees end-of-channel unless a terminal error was already set.
func (b *Inbox) Close() {
	b.mu.Lock()
	b.closed = true
	b.queue = nil
	b.mu.Unlock()
	b.readable.broadcast()
	b.writable.broadcast()
}
