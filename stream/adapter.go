package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// Adapter presents a Source and a Sink as one byte stream. A single Adapter
// serves as both the read half and the write half of a connection.
//
// Reads must not run concurrently with other reads, nor writes with other
// writes. A read and a write may run concurrently, and Close may be called
// from any goroutine.
type Adapter struct {
	ctx  context.Context
	src  Source
	sink Sink

	// read half; owned by the single reader
	pending []byte
	eof     bool
	rerr    error

	// write half
	wmu  sync.Mutex
	shut bool

	closeOnce sync.Once
	closeErr  error
	released  chan struct{} // closed as Close starts; wakes readers
	closed    chan struct{} // closed once Close has drained the write half
}

// New wraps src and sink. Blocking operations give up with ctx.Err() once ctx
// is done.
func New(ctx context.Context, src Source, sink Sink) *Adapter {
	return &Adapter{
		ctx:      ctx,
		src:      src,
		sink:     sink,
		released: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// TryRead copies up to len(p) bytes of the stream into p without blocking.
//
// It returns ErrWouldBlock when no data is ready and io.EOF once the inbound
// channel has ended, on every later call too. A zero-length read with a nil
// error means a control frame was consumed; it is not end-of-stream.
func (a *Adapter) TryRead(p []byte) (int, error) {
	// Leftovers from the previous message come before anything new.
	if len(a.pending) > 0 {
		n := copy(p, a.pending)
		a.pending = a.pending[n:]
		if len(a.pending) == 0 {
			a.pending = nil
		}
		return n, nil
	}
	if a.eof {
		return 0, io.EOF
	}
	if a.rerr != nil {
		return 0, a.rerr
	}

	msg, err := a.src.TryNext()
	switch {
	case err == nil:
	case errors.Is(err, ErrWouldBlock):
		return 0, ErrWouldBlock
	case errors.Is(err, io.EOF):
		a.eof = true
		return 0, io.EOF
	default:
		a.rerr = err
		return 0, err
	}

	if msg.Kind == Close {
		a.eof = true
		return 0, io.EOF
	}
	data := msg.Payload()
	n := copy(p, data)
	if n < len(data) {
		a.pending = data[n:]
	}
	return n, nil
}

// TryWrite submits p as exactly one binary message without blocking. Either
// all of p is accepted or nothing is; p is never split across messages.
func (a *Adapter) TryWrite(p []byte) (int, error) {
	a.wmu.Lock()
	defer a.wmu.Unlock()

	if a.shut {
		return 0, ErrShutdown
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := a.sink.TryReady(); err != nil {
		return 0, err
	}
	if err := a.sink.StartSend(bytes.Clone(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// TryFlush reports ErrWouldBlock until every accepted write reached the
// transport.
func (a *Adapter) TryFlush() error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	return a.sink.TryFlush()
}

// TryShutdown shuts the write half down. Once called, every write fails with
// ErrShutdown. It may be polled until it stops returning ErrWouldBlock.
func (a *Adapter) TryShutdown() error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	a.shut = true
	return a.sink.TryClose()
}

// Read implements io.Reader. It blocks until at least one byte is available,
// the stream ends, or the adapter is closed. Zero-length control frames are
// absorbed rather than returned.
func (a *Adapter) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		select {
		case <-a.released:
			return 0, io.EOF
		default:
		}

		ready := a.src.Ready()
		n, err := a.TryRead(p)
		switch {
		case errors.Is(err, ErrWouldBlock):
			if err := a.wait(ready, a.released, io.EOF); err != nil {
				return 0, err
			}
		case n == 0 && err == nil:
		default:
			return n, err
		}
	}
}

// Write implements io.Writer. It blocks until the previous message has been
// handed to the transport, then submits p as one message.
func (a *Adapter) Write(p []byte) (int, error) {
	for {
		ready := a.sink.Ready()
		n, err := a.TryWrite(p)
		if !errors.Is(err, ErrWouldBlock) {
			return n, err
		}
		if err := a.wait(ready, a.closed, ErrShutdown); err != nil {
			return 0, err
		}
	}
}

// Flush blocks until every accepted write reached the transport.
func (a *Adapter) Flush() error {
	for {
		ready := a.sink.Ready()
		err := a.TryFlush()
		if !errors.Is(err, ErrWouldBlock) {
			return err
		}
		if err := a.wait(ready, a.closed, ErrShutdown); err != nil {
			return err
		}
	}
}

// Close releases any reader blocked in Read, which then reports io.EOF, and
// shuts the write half down, waiting for pending writes to drain. Close is
// idempotent and returns the result of the first call.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.released)
		a.closeErr = a.shutdown()
		close(a.closed)
	})
	return a.closeErr
}

func (a *Adapter) shutdown() error {
	for {
		ready := a.sink.Ready()
		err := a.TryShutdown()
		if !errors.Is(err, ErrWouldBlock) {
			return err
		}
		select {
		case <-ready:
		case <-a.ctx.Done():
			return a.ctx.Err()
		}
	}
}

// wait parks until ready fires. It returns onClose if done is closed first
// and the context error if the context ends first.
func (a *Adapter) wait(ready, done <-chan struct{}, onClose error) error {
	select {
	case <-ready:
		return nil
	case <-done:
		return onClose
	case <-a.ctx.Done():
		return a.ctx.Err()
	}
}
