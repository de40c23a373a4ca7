package stream

import "sync"

// MessageWriter writes one complete binary message to a transport.
type MessageWriter interface {
	WriteMessage(data []byte) error
}

// MessageWriterFunc adapts a function to MessageWriter.
type MessageWriterFunc func(data []byte) error

// WriteMessage calls f(data).
func (f MessageWriterFunc) WriteMessage(data []byte) error { return f(data) }

// Outbox is a Sink that hands payloads to a MessageWriter on its own
// goroutine. One payload is in flight at a time; the first write error is
// sticky and fails every later operation.
type Outbox struct {
	w       MessageWriter
	closeFn func() error

	mu        sync.Mutex
	inflight  bool
	err       error
	closing   bool
	closed    bool
	closeDone bool
	closeErr  error

	queue chan []byte
	ready signal
}

// NewOutbox starts an Outbox writing through w. closeFn, which may be nil,
// runs once on the writer goroutine when the Outbox is closed, after the
// last payload was written.
func NewOutbox(w MessageWriter, closeFn func() error) *Outbox {
	o := &Outbox{
		w:       w,
		closeFn: closeFn,
		queue:   make(chan []byte, 1),
	}
	go o.run()
	return o
}

func (o *Outbox) run() {
	for p := range o.queue {
		err := o.w.WriteMessage(p)

		o.mu.Lock()
		o.inflight = false
		if err != nil && o.err == nil {
			o.err = err
		}
		o.mu.Unlock()
		o.ready.broadcast()
	}

	// The queue is closed and drained: close the transport's write side.
	var err error
	if o.closeFn != nil {
		err = o.closeFn()
	}
	o.mu.Lock()
	o.closeDone = true
	o.closeErr = err
	o.mu.Unlock()
	o.ready.broadcast()
}

// TryReady implements Sink.
func (o *Outbox) TryReady() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.acceptLocked()
}

func (o *Outbox) acceptLocked() error {
	switch {
	case o.closing:
		return ErrShutdown
	case o.err != nil:
		return o.err
	case o.inflight:
		return ErrWouldBlock
	}
	return nil
}

// StartSend implements Sink.
func (o *Outbox) StartSend(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.acceptLocked(); err != nil {
		return err
	}
	o.inflight = true
	// The writer goroutine has already taken the previous payload, so the
	// one-slot queue is empty.
	o.queue <- payload
	return nil
}

// TryFlush implements Sink.
func (o *Outbox) TryFlush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	if o.inflight {
		return ErrWouldBlock
	}
	return nil
}

// TryClose implements Sink. The first call stops accepting payloads; the
// writer goroutine then finishes the in-flight payload and runs the close
// func exactly once. TryClose reports ErrWouldBlock until that is done and
// the same result on every later call.
func (o *Outbox) TryClose() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closing = true
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	if !o.closeDone {
		return ErrWouldBlock
	}
	return o.resultLocked()
}

func (o *Outbox) resultLocked() error {
	if o.err != nil {
		return o.err
	}
	return o.closeErr
}

// Ready implements Sink.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready.wait()
}
