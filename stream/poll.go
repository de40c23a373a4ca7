package stream

import "sync"

// Source is the inbound half of a transport: a lazily produced sequence of
// messages terminated by end-of-channel or an error.
//
// Ready must be obtained before calling TryNext. A state change that happens
// between the two calls then still wakes the caller.
type Source interface {
	// TryNext returns the next message without blocking. It returns
	// ErrWouldBlock when nothing is ready and io.EOF once the channel has
	// ended, on every call after that.
	TryNext() (Message, error)

	// Ready returns a channel that is closed on the next state change that
	// may let TryNext make progress.
	Ready() <-chan struct{}
}

// Sink is the outbound half of a transport. It accepts one payload at a time;
// a payload must be handed to the transport before the next is accepted.
//
// As with Source, Ready must be obtained before the Try* call it guards.
type Sink interface {
	// TryReady reports whether a new payload can be accepted.
	TryReady() error

	// StartSend submits a payload. It must only follow a nil TryReady.
	StartSend(payload []byte) error

	// TryFlush completes once every submitted payload reached the transport.
	TryFlush() error

	// TryClose flushes and then closes the transport's write side.
	TryClose() error

	// Ready returns a channel that is closed on the next state change that
	// may let a pending Try* call complete.
	Ready() <-chan struct{}
}

// signal is a broadcast readiness notification. Every waiter holding the
// channel returned by wait is released by the next broadcast.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

func (s *signal) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}
