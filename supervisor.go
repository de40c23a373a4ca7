package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	mw "github.com/gossip-lsp/wsbridge/middleware"
	"github.com/gossip-lsp/wsbridge/stream"
	"github.com/gossip-lsp/wsbridge/transport"
)

// ErrSupervisorClosed is returned by Serve after Shutdown.
var ErrSupervisorClosed = errors.New("wsbridge: supervisor closed")

// DefaultHandshakeTimeout bounds the HTTP upgrade of a new connection.
const DefaultHandshakeTimeout = 10 * time.Second

// Supervisor accepts raw connections, upgrades them to WebSocket and serves
// each one with its Backend on its own goroutine. Connections share nothing
// but the logger and the metrics.
type Supervisor struct {
	backend          Backend
	handshaker       transport.Handshaker
	handshakeTimeout time.Duration
	logger           *slog.Logger
	metrics          *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
	wg         sync.WaitGroup
}

// NewSupervisor creates a supervisor serving every connection with backend.
// Without options it uses the gorilla handshaker and unregistered metrics.
func NewSupervisor(backend Backend, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		backend:          backend,
		handshakeTimeout: DefaultHandshakeTimeout,
		logger:           slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
		listeners:        make(map[net.Listener]struct{}),
		conns:            make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.handshaker == nil {
		s.handshaker = transport.NewGorilla(transport.Options{})
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Serve accepts connections from ln until ctx ends, ln is closed or Shutdown
// is called. A failing connection never stops the loop. Serve closes ln
// before returning. Cancelling ctx also cancels the connections it started.
func (s *Supervisor) Serve(ctx context.Context, ln net.Listener) error {
	if s.inShutdown.Load() {
		ln.Close()
		return ErrSupervisorClosed
	}
	s.track(ln, true)
	defer s.track(ln, false)
	defer ln.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopShutdown := context.AfterFunc(s.ctx, cancel)
	defer stopShutdown()
	stopListener := context.AfterFunc(ctx, func() { ln.Close() })
	defer stopListener()

	s.logger.Info("supervisor listening", "addr", ln.Addr().String())

	var delay time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrSupervisorClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(delay*2, time.Second)
			}
			s.logger.Warn("accept failed, retrying", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0

		if !s.startConn() {
			raw.Close()
			return ErrSupervisorClosed
		}
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, raw)
		}()
	}
}

// ServeConn serves one raw connection: handshake, adapter, backend, close.
// It returns when the connection is done and always closes raw.
func (s *Supervisor) ServeConn(ctx context.Context, raw net.Conn) {
	id := uuid.NewString()
	ctx = mw.WithConnID(ctx, id)
	logger := s.logger.With("conn", id, "remote", raw.RemoteAddr().String())

	s.metrics.Accepted.Inc()
	s.trackConn(raw, true)
	defer s.trackConn(raw, false)
	defer func() {
		if r := recover(); r != nil {
			s.metrics.Errors.Inc()
			logger.Error("panic in connection task",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
		raw.Close()
	}()

	ws, err := transport.Accept(raw, s.handshaker, s.handshakeTimeout)
	if err != nil {
		s.metrics.HandshakeFailures.Inc()
		logger.Warn("websocket handshake failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	s.metrics.Active.Inc()
	defer func() {
		s.metrics.Active.Dec()
		s.metrics.Duration.Observe(time.Since(start).Seconds())
	}()
	logger.Info("connection opened", "subprotocol", ws.Subprotocol())

	src, sink := ws.Split(ctx)
	adapter := stream.New(ctx, src, sink)

	err = s.runBackend(ctx, adapter, logger)
	closeErr := multierr.Combine(adapter.Close(), ws.Close())

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("connection closed", "duration", time.Since(start))
	default:
		s.metrics.Errors.Inc()
		logger.Warn("connection ended with error", "error", err, "duration", time.Since(start))
	}
	if closeErr != nil && ctx.Err() == nil {
		logger.Debug("closing connection", "error", closeErr)
	}
}

// runBackend hands the stream to the backend. A panic is logged and returned
// as an error so the connection is still torn down.
func (s *Supervisor) runBackend(ctx context.Context, rwc io.ReadWriteCloser, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in connection task",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return s.backend.ServeStream(ctx, rwc)
}

// Shutdown stops accepting, cancels the connections started by Serve and
// waits for them to finish or for ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.inShutdown.Store(true)
	for ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	s.cancel()

	// Handshakes block on the raw socket, not on a context.
	s.mu.Lock()
	for c := range s.conns {
		c.SetDeadline(time.Now())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startConn registers a connection task with the WaitGroup unless Shutdown
// has begun. Both happen under mu, so no Add can race Shutdown's Wait.
func (s *Supervisor) startConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inShutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Supervisor) track(ln net.Listener, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
}

func (s *Supervisor) trackConn(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}
