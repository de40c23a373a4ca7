package wsbridge_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime/pprof"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gossip-lsp/wsbridge"
	"github.com/gossip-lsp/wsbridge/jsonrpc"
	mw "github.com/gossip-lsp/wsbridge/middleware"
	"github.com/gossip-lsp/wsbridge/lsptest"
	"github.com/gossip-lsp/wsbridge/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stub() *wsbridge.Server {
	return wsbridge.NewServer("stub", "0.1.0", wsbridge.WithLogger(quietLogger()))
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectionsAreIsolated(t *testing.T) {
	url, _ := lsptest.Start(t, wsbridge.ServerBackend(stub), wsbridge.WithSupervisorLogger(quietLogger()))

	first := lsptest.NewClient(t, url)
	second := lsptest.Dial(t, url)

	// The first connection's initialize does not leak into the second.
	err := second.Call(protocol.MethodHover, &protocol.HoverParams{}, nil)
	lsptest.AssertErrorCode(t, err, jsonrpc.CodeServerNotInitialized)

	// Ending one connection leaves the other untouched.
	first.Shutdown()
	first.WaitDisconnected()
	second.Initialize()
	err = second.Call(protocol.MethodHover, &protocol.HoverParams{}, nil)
	lsptest.AssertErrorCode(t, err, jsonrpc.CodeMethodNotFound)
}

func TestHandshakeFailureKeepsAccepting(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := wsbridge.NewMetrics(reg)
	url, _ := lsptest.Start(t, wsbridge.ServerBackend(stub),
		wsbridge.WithSupervisorLogger(quietLogger()),
		wsbridge.WithMetrics(metrics),
	)

	raw, err := net.Dial("tcp", strings.TrimSuffix(strings.TrimPrefix(url, "ws://"), "/"))
	if err != nil {
		t.Fatal(err)
	}
	raw.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	reply, _ := io.ReadAll(raw)
	raw.Close()
	if !bytes.HasPrefix(reply, []byte("HTTP/1.1 400")) {
		t.Errorf("plain HTTP got %q, want a 400", reply)
	}

	c := lsptest.NewClient(t, url)
	if err := c.Call(protocol.MethodHover, &protocol.HoverParams{}, nil); err == nil {
		t.Error("hover without a handler succeeded")
	}

	eventually(t, func() bool { return testutil.ToFloat64(metrics.HandshakeFailures) == 1 })
	if got := testutil.ToFloat64(metrics.Accepted); got != 2 {
		t.Errorf("accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.Active); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
}

func TestBackendPanicIsContained(t *testing.T) {
	metrics := wsbridge.NewMetrics(nil)
	var calls atomic.Int32
	backend := wsbridge.BackendFunc(func(ctx context.Context, rwc io.ReadWriteCloser) error {
		if calls.Add(1) == 1 {
			panic("backend bug")
		}
		return wsbridge.Serve(ctx, stub(), rwc)
	})
	url, _ := lsptest.Start(t, backend, wsbridge.WithSupervisorLogger(quietLogger()), wsbridge.WithMetrics(metrics))

	broken := lsptest.Dial(t, url)
	broken.WaitDisconnected()

	lsptest.NewClient(t, url)
	eventually(t, func() bool { return testutil.ToFloat64(metrics.Errors) == 1 })
}

// writerGoroutines counts live Outbox writer goroutines.
func writerGoroutines(t *testing.T) int {
	t.Helper()
	var buf bytes.Buffer
	if err := pprof.Lookup("goroutine").WriteTo(&buf, 2); err != nil {
		t.Fatal(err)
	}
	return strings.Count(buf.String(), "stream.(*Outbox).run(")
}

func TestBackendPanicTearsDownConnection(t *testing.T) {
	backend := wsbridge.BackendFunc(func(context.Context, io.ReadWriteCloser) error {
		panic("backend bug")
	})
	url, _ := lsptest.Start(t, backend, wsbridge.WithSupervisorLogger(quietLogger()))

	before := writerGoroutines(t)
	for range 5 {
		lsptest.Dial(t, url).WaitDisconnected()
	}
	eventually(t, func() bool { return writerGoroutines(t) <= before })
}

func TestConnIDReachesBackend(t *testing.T) {
	ids := make(chan string, 1)
	backend := wsbridge.BackendFunc(func(ctx context.Context, rwc io.ReadWriteCloser) error {
		ids <- mw.ConnID(ctx)
		return nil
	})
	url, _ := lsptest.Start(t, backend, wsbridge.WithSupervisorLogger(quietLogger()))
	lsptest.Dial(t, url)

	select {
	case id := <-ids:
		if len(id) != 36 {
			t.Errorf("conn id %q is not a UUID", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("backend never ran")
	}
}

func TestShutdownCancelsConnections(t *testing.T) {
	started := make(chan struct{})
	backend := wsbridge.BackendFunc(func(ctx context.Context, rwc io.ReadWriteCloser) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	sup := wsbridge.NewSupervisor(backend, wsbridge.WithSupervisorLogger(quietLogger()))
	served := make(chan error, 1)
	go func() { served <- sup.Serve(context.Background(), ln) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+ln.Addr().String()+"/", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.CloseNow()
	<-started

	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-served; !errors.Is(err, wsbridge.ErrSupervisorClosed) {
		t.Errorf("Serve = %v, want ErrSupervisorClosed", err)
	}
	if err := sup.Serve(context.Background(), ln); !errors.Is(err, wsbridge.ErrSupervisorClosed) {
		t.Errorf("Serve after Shutdown = %v", err)
	}
}

func TestServeEndsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	sup := wsbridge.NewSupervisor(wsbridge.ServerBackend(stub), wsbridge.WithSupervisorLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- sup.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-served:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve ignored cancellation")
	}
}

// lateListener hands out connections only when told to and ignores Close, so
// a connection can arrive after Shutdown has begun.
type lateListener struct {
	waiting chan struct{}
	conns   chan net.Conn
}

func (l *lateListener) Accept() (net.Conn, error) {
	l.waiting <- struct{}{}
	return <-l.conns, nil
}

func (l *lateListener) Close() error   { return nil }
func (l *lateListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestConnAcceptedDuringShutdownIsClosed(t *testing.T) {
	var calls atomic.Int32
	backend := wsbridge.BackendFunc(func(context.Context, io.ReadWriteCloser) error {
		calls.Add(1)
		return nil
	})
	ln := &lateListener{waiting: make(chan struct{}), conns: make(chan net.Conn)}
	sup := wsbridge.NewSupervisor(backend, wsbridge.WithSupervisorLogger(quietLogger()))
	served := make(chan error, 1)
	go func() { served <- sup.Serve(context.Background(), ln) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	<-ln.waiting
	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	server, client := net.Pipe()
	defer client.Close()
	ln.conns <- server

	select {
	case err := <-served:
		if !errors.Is(err, wsbridge.ErrSupervisorClosed) {
			t.Errorf("Serve = %v, want ErrSupervisorClosed", err)
		}
	case <-ctx.Done():
		t.Fatal("Serve kept running after Shutdown")
	}
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("read from late connection = %v, want io.EOF", err)
	}
	if calls.Load() != 0 {
		t.Errorf("backend ran %d times after Shutdown", calls.Load())
	}
}
