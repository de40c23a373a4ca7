package jsonrpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

// pair connects a server and a client Conn over net.Pipe and runs both. The
// returned channel yields the server's Run result.
func pair(t *testing.T, h Handler, n NotificationHandler) (client *Conn, serverDone <-chan error) {
	t.Helper()
	a, b := net.Pipe()

	server := NewConn(NewStreamCodec(a), h, n)
	client = NewConn(NewStreamCodec(b), func(context.Context, string, RawMessage) (any, error) {
		return nil, Errorf(CodeMethodNotFound, "client handles nothing")
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()
	go client.Run(ctx)

	t.Cleanup(func() {
		cancel()
		client.Close()
		server.Close()
	})
	return client, done
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCallRoundTrip(t *testing.T) {
	client, _ := pair(t, func(_ context.Context, method string, params RawMessage) (any, error) {
		switch method {
		case "echo":
			return params, nil
		case "fail":
			return nil, Errorf(CodeInvalidParams, "bad params")
		case "boom":
			return nil, errors.New("plain error")
		}
		return nil, Errorf(CodeMethodNotFound, "no %s", method)
	}, nil)
	ctx := callCtx(t)

	resp, err := client.Call(ctx, "echo", map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp.Result) != `{"a":1}` {
		t.Errorf("result = %s, want {\"a\":1}", resp.Result)
	}

	resp, err = client.Call(ctx, "fail", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("error = %+v, want code %d", resp.Error, CodeInvalidParams)
	}

	resp, _ = client.Call(ctx, "boom", nil)
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Errorf("error = %+v, want code %d", resp.Error, CodeInternalError)
	}
}

func TestNotificationsInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	all := make(chan struct{})
	client, _ := pair(t, nil, func(_ context.Context, method string, params RawMessage) {
		var n int
		json.Unmarshal(params, &n)
		mu.Lock()
		got = append(got, n)
		if len(got) == 50 {
			close(all)
		}
		mu.Unlock()
	})
	ctx := callCtx(t)

	for i := range 50 {
		if err := client.Notify(ctx, "tick", i); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case <-all:
	case <-ctx.Done():
		t.Fatal("notifications not delivered")
	}
	for i, n := range got {
		if n != i {
			t.Fatalf("notification %d carried %d: %v", i, n, got)
		}
	}
}

func TestRunReturnsNilOnCleanEOF(t *testing.T) {
	a, b := net.Pipe()
	server := NewConn(NewStreamCodec(a), func(context.Context, string, RawMessage) (any, error) {
		return nil, nil
	}, nil)
	done := make(chan error, 1)
	go func() { done <- server.Run(context.Background()) }()

	b.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunReportsTruncatedStream(t *testing.T) {
	a, b := net.Pipe()
	server := NewConn(NewStreamCodec(a), nil, nil)
	done := make(chan error, 1)
	go func() { done <- server.Run(context.Background()) }()

	b.Write([]byte("Content-Length: 50\r\n\r\n{"))
	b.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Run = nil, want an error for a truncated message")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunWaitsForHandlers(t *testing.T) {
	release := make(chan struct{})
	var finished bool
	client, done := pair(t, func(context.Context, string, RawMessage) (any, error) {
		<-release
		finished = true
		return "ok", nil
	}, nil)
	ctx := callCtx(t)

	go client.Call(ctx, "slow", nil)
	time.Sleep(20 * time.Millisecond)
	client.codec.Close()

	select {
	case <-done:
		t.Fatal("Run returned with a handler in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
		if !finished {
			t.Error("handler did not finish before Run returned")
		}
	case <-ctx.Done():
		t.Fatal("Run did not return")
	}
}

func TestCancelRequest(t *testing.T) {
	started := make(chan struct{})
	client, _ := pair(t, func(ctx context.Context, _ string, _ RawMessage) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)
	ctx := callCtx(t)

	result := make(chan *Response, 1)
	go func() {
		resp, _ := client.Call(ctx, "wait", nil)
		result <- resp
	}()
	<-started
	if err := client.Notify(ctx, MethodCancelRequest, map[string]any{"id": 1}); err != nil {
		t.Fatal(err)
	}

	select {
	case resp := <-result:
		if resp == nil || resp.Error == nil || resp.Error.Code != CodeRequestCancelled {
			t.Errorf("response = %+v, want code %d", resp, CodeRequestCancelled)
		}
	case <-ctx.Done():
		t.Fatal("cancelled request never answered")
	}
}

func TestParseErrorIsAnswered(t *testing.T) {
	a, b := net.Pipe()
	server := NewConn(NewStreamCodec(a), nil, nil)
	go server.Run(context.Background())
	defer server.Close()
	defer b.Close()
	b.SetDeadline(time.Now().Add(5 * time.Second))

	go NewCodec(b, b).Write([]byte("{not json"))
	body, err := NewCodec(b, b).Read()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := DecodeMessage(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, ok := msg.(*Response)
	if !ok || resp.Error == nil || resp.Error.Code != CodeParseError || resp.ID.IsValid() {
		t.Errorf("got %#v, want a parse error with a null id", msg)
	}
}

func TestHandlerPanicBecomesInternalError(t *testing.T) {
	client, _ := pair(t, func(context.Context, string, RawMessage) (any, error) {
		panic("kaboom")
	}, nil)

	resp, err := client.Call(callCtx(t), "explode", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Errorf("error = %+v, want code %d", resp.Error, CodeInternalError)
	}
}

func TestCallAfterClose(t *testing.T) {
	client, _ := pair(t, nil, nil)
	client.Close()
	if _, err := client.Call(callCtx(t), "x", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Call = %v, want ErrClosed", err)
	}
}
