package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
)

func ok(context.Context, string, jsonrpc.RawMessage) (any, error) { return "ok", nil }

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, method string, params jsonrpc.RawMessage) (any, error) {
				order = append(order, name)
				return next(ctx, method, params)
			}
		}
	}

	h := Chain(tag("outer"), tag("inner"))(ok)
	if _, err := h(context.Background(), "m", nil); err != nil {
		t.Fatal(err)
	}
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v, want outer,inner", order)
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Recovery(logger)(func(context.Context, string, jsonrpc.RawMessage) (any, error) {
		panic("boom")
	})

	result, err := h(WithConnID(context.Background(), "c-1"), "textDocument/hover", nil)
	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.CodeInternalError {
		t.Fatalf("err = %v, want CodeInternalError", err)
	}
	if !strings.Contains(buf.String(), "conn=c-1") {
		t.Errorf("log %q does not carry the connection id", buf.String())
	}
}

func TestTelemetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := Telemetry(m)(func(_ context.Context, method string, _ jsonrpc.RawMessage) (any, error) {
		if method == "bad" {
			return nil, errors.New("nope")
		}
		return nil, nil
	})

	h(context.Background(), "good", nil)
	h(context.Background(), "good", nil)
	h(context.Background(), "bad", nil)

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("good", "ok")); got != 2 {
		t.Errorf("good/ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("bad", "error")); got != 1 {
		t.Errorf("bad/error = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.Duration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestTracingAndConnID(t *testing.T) {
	var method, conn string
	h := Tracing()(func(ctx context.Context, _ string, _ jsonrpc.RawMessage) (any, error) {
		method, conn = TraceMethod(ctx), ConnID(ctx)
		return nil, nil
	})
	h(WithConnID(context.Background(), "abc"), "initialize", nil)

	if method != "initialize" || conn != "abc" {
		t.Errorf("got method %q conn %q", method, conn)
	}
	if ConnID(context.Background()) != "" {
		t.Error("ConnID of a bare context should be empty")
	}
	if TraceElapsed(context.Background()) != 0 {
		t.Error("TraceElapsed without Tracing should be 0")
	}

	var elapsed time.Duration
	slow := Tracing()(func(ctx context.Context, _ string, _ jsonrpc.RawMessage) (any, error) {
		time.Sleep(5 * time.Millisecond)
		elapsed = TraceElapsed(ctx)
		return nil, nil
	})
	slow(context.Background(), "x", nil)
	if elapsed < 5*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 5ms", elapsed)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := Logging(logger)(func(_ context.Context, method string, _ jsonrpc.RawMessage) (any, error) {
		if method == "fail" {
			return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "bad")
		}
		return nil, nil
	})

	h(context.Background(), "fine", nil)
	h(WithConnID(context.Background(), "c-9"), "fail", nil)

	out := buf.String()
	if !strings.Contains(out, "request handled") || !strings.Contains(out, "method=fine") {
		t.Errorf("missing debug line for success: %q", out)
	}
	if !strings.Contains(out, "request failed") || !strings.Contains(out, "conn=c-9") {
		t.Errorf("missing warn line for failure: %q", out)
	}
	if !strings.Contains(out, "code=-32602") {
		t.Errorf("failure line lacks the error code: %q", out)
	}
}

func TestNotificationsPassThroughChain(t *testing.T) {
	var seen []string
	record := func(next Handler) Handler {
		return func(ctx context.Context, method string, params jsonrpc.RawMessage) (any, error) {
			seen = append(seen, "mw:"+method)
			return next(ctx, method, params)
		}
	}
	notify := Chain(record).Notifications(func(_ context.Context, method string, _ jsonrpc.RawMessage) {
		seen = append(seen, "handler:"+method)
	})

	notify(context.Background(), "initialized", nil)
	if strings.Join(seen, ",") != "mw:initialized,handler:initialized" {
		t.Errorf("seen = %v", seen)
	}
}
