package lsptest

import (
	"errors"
	"strings"
	"testing"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/gossip-lsp/wsbridge/protocol"
)

// AssertHoverContains asserts that the hover result contains the expected substring.
func AssertHoverContains(t testing.TB, hover *protocol.Hover, substr string) {
	t.Helper()
	if hover == nil {
		t.Fatal("hover result is nil")
	}
	if !strings.Contains(hover.Contents.Value, substr) {
		t.Errorf("hover contents %q does not contain %q", hover.Contents.Value, substr)
	}
}

// AssertErrorCode asserts that err is a JSON-RPC error response with code.
func AssertErrorCode(t testing.TB, err error, code int64) {
	t.Helper()
	var rpcErr *jsonrpc2.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error %v is not a JSON-RPC error response", err)
	}
	if rpcErr.Code != code {
		t.Errorf("error code = %d (%s), want %d", rpcErr.Code, rpcErr.Message, code)
	}
}
