package wsbridge

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/gossip-lsp/wsbridge/jsonrpc"
	"github.com/gossip-lsp/wsbridge/protocol"
)

// ClientProxy sends requests and notifications from server to client.
type ClientProxy struct {
	conn  *jsonrpc.Conn
	trace func() string
}

func newClientProxy(conn *jsonrpc.Conn, trace func() string) *ClientProxy {
	return &ClientProxy{conn: conn, trace: trace}
}

// LogMessage sends a log message to the client.
func (c *ClientProxy) LogMessage(ctx context.Context, typ protocol.MessageType, message string) error {
	return c.conn.Notify(ctx, protocol.MethodLogMessage, &protocol.LogMessageParams{
		Type:    typ,
		Message: message,
	})
}

// ShowMessage sends a show message notification to the client.
func (c *ClientProxy) ShowMessage(ctx context.Context, typ protocol.MessageType, message string) error {
	return c.conn.Notify(ctx, protocol.MethodShowMessage, &protocol.ShowMessageParams{
		Type:    typ,
		Message: message,
	})
}

// ShowMessageRequest sends a show message request and waits for the user to
// pick an action. A nil item means the request was dismissed.
func (c *ClientProxy) ShowMessageRequest(ctx context.Context, params *protocol.ShowMessageRequestParams) (*protocol.MessageActionItem, error) {
	resp, err := c.conn.Call(ctx, protocol.MethodShowMessageRequest, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, nil
	}
	var item protocol.MessageActionItem
	if err := json.Unmarshal(resp.Result, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// LogTrace sends $/logTrace unless the client turned tracing off. Verbose
// detail is dropped unless the level is "verbose".
func (c *ClientProxy) LogTrace(ctx context.Context, message, verbose string) error {
	level := c.trace()
	if level == "" || level == "off" {
		return nil
	}
	if level != "verbose" {
		verbose = ""
	}
	return c.conn.Notify(ctx, protocol.MethodLogTrace, &protocol.LogTraceParams{
		Message: message,
		Verbose: verbose,
	})
}
