package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// testClient drives a Server over a Transport one request at a time.
type testClient struct {
	transport Transport
	nextID    int64
}

func newTestClient(transport Transport) *testClient {
	return &testClient{transport: transport}
}

// call sends method and decodes the result into out. A JSON-RPC error is
// returned as *RPCError.
func (c *testClient) call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	c.nextID++
	id := NumericID(c.nextID)
	if err := c.transport.Send(ctx, Message{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: raw}); err != nil {
		return err
	}
	for {
		resp, err := c.transport.Receive(ctx)
		if err != nil {
			return err
		}
		if !bytes.Equal(bytes.TrimSpace(resp.ID), id) {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (c *testClient) initialize(ctx context.Context) (InitializeResult, error) {
	var result InitializeResult
	err := c.call(ctx, "initialize", InitializeParams{
		ProtocolVersion: DefaultProtocolVersion,
		ClientInfo:      ClientInfo{Name: "test"},
	}, &result)
	if err != nil {
		return InitializeResult{}, err
	}
	return result, c.transport.Send(ctx, Message{JSONRPC: jsonRPCVersion, Method: "notifications/initialized"})
}

func (c *testClient) listTools(ctx context.Context) (ToolsListResult, error) {
	var result ToolsListResult
	err := c.call(ctx, "tools/list", map[string]any{}, &result)
	return result, err
}

func (c *testClient) callTool(ctx context.Context, params ToolsCallParams) (ToolsCallResult, error) {
	var result ToolsCallResult
	err := c.call(ctx, "tools/call", params, &result)
	return result, err
}

func (c *testClient) close() error {
	return c.transport.Close(context.Background())
}
