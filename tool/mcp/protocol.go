// Package mcp exposes registered tools over the Model Context Protocol:
// JSON-RPC 2.0 messages framed one per line on a byte stream.
package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	jsonRPCVersion = "2.0"

	// DefaultProtocolVersion is the MCP revision negotiated when the peer
	// does not request one.
	DefaultProtocolVersion = "2025-06-18"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Message is a JSON-RPC 2.0 envelope. ID is kept raw so numeric and string
// request IDs round-trip unchanged; it is empty for notifications.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsNotification reports whether the message is a request without an ID.
func (m Message) IsNotification() bool {
	return m.Method != "" && len(bytes.TrimSpace(m.ID)) == 0
}

// NumericID encodes n as a JSON-RPC request ID.
func NumericID(n int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(n, 10))
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message)
}

// ClientInfo identifies the peer opening an MCP session.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerInfo describes this server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is sent in the MCP initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// InitializeResult is returned by the MCP initialize request.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// Tool describes one tool in tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolsListResult is returned by the MCP tools/list request.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolsCallParams is sent in the MCP tools/call request.
type ToolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ContentBlock is an MCP content item returned by tools/call.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolsCallResult is returned by the MCP tools/call request.
type ToolsCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}
