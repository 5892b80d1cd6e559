package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/petal-labs/petaltools/tool"
)

// PositionalArgsKey is the tools/call argument whose array value becomes the
// positional arguments of the invocation.
const PositionalArgsKey = "args"

// ServerOptions configures a Server.
type ServerOptions struct {
	Info ServerInfo
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

type serverTool struct {
	name        string
	description string
	handler     tool.HostHandler
}

// Server is an MCP host. Tools are bound through RegisterTool and served to
// a single peer over a Transport.
type Server struct {
	info   ServerInfo
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]serverTool
	order []string
}

// NewServer creates a server with no tools.
func NewServer(opts ServerOptions) *Server {
	if opts.Info.Name == "" {
		opts.Info.Name = "petaltools"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		info:   opts.Info,
		logger: opts.Logger,
		tools:  make(map[string]serverTool),
	}
}

// RegisterTool binds a handler under name. It rejects an empty name, an empty
// description and a name that is already bound.
func (s *Server) RegisterTool(name, description string, handler tool.HostHandler) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("mcp: tool name is required")
	}
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("mcp: tool %q: description is required", name)
	}
	if handler == nil {
		return fmt.Errorf("mcp: tool %q: handler is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[name]; exists {
		return fmt.Errorf("mcp: tool %q is already registered", name)
	}
	s.tools[name] = serverTool{name: name, description: description, handler: handler}
	s.order = append(s.order, name)
	return nil
}

// UpdateTool replaces the description tools/list advertises for name.
func (s *Server) UpdateTool(name, description string) error {
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("mcp: tool %q: description is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.tools[name]
	if !exists {
		return fmt.Errorf("mcp: tool %q is not registered", name)
	}
	entry.description = description
	s.tools[name] = entry
	return nil
}

// Tools returns the bound tools in registration order.
func (s *Server) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, 0, len(s.order))
	for _, name := range s.order {
		entry := s.tools[name]
		out = append(out, Tool{
			Name:        entry.name,
			Description: entry.description,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	return out
}

// Serve answers requests from transport until the peer disconnects or ctx is
// canceled. tools/call requests run concurrently; the other methods are
// answered in order.
func (s *Server) Serve(ctx context.Context, transport Transport) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		message, err := transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if message.Method == "" {
			// Responses are not expected from the peer.
			continue
		}
		if message.IsNotification() {
			s.logger.Debug("mcp notification", "method", message.Method)
			continue
		}

		if message.Method == "tools/call" {
			wg.Add(1)
			go func(message Message) {
				defer wg.Done()
				s.reply(ctx, transport, message, s.handleCall)
			}(message)
			continue
		}
		s.reply(ctx, transport, message, s.handle)
	}
}

func (s *Server) reply(ctx context.Context, transport Transport, request Message, handle func(context.Context, Message) (any, *RPCError)) {
	result, rpcErr := handle(ctx, request)
	response := Message{JSONRPC: jsonRPCVersion, ID: request.ID}
	if rpcErr != nil {
		response.Error = rpcErr
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			response.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		} else {
			response.Result = data
		}
	}
	if err := transport.Send(ctx, response); err != nil {
		s.logger.Warn("mcp send failed", "method", request.Method, "error", err)
	}
}

func (s *Server) handle(ctx context.Context, request Message) (any, *RPCError) {
	switch request.Method {
	case "initialize":
		var params InitializeParams
		if len(request.Params) > 0 {
			if err := json.Unmarshal(request.Params, &params); err != nil {
				return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
			}
		}
		version := params.ProtocolVersion
		if version == "" {
			version = DefaultProtocolVersion
		}
		s.logger.Info("mcp session initialized",
			"client", params.ClientInfo.Name,
			"protocol_version", version,
		)
		return InitializeResult{
			ProtocolVersion: version,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      s.info,
		}, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return ToolsListResult{Tools: s.Tools()}, nil
	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", request.Method)}
	}
}

func (s *Server) handleCall(ctx context.Context, request Message) (any, *RPCError) {
	var params ToolsCallParams
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	s.mu.RLock()
	entry, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("unknown tool %q", params.Name)}
	}

	envelope := entry.handler(ctx, ArgsFromArguments(params.Arguments)).Envelope()
	content := make([]ContentBlock, 0, len(envelope.Content))
	for _, block := range envelope.Content {
		content = append(content, ContentBlock{Type: block.Type, Text: block.Text})
	}
	return ToolsCallResult{Content: content, IsError: envelope.IsError}, nil
}

// ArgsFromArguments maps tools/call arguments onto tool arguments. An array
// under PositionalArgsKey becomes the positional list; every other key is a
// named argument.
func ArgsFromArguments(arguments map[string]any) tool.Args {
	args := tool.Args{}
	for key, value := range arguments {
		if key == PositionalArgsKey {
			if list, ok := value.([]any); ok {
				args.Positional = list
				continue
			}
		}
		if args.Named == nil {
			args.Named = make(map[string]any, len(arguments))
		}
		args.Named[key] = value
	}
	return args
}

var _ tool.Host = (*Server)(nil)
