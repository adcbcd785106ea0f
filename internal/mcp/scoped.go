// ABOUTME: Per-call scoped protocol server built from an already-filtered capability set
// ABOUTME: Dispatches one JSON-RPC request and is discarded; no state crosses calls

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gitplan/gitplan/internal/registry"
)

// toolInfo is a tool definition as listed to the client.
type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools []toolInfo `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type resourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type listResourcesResult struct {
	Resources []resourceInfo `json:"resources"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type resourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

type readResourceResult struct {
	Contents []resourceContents `json:"contents"`
}

type promptInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type listPromptsResult struct {
	Prompts []promptInfo `json:"prompts"`
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type promptMessage struct {
	Role    string       `json:"role"`
	Content contentBlock `json:"content"`
}

type getPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []promptMessage `json:"messages"`
}

// scopedServer is the per-call protocol server. Its tool table is the
// caller's filtered subset; a tool filtered out upstream is simply absent
// here, so invoking it reports "not found", never "forbidden".
type scopedServer struct {
	tools     map[string]*registry.Tool
	toolList  []*registry.Tool
	resources []*registry.Resource
	prompts   []*registry.Prompt
	logger    *slog.Logger
}

func newScopedServer(tools []*registry.Tool, resources []*registry.Resource, prompts []*registry.Prompt, logger *slog.Logger) *scopedServer {
	byName := make(map[string]*registry.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	return &scopedServer{
		tools:     byName,
		toolList:  tools,
		resources: resources,
		prompts:   prompts,
		logger:    logger,
	}
}

// dispatch routes a single request and returns the response.
func (s *scopedServer) dispatch(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.handleResourcesList(req)
	case "resources/read":
		return s.handleResourcesRead(ctx, req)
	case "prompts/list":
		return s.handlePromptsList(req)
	case "prompts/get":
		return s.handlePromptsGet(ctx, req)
	default:
		return rpcError(req.ID, JSONRPCMethodNotFound, "method not found")
	}
}

func (s *scopedServer) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	return result(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "gitplan-gateway",
			"version": "1.0.0",
		},
	})
}

func (s *scopedServer) handleToolsList(req JSONRPCRequest) JSONRPCResponse {
	out := listToolsResult{Tools: make([]toolInfo, len(s.toolList))}
	for i, t := range s.toolList {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out.Tools[i] = toolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}
	}
	return result(req.ID, out)
}

func (s *scopedServer) handleToolsCall(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcError(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return rpcError(req.ID, JSONRPCInvalidParams, "tool name is required")
	}

	tool, ok := s.tools[params.Name]
	if !ok {
		return rpcError(req.ID, JSONRPCInvalidParams, "tool not found")
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	output, err := tool.Handler(ctx, args)
	if err != nil {
		s.logger.Warn("tool execution failed", "tool", params.Name, "error", err)
		return result(req.ID, callToolResult{
			Content: []contentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}

	return result(req.ID, callToolResult{
		Content: []contentBlock{{Type: "text", Text: output}},
	})
}

func (s *scopedServer) handleResourcesList(req JSONRPCRequest) JSONRPCResponse {
	out := listResourcesResult{Resources: make([]resourceInfo, len(s.resources))}
	for i, r := range s.resources {
		out.Resources[i] = resourceInfo{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
		}
	}
	return result(req.ID, out)
}

func (s *scopedServer) handleResourcesRead(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	var params readResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return rpcError(req.ID, JSONRPCInvalidParams, "resource uri is required")
	}

	var res *registry.Resource
	for _, r := range s.resources {
		if r.URI == params.URI {
			res = r
			break
		}
	}
	if res == nil {
		return rpcError(req.ID, JSONRPCInvalidParams, "resource not found")
	}

	text, err := res.Handler(ctx)
	if err != nil {
		s.logger.Warn("resource read failed", "uri", params.URI, "error", err)
		return rpcError(req.ID, JSONRPCInternalError, "resource read failed")
	}

	return result(req.ID, readResourceResult{
		Contents: []resourceContents{{URI: res.URI, MimeType: res.MimeType, Text: text}},
	})
}

func (s *scopedServer) handlePromptsList(req JSONRPCRequest) JSONRPCResponse {
	out := listPromptsResult{Prompts: make([]promptInfo, len(s.prompts))}
	for i, p := range s.prompts {
		out.Prompts[i] = promptInfo{Name: p.Name, Description: p.Description}
	}
	return result(req.ID, out)
}

func (s *scopedServer) handlePromptsGet(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	var params getPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return rpcError(req.ID, JSONRPCInvalidParams, "prompt name is required")
	}

	var prompt *registry.Prompt
	for _, p := range s.prompts {
		if p.Name == params.Name {
			prompt = p
			break
		}
	}
	if prompt == nil {
		return rpcError(req.ID, JSONRPCInvalidParams, "prompt not found")
	}

	text, err := prompt.Handler(ctx, params.Arguments)
	if err != nil {
		s.logger.Warn("prompt build failed", "prompt", params.Name, "error", err)
		return rpcError(req.ID, JSONRPCInternalError, "prompt build failed")
	}

	return result(req.ID, getPromptResult{
		Description: prompt.Description,
		Messages: []promptMessage{
			{Role: "user", Content: contentBlock{Type: "text", Text: text}},
		},
	})
}

func result(id json.RawMessage, res any) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: res}
}

func rpcError(id json.RawMessage, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
}
