// ABOUTME: MCP-compatible HTTP endpoint for external agents like Claude Code
// ABOUTME: Builds an isolated per-call server scoped to the caller's filtered tool set

package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gitplan/gitplan/internal/auth"
	"github.com/gitplan/gitplan/internal/directory"
	"github.com/gitplan/gitplan/internal/registry"
)

// protocolVersion is the MCP protocol revision advertised in initialize.
const protocolVersion = "2025-03-26"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Config holds configuration for the MCP handler.
type Config struct {
	Registry *registry.Registry
	Auth     *auth.Authenticator
	Logger   *slog.Logger
	// Ready gates the endpoint: while it returns false every call is a 503.
	Ready func() bool
	// Audit, when set, records tool invocations.
	Audit func(actor, tool string, isError bool)
}

// Handler serves the MCP endpoint. It keeps no per-caller state: each call
// constructs a throwaway server scoped to the caller's filtered tool set and
// discards it afterward, so one caller's capability set can never leak into
// a concurrent caller's dispatch.
type Handler struct {
	registry *registry.Registry
	auth     *auth.Authenticator
	logger   *slog.Logger
	ready    func() bool
	audit    func(actor, tool string, isError bool)
}

// NewHandler creates the MCP handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ready := cfg.Ready
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Handler{
		registry: cfg.Registry,
		auth:     cfg.Auth,
		logger:   logger.With("component", "mcp"),
		ready:    ready,
		audit:    cfg.Audit,
	}, nil
}

// ServeHTTP handles POST /mcp.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !h.ready() {
		writeJSONError(w, http.StatusServiceUnavailable, "gateway initializing")
		return
	}

	id, err := h.auth.AuthenticateKey(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var role directory.Role
	actor := "anonymous"
	if id != nil {
		role = id.Role
		actor = id.Email
		r = r.WithContext(auth.WithIdentity(r.Context(), id))
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		h.sendError(w, nil, JSONRPCParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		h.sendError(w, nil, JSONRPCInvalidRequest, "request body too large")
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.sendError(w, nil, JSONRPCParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		h.sendError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
		return
	}

	// Notifications carry no id and get no response body.
	if len(req.ID) == 0 || string(req.ID) == "null" {
		if !strings.HasPrefix(req.Method, "notifications/") {
			h.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	h.logger.Debug("protocol call", "method", req.Method, "actor", actor, "role", string(role))

	// Fresh isolated server per call, registered only with the caller's
	// filtered tool set, discarded after dispatch.
	scoped := newScopedServer(
		h.registry.ToolsForRole(role),
		h.registry.Resources(),
		h.registry.Prompts(),
		h.logger,
	)
	resp := scoped.dispatch(r.Context(), req)

	if h.audit != nil && req.Method == "tools/call" {
		h.auditToolCall(actor, req.Params, resp)
	}

	writeResponse(w, h.logger, resp)
}

// auditToolCall records a tools/call outcome.
func (h *Handler) auditToolCall(actor string, params json.RawMessage, resp JSONRPCResponse) {
	var p callToolParams
	_ = json.Unmarshal(params, &p)
	isError := resp.Error != nil
	if result, ok := resp.Result.(callToolResult); ok {
		isError = isError || result.IsError
	}
	h.audit(actor, p.Name, isError)
}

// writeJSONError writes a plain HTTP-level JSON error (used before any
// JSON-RPC envelope exists: auth, readiness, method checks).
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// sendError sends a JSON-RPC error response.
func (h *Handler) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeResponse(w, h.logger, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	})
}

func writeResponse(w http.ResponseWriter, logger *slog.Logger, resp JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
