// ABOUTME: Tests for the MCP endpoint covering auth, filtering, and JSON-RPC handling
// ABOUTME: Exercises per-call scoping: viewer keys never see or reach write tools

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitplan/gitplan/internal/auth"
	"github.com/gitplan/gitplan/internal/directory"
	"github.com/gitplan/gitplan/internal/registry"
)

var keyTable = map[string]*directory.Identity{
	"key-admin": {Email: "ada@test.com", Name: "Ada", Role: directory.RoleAdmin, APIKey: "key-admin"},
	"key-view":  {Email: "vic@test.com", Name: "Vic", Role: directory.RoleViewer, APIKey: "key-view"},
}

type handlerOptions struct {
	authEnabled bool
	ready       bool
	audit       func(actor, tool string, isError bool)
}

func newTestHandler(t *testing.T, opts handlerOptions) *Handler {
	t.Helper()

	reg := registry.New(nil)
	require.NoError(t, reg.RegisterTool(registry.Tool{
		Name:        "tasks_list",
		Description: "List all tasks",
		Access:      registry.AccessRead,
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return `[{"id":"task-001"}]`, nil
		},
	}))
	require.NoError(t, reg.RegisterTool(registry.Tool{
		Name:        "task_create",
		Description: "Create a task",
		Access:      registry.AccessWrite,
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}))
	require.NoError(t, reg.RegisterTool(registry.Tool{
		Name:   "task_explode",
		Access: registry.AccessWrite,
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", fmt.Errorf("boom")
		},
	}))
	require.NoError(t, reg.RegisterResource(registry.Resource{
		URI:      "gitplan://config",
		Name:     "Project config",
		MimeType: "application/yaml",
		Handler:  func(context.Context) (string, error) { return "name: demo\n", nil },
	}))
	require.NoError(t, reg.RegisterPrompt(registry.Prompt{
		Name:        "standup_summary",
		Description: "Summarize open tasks",
		Handler: func(_ context.Context, args map[string]string) (string, error) {
			return "Summarize tasks for " + args["team"], nil
		},
	}))

	a := auth.NewAuthenticator(nil, func(key string) *directory.Identity {
		return keyTable[key]
	}, opts.authEnabled, nil)

	h, err := NewHandler(Config{
		Registry: reg,
		Auth:     a,
		Ready:    func() bool { return opts.ready },
		Audit:    opts.audit,
	})
	require.NoError(t, err)
	return h
}

func postRPC(t *testing.T, h *Handler, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeRPC(t *testing.T, rec *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func listedToolNames(t *testing.T, resp JSONRPCResponse) []string {
	t.Helper()
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var res listToolsResult
	require.NoError(t, json.Unmarshal(data, &res))
	names := make([]string, len(res.Tools))
	for i, tool := range res.Tools {
		names[i] = tool.Name
	}
	return names
}

func TestServeHTTP_Unauthenticated(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	rec := postRPC(t, h, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
}

func TestServeHTTP_NotReady(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: false})

	rec := postRPC(t, h, "key-admin", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestToolsList_RoleFiltering(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	admin := decodeRPC(t, postRPC(t, h, "key-admin", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.Nil(t, admin.Error)
	assert.Equal(t, []string{"tasks_list", "task_create", "task_explode"}, listedToolNames(t, admin))

	viewer := decodeRPC(t, postRPC(t, h, "key-view", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.Nil(t, viewer.Error)
	assert.Equal(t, []string{"tasks_list"}, listedToolNames(t, viewer))
}

func TestToolsList_QueryParameterToken(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	req := httptest.NewRequest(http.MethodPost, "/mcp?token=key-view",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeRPC(t, rec)
	assert.Equal(t, []string{"tasks_list"}, listedToolNames(t, resp))
}

func TestToolsList_AuthDisabledSeesEverything(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: false, ready: true})

	resp := decodeRPC(t, postRPC(t, h, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.Nil(t, resp.Error)
	assert.Len(t, listedToolNames(t, resp), 3)
}

func TestToolsCall(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	rec := postRPC(t, h, "key-admin",
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"tasks_list"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeRPC(t, rec)
	require.Nil(t, resp.Error)
	assert.Contains(t, rec.Body.String(), "task-001")
}

func TestToolsCall_FilteredToolLooksNonexistent(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	// A viewer invoking a write tool gets the same answer as invoking a tool
	// that was never registered: not found, not forbidden.
	filtered := decodeRPC(t, postRPC(t, h, "key-view",
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"task_create","arguments":{}}}`))
	require.NotNil(t, filtered.Error)
	assert.Equal(t, JSONRPCInvalidParams, filtered.Error.Code)
	assert.Equal(t, "tool not found", filtered.Error.Message)

	missing := decodeRPC(t, postRPC(t, h, "key-admin",
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"no_such_tool"}}`))
	require.NotNil(t, missing.Error)
	assert.Equal(t, filtered.Error.Message, missing.Error.Message)
}

func TestToolsCall_HandlerErrorBecomesToolError(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	resp := decodeRPC(t, postRPC(t, h, "key-admin",
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"task_explode"}}`))
	require.Nil(t, resp.Error, "handler failure is a tool result, not a protocol error")

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result callToolResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "boom")
}

func TestInitializeAndPing(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	init := decodeRPC(t, postRPC(t, h, "key-admin", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.Nil(t, init.Error)
	data, _ := json.Marshal(init.Result)
	assert.Contains(t, string(data), "gitplan-gateway")

	ping := decodeRPC(t, postRPC(t, h, "key-admin", `{"jsonrpc":"2.0","id":2,"method":"ping"}`))
	assert.Nil(t, ping.Error)
}

func TestResources_UnfilteredForViewer(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	list := decodeRPC(t, postRPC(t, h, "key-view", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`))
	require.Nil(t, list.Error)
	data, _ := json.Marshal(list.Result)
	assert.Contains(t, string(data), "gitplan://config")

	read := decodeRPC(t, postRPC(t, h, "key-view",
		`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"gitplan://config"}}`))
	require.Nil(t, read.Error)
	data, _ = json.Marshal(read.Result)
	assert.Contains(t, string(data), "name: demo")
}

func TestPrompts_UnfilteredForViewer(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	resp := decodeRPC(t, postRPC(t, h, "key-view",
		`{"jsonrpc":"2.0","id":1,"method":"prompts/get","params":{"name":"standup_summary","arguments":{"team":"core"}}}`))
	require.Nil(t, resp.Error)
	data, _ := json.Marshal(resp.Result)
	assert.Contains(t, string(data), "Summarize tasks for core")
}

func TestNotifications_Accepted(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	rec := postRPC(t, h, "key-admin", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestMalformedRequests(t *testing.T) {
	h := newTestHandler(t, handlerOptions{authEnabled: true, ready: true})

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"invalid json", `{not json`, JSONRPCParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, JSONRPCInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"sessions/create"}`, JSONRPCMethodNotFound},
		{"missing tool name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, JSONRPCInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodeRPC(t, postRPC(t, h, "key-admin", tt.body))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestAudit_RecordsToolCalls(t *testing.T) {
	var gotActor, gotTool string
	var gotErr bool
	h := newTestHandler(t, handlerOptions{
		authEnabled: true,
		ready:       true,
		audit: func(actor, tool string, isError bool) {
			gotActor, gotTool, gotErr = actor, tool, isError
		},
	})

	postRPC(t, h, "key-admin", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"tasks_list"}}`)
	assert.Equal(t, "ada@test.com", gotActor)
	assert.Equal(t, "tasks_list", gotTool)
	assert.False(t, gotErr)

	postRPC(t, h, "key-admin", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"task_explode"}}`)
	assert.Equal(t, "task_explode", gotTool)
	assert.True(t, gotErr)
}
