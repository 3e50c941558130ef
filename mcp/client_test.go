package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// fakeTransport scripts protocol exchanges without a child process.
type fakeTransport struct {
	connectErr  error
	handler     func(method string, params any) (*Response, error)
	connects    int
	disconnects int
	requests    []string
}

func (f *fakeTransport) Connect() error {
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) SendRequest(ctx context.Context, method string, params any) (*Response, error) {
	f.requests = append(f.requests, method)
	return f.handler(method, params)
}

func (f *fakeTransport) Disconnect() error {
	f.disconnects++
	return nil
}

func okResponse(t *testing.T, result any) *Response {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	id := int64(1)
	return &Response{JSONRPC: "2.0", ID: &id, Result: raw}
}

// standardHandler answers the handshake and a one-tool listing.
func standardHandler(t *testing.T, tools []ToolInfo) func(method string, params any) (*Response, error) {
	return func(method string, params any) (*Response, error) {
		switch method {
		case MethodInitialize:
			return okResponse(t, InitializeResult{
				ProtocolVersion: ProtocolVersion,
				ServerInfo:      Implementation{Name: "fake-server", Version: "1.0"},
			}), nil
		case MethodToolsList:
			return okResponse(t, ListToolsResult{Tools: tools}), nil
		default:
			t.Fatalf("unexpected method %q", method)
			return nil, nil
		}
	}
}

var readTool = ToolInfo{
	Name:        "read",
	Description: "Reads a file.",
	InputSchema: InputSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"path":   {Type: "string", Description: "File path."},
			"offset": {Type: "number"},
		},
		Required: []string{"path"},
	},
}

func TestClientConnectHandshake(t *testing.T) {
	ft := &fakeTransport{handler: standardHandler(t, nil)}
	c := NewClient("fs", ft)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.ServerInfo().Name != "fake-server" {
		t.Errorf("server identity not captured: %+v", c.ServerInfo())
	}
	if ft.connects != 1 {
		t.Errorf("expected one transport connect, got %d", ft.connects)
	}
}

func TestClientConnectRejectedHandshake(t *testing.T) {
	ft := &fakeTransport{handler: func(method string, params any) (*Response, error) {
		id := int64(1)
		return &Response{JSONRPC: "2.0", ID: &id, Error: &RPCError{Code: -32600, Message: "unsupported protocol"}}, nil
	}}
	c := NewClient("fs", ft)

	err := c.Connect(context.Background())
	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConnectError, got %v", err)
	}
	if cerr.Provider != "fs" {
		t.Errorf("error names wrong provider: %q", cerr.Provider)
	}
	if ft.disconnects != 1 {
		t.Errorf("a failed handshake must tear the transport down, disconnects=%d", ft.disconnects)
	}
}

func TestClientConnectTransportFailure(t *testing.T) {
	ft := &fakeTransport{connectErr: &ProcessExitError{Command: "srv", Detail: "exit code 1"}}
	c := NewClient("fs", ft)

	err := c.Connect(context.Background())
	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConnectError, got %v", err)
	}
	var pe *ProcessExitError
	if !errors.As(err, &pe) {
		t.Errorf("the process diagnostic must stay reachable through the chain")
	}
}

func TestListToolsCached(t *testing.T) {
	ft := &fakeTransport{handler: standardHandler(t, []ToolInfo{readTool})}
	c := NewClient("fs", ft)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		tools, err := c.ListTools(ctx, false)
		if err != nil {
			t.Fatalf("ListTools failed: %v", err)
		}
		if len(tools) != 1 || tools[0].Name != "read" {
			t.Fatalf("unexpected listing: %+v", tools)
		}
	}

	listCalls := 0
	for _, m := range ft.requests {
		if m == MethodToolsList {
			listCalls++
		}
	}
	if listCalls != 1 {
		t.Errorf("expected a single tools/list exchange, got %d", listCalls)
	}

	if _, err := c.ListTools(ctx, true); err != nil {
		t.Fatal(err)
	}
	listCalls = 0
	for _, m := range ft.requests {
		if m == MethodToolsList {
			listCalls++
		}
	}
	if listCalls != 2 {
		t.Errorf("refresh must bypass the cache, got %d exchanges", listCalls)
	}
}

func TestListToolsRequiresConnect(t *testing.T) {
	c := NewClient("fs", &fakeTransport{})
	if _, err := c.ListTools(context.Background(), false); err == nil {
		t.Fatal("expected ListTools before Connect to fail")
	}
}

func TestCallToolText(t *testing.T) {
	ft := &fakeTransport{handler: func(method string, params any) (*Response, error) {
		switch method {
		case MethodInitialize:
			return okResponse(t, InitializeResult{ServerInfo: Implementation{Name: "s"}}), nil
		case MethodToolsCall:
			p := params.(CallToolParams)
			if p.Name != "read" {
				t.Errorf("wrong tool name on the wire: %q", p.Name)
			}
			return okResponse(t, CallToolResult{Content: []ContentItem{
				{Type: "text", Text: "line one\n"},
				{Type: "text", Text: "line two"},
			}}), nil
		default:
			return okResponse(t, ListToolsResult{}), nil
		}
	}}
	c := NewClient("fs", ft)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	out, err := c.CallTool(ctx, "read", map[string]any{"path": "/tmp/x"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if out != "line one\nline two" {
		t.Errorf("content items not joined: %q", out)
	}
}

func TestCallToolInvalidParamsEnriched(t *testing.T) {
	ft := &fakeTransport{handler: func(method string, params any) (*Response, error) {
		switch method {
		case MethodInitialize:
			return okResponse(t, InitializeResult{ServerInfo: Implementation{Name: "s"}}), nil
		case MethodToolsList:
			return okResponse(t, ListToolsResult{Tools: []ToolInfo{readTool}}), nil
		case MethodToolsCall:
			id := int64(3)
			return &Response{JSONRPC: "2.0", ID: &id, Error: &RPCError{
				Code: CodeInvalidParams, Message: "missing required field",
			}}, nil
		}
		return nil, nil
	}}
	c := NewClient("fs", ft)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListTools(ctx, false); err != nil {
		t.Fatal(err)
	}

	_, err := c.CallTool(ctx, "read", map[string]any{"file": "/tmp/x"})
	if err == nil {
		t.Fatal("expected the call to fail")
	}
	msg := err.Error()
	for _, want := range []string{
		"missing required field",
		"expected schema",
		`"required":["path"]`,
		"arguments sent",
		`"file":"/tmp/x"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("enriched message missing %q:\n%s", want, msg)
		}
	}
}

func TestCallToolProviderReportedError(t *testing.T) {
	ft := &fakeTransport{handler: func(method string, params any) (*Response, error) {
		switch method {
		case MethodInitialize:
			return okResponse(t, InitializeResult{ServerInfo: Implementation{Name: "s"}}), nil
		case MethodToolsCall:
			return okResponse(t, CallToolResult{
				IsError: true,
				Content: []ContentItem{{Type: "text", Text: "no such file"}},
			}), nil
		}
		return okResponse(t, ListToolsResult{}), nil
	}}
	c := NewClient("fs", ft)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := c.CallTool(ctx, "read", nil)
	if err == nil || !strings.Contains(err.Error(), "no such file") {
		t.Errorf("isError results must surface as errors with their text: %v", err)
	}
}

func TestTranslateTool(t *testing.T) {
	d := TranslateTool("fs", readTool)

	if d.Name != "fs_read" {
		t.Errorf("expected namespaced name fs_read, got %q", d.Name)
	}
	if d.Description != "Reads a file." {
		t.Errorf("description lost: %q", d.Description)
	}
	if len(d.Params) != 2 {
		t.Fatalf("expected 2 params, got %+v", d.Params)
	}
	// Sorted by name: offset before path.
	if d.Params[0].Name != "offset" || d.Params[1].Name != "path" {
		t.Errorf("params not sorted: %+v", d.Params)
	}
	if d.Params[0].Required {
		t.Errorf("offset must not be required")
	}
	if !d.Params[1].Required {
		t.Errorf("path must be required")
	}
	if d.Params[1].Type != "string" || d.Params[1].Description != "File path." {
		t.Errorf("path schema mistranslated: %+v", d.Params[1])
	}
}

func TestTranslateToolDefaultsType(t *testing.T) {
	d := TranslateTool("p", ToolInfo{
		Name: "t",
		InputSchema: InputSchema{
			Properties: map[string]PropertySchema{"loose": {}},
		},
	})
	if d.Params[0].Type != "string" {
		t.Errorf("untyped properties default to string, got %q", d.Params[0].Type)
	}
}

func TestProviderToolExecute(t *testing.T) {
	var calledName string
	ft := &fakeTransport{handler: func(method string, params any) (*Response, error) {
		switch method {
		case MethodInitialize:
			return okResponse(t, InitializeResult{ServerInfo: Implementation{Name: "s"}}), nil
		case MethodToolsList:
			return okResponse(t, ListToolsResult{Tools: []ToolInfo{readTool}}), nil
		case MethodToolsCall:
			calledName = params.(CallToolParams).Name
			return okResponse(t, CallToolResult{Content: []ContentItem{{Type: "text", Text: "data"}}}), nil
		}
		return nil, nil
	}}
	c := NewClient("fs", ft)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListTools(ctx, false); err != nil {
		t.Fatal(err)
	}

	wrapped := c.Tools()
	if len(wrapped) != 1 {
		t.Fatalf("expected one wrapped tool, got %d", len(wrapped))
	}
	pt := wrapped[0]
	if pt.Name() != "fs_read" {
		t.Errorf("registry name must be namespaced: %q", pt.Name())
	}

	out, err := pt.Execute(ctx, map[string]any{"path": "/tmp/x"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "data" {
		t.Errorf("unexpected output %q", out)
	}
	if calledName != "read" {
		t.Errorf("provider must be called with the short name, got %q", calledName)
	}
}
