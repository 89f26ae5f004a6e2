package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// captureOutput redirects stdout during test and returns captured content.
func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// setupTestServer creates a server backed by a fresh temp-dir database.
func setupTestServer(t *testing.T) (*Server, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "memory-pilot-mcp-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	server, err := NewServer(filepath.Join(tmpDir, "memory.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create server: %v", err)
	}

	cleanup := func() {
		server.Stop()
		os.RemoveAll(tmpDir)
	}
	return server, cleanup
}

func callTool(t *testing.T, server *Server, name string, args map[string]interface{}) JSONRPCResponse {
	t.Helper()
	argsJSON, _ := json.Marshal(args)
	params, _ := json.Marshal(map[string]interface{}{"name": name, "arguments": json.RawMessage(argsJSON)})

	req := &JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params}
	output := captureOutput(func() {
		server.handleToolCall(context.Background(), req)
	})

	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		t.Fatalf("failed to parse response: %v\nraw: %s", err, output)
	}
	return resp
}

func toolResultText(t *testing.T, resp JSONRPCResponse) string {
	t.Helper()
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is not a map: %#v", resp.Result)
	}
	content, ok := result["content"].([]interface{})
	if !ok || len(content) == 0 {
		t.Fatalf("no content in result: %#v", result)
	}
	block, ok := content[0].(map[string]interface{})
	if !ok {
		t.Fatalf("content block is not a map")
	}
	text, _ := block["text"].(string)
	return text
}

func TestNewServer(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	if server.store == nil {
		t.Error("expected non-nil store")
	}
}

func TestHandleInitialize(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	req := &JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"}
	output := captureOutput(func() { server.handleRequest(req) })

	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("result is not a map")
	}
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("unexpected protocol version: %v", result["protocolVersion"])
	}
}

func TestHandleToolsList(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	req := &JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"}
	output := captureOutput(func() { server.handleRequest(req) })

	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	result := resp.Result.(map[string]interface{})
	tools := result["tools"].([]interface{})
	if len(tools) != 20 {
		t.Errorf("expected 20 tools, got %d", len(tools))
	}
}

func TestUnknownMethod(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	req := &JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "bogus/method"}
	output := captureOutput(func() { server.handleRequest(req) })

	var resp JSONRPCResponse
	json.Unmarshal([]byte(output), &resp)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %#v", resp.Error)
	}
}

func TestToolAddAndGetMemory(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	addResp := callTool(t, server, "add_memory", map[string]interface{}{
		"content": "Use pointer receivers for the Store type.",
		"kind":    "pattern",
	})
	if addResp.Error != nil {
		t.Fatalf("add_memory rpc error: %v", addResp.Error)
	}
	text := toolResultText(t, addResp)

	var added struct {
		Memory struct {
			ID string `json:"id"`
		} `json:"memory"`
	}
	if err := json.Unmarshal([]byte(text), &added); err != nil {
		t.Fatalf("failed to parse add_memory result: %v\n%s", err, text)
	}
	if added.Memory.ID == "" {
		t.Fatal("expected a memory id")
	}

	getResp := callTool(t, server, "get_memory", map[string]interface{}{"id": added.Memory.ID})
	if getResp.Error != nil {
		t.Fatalf("get_memory rpc error: %v", getResp.Error)
	}
	getText := toolResultText(t, getResp)
	if getText == "" {
		t.Fatal("expected non-empty get_memory result")
	}
}

func TestToolAddMemoryRequiresContent(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := callTool(t, server, "add_memory", map[string]interface{}{"kind": "note"})
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if isError, _ := result["isError"].(bool); !isError {
		t.Fatal("expected isError for a missing content field")
	}
}

func TestToolSearchMemory(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	callTool(t, server, "add_memory", map[string]interface{}{
		"content": "The search index uses reciprocal rank fusion.",
		"kind":    "fact",
	})

	resp := callTool(t, server, "search_memory", map[string]interface{}{"query": "rank fusion"})
	if resp.Error != nil {
		t.Fatalf("search_memory rpc error: %v", resp.Error)
	}
	text := toolResultText(t, resp)
	var parsed struct {
		Results []interface{} `json:"results"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("failed to parse search_memory result: %v", err)
	}
	if len(parsed.Results) == 0 {
		t.Fatal("expected at least one search result")
	}
}

func TestToolGetStats(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := callTool(t, server, "get_stats", map[string]interface{}{})
	if resp.Error != nil {
		t.Fatalf("get_stats rpc error: %v", resp.Error)
	}
	if toolResultText(t, resp) == "" {
		t.Fatal("expected non-empty stats")
	}
}

func TestUnknownTool(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := callTool(t, server, "not_a_real_tool", map[string]interface{}{})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("expected unknown-tool error, got %#v", resp.Error)
	}
}
