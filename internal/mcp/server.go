// Package mcp implements MemoryPilot's Model Context Protocol server.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Soflution1/memory-pilot/internal/memerr"
	"github.com/Soflution1/memory-pilot/internal/memory"
)

// Version is set from main at startup and reported in the initialize
// response's serverInfo block.
var Version = "dev"

// Server implements the MCP protocol over stdio.
type Server struct {
	store   *memory.Store
	scanner *bufio.Scanner
}

// NewServer opens the memory store at dbPath and wires it into a fresh
// server ready to Start().
func NewServer(dbPath string) (*Server, error) {
	store, err := memory.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}
	return &Server{
		store:   store,
		scanner: bufio.NewScanner(os.Stdin),
	}, nil
}

// Start begins the MCP server's read-eval-respond loop over stdio.
func (s *Server) Start() error {
	fmt.Fprintln(os.Stderr, "MemoryPilot MCP server ready")

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			continue
		}

		var request JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &request); err != nil {
			s.sendError(nil, -32700, "Parse error", err.Error())
			continue
		}

		s.handleRequest(&request)
	}

	return s.scanner.Err()
}

// Stop gracefully shuts down the server, closing the underlying store.
func (s *Server) Stop() {
	if s.store != nil {
		s.store.Close()
	}
}

// Store exposes the underlying memory store for callers that need direct
// access outside the JSON-RPC loop (the CLI's status/gc/export commands).
func (s *Server) Store() *memory.Store {
	return s.store
}

func (s *Server) handleRequest(req *JSONRPCRequest) {
	ctx := context.Background()

	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "notifications/initialized":
		// No response expected for notifications.
	case "ping":
		s.sendResult(req.ID, map[string]interface{}{})
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolCall(ctx, req)
	case "resources/list":
		s.handleResourcesList(req)
	case "resources/read":
		s.handleResourceRead(ctx, req)
	case "prompts/list":
		s.handlePromptsList(req)
	case "prompts/get":
		s.handlePromptsGet(ctx, req)
	default:
		s.sendError(req.ID, -32601, "Method not found", req.Method)
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) {
	result := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "memory-pilot",
			"version": Version,
		},
	}
	s.sendResult(req.ID, result)
}

func (s *Server) handleToolsList(req *JSONRPCRequest) {
	s.sendResult(req.ID, map[string]interface{}{"tools": toolDefinitions()})
}

func (s *Server) handleResourcesList(req *JSONRPCRequest) {
	s.sendResult(req.ID, map[string]interface{}{"resources": []map[string]interface{}{}})
}

func (s *Server) handleResourceRead(ctx context.Context, req *JSONRPCRequest) {
	s.sendError(req.ID, -32601, "No resources are published", "")
}

func (s *Server) handlePromptsList(req *JSONRPCRequest) {
	s.sendResult(req.ID, map[string]interface{}{"prompts": []map[string]interface{}{}})
}

func (s *Server) handlePromptsGet(ctx context.Context, req *JSONRPCRequest) {
	s.sendError(req.ID, -32601, "No prompts are published", "")
}

// handleToolCall dispatches a tools/call request to the named tool handler
// and wraps the outcome in MCP's content envelope.
func (s *Server) handleToolCall(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}

	result, err := handler(s, ctx, params.Arguments)
	if err != nil {
		code := memerr.KindOf(err).JSONRPCCode()
		s.sendResult(req.ID, map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": fmt.Sprintf("Error [%d]: %v", code, err)},
			},
			"isError": true,
		})
		return
	}

	text, _ := json.MarshalIndent(result, "", "  ")
	s.sendResult(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
	})
}

// JSONRPCRequest is an inbound JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is an outbound JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) sendResult(id interface{}, result interface{}) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	fmt.Println(string(data))
}

func (s *Server) sendError(id interface{}, code int, message, data string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0", ID: id,
		Error: &RPCError{Code: code, Message: message, Data: data},
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return
	}
	fmt.Println(string(out))
}
