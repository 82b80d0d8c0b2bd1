// Package mcptest runs an in-process MCP tool server for tests.
package mcptest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler computes the text result of a tool call.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a tool served by the test server.
type Tool struct {
	Name        string
	Description string
	Params      map[string]string // name -> JSON type
	Required    []string
	// Result is returned when Handler is nil.
	Result  string
	Handler Handler
}

// Call is a captured invocation.
type Call struct {
	Tool string
	Args map[string]any
}

// Server is a streamable-HTTP MCP server backed by httptest.
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	calls []Call
}

// NewServer starts a server exposing tools. It is closed on test cleanup.
func NewServer(t testing.TB, tools ...Tool) *Server {
	t.Helper()

	s := &Server{}
	srv := mcp.NewServer(&mcp.Implementation{Name: "fhir-tools", Version: "test"}, nil)
	for _, tool := range tools {
		srv.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema(tool),
		}, s.handle(tool))
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, &mcp.StreamableHTTPOptions{}))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) handle(tool Tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			_ = json.Unmarshal(req.Params.Arguments, &args)
		}

		s.mu.Lock()
		s.calls = append(s.calls, Call{Tool: tool.Name, Args: args})
		s.mu.Unlock()

		text := tool.Result
		if tool.Handler != nil {
			var err error
			if text, err = tool.Handler(ctx, args); err != nil {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				}, nil
			}
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
	}
}

// Calls returns the captured calls in order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func schema(tool Tool) map[string]any {
	props := make(map[string]any, len(tool.Params))
	for name, typ := range tool.Params {
		props[name] = map[string]any{"type": typ}
	}
	s := map[string]any{"type": "object", "properties": props}
	if len(tool.Required) > 0 {
		s["required"] = tool.Required
	}
	return s
}
