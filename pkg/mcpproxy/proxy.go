// Package mcpproxy serves a recording copy of an MCP server's tools. Agents
// that call tools themselves are pointed at the proxy so every call they make
// ends up in the execution trace.
package mcpproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pharmagent/medbench/pkg/mcpclient"
	"github.com/pharmagent/medbench/pkg/trace"
)

const shutdownTimeout = 5 * time.Second

// Proxy forwards tool calls to an upstream MCP server and records them.
type Proxy struct {
	upstream *mcp.ClientSession
	server   *mcp.Server
	tools    []*mcp.Tool
	recorder *recorder

	mu         sync.Mutex
	httpServer *http.Server
	url        string
}

// New connects to the upstream server and mirrors its tools.
func New(ctx context.Context, cfg mcpclient.ServerConfig) (*Proxy, error) {
	cs, err := mcpclient.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to upstream mcp server %s: %w", cfg.URL, err)
	}

	p := &Proxy{
		upstream: cs,
		recorder: newRecorder(),
	}

	init := cs.InitializeResult()
	p.server = mcp.NewServer(init.ServerInfo, &mcp.ServerOptions{
		Instructions: init.Instructions,
		HasTools:     true,
	})

	for t, err := range cs.Tools(ctx, &mcp.ListToolsParams{}) {
		if err != nil {
			_ = cs.Close()
			return nil, fmt.Errorf("failed to list upstream tools: %w", err)
		}
		if t.InputSchema == nil {
			t.InputSchema = map[string]any{"type": "object"}
		}
		p.server.AddTool(t, p.forward)
		p.tools = append(p.tools, t)
	}

	return p, nil
}

func (p *Proxy) forward(ctx context.Context, ctr *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := p.upstream.CallTool(ctx, &mcp.CallToolParams{
		Meta:      ctr.Params.Meta,
		Name:      ctr.Params.Name,
		Arguments: ctr.Params.Arguments,
	})
	p.recorder.recordToolCall(ctr, res, err)
	return res, err
}

// Start serves the proxy over streamable HTTP on a loopback port and returns
// its endpoint. The server stops on Close.
func (p *Proxy) Start() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.httpServer != nil {
		return p.url, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return p.server
	}, &mcp.StreamableHTTPOptions{}))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to start listen: %w", err)
	}

	p.url = fmt.Sprintf("http://%s/mcp", listener.Addr().String())
	p.httpServer = &http.Server{Handler: mux}

	go func() {
		_ = p.httpServer.Serve(listener)
	}()

	return p.url, nil
}

// URL is the proxy endpoint, empty before Start.
func (p *Proxy) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Tools returns the mirrored tools.
func (p *Proxy) Tools() []*mcp.Tool {
	return p.tools
}

// Trace returns the tool calls recorded so far.
func (p *Proxy) Trace() []trace.Step {
	return p.recorder.history()
}

func (p *Proxy) Close() error {
	p.mu.Lock()
	srv := p.httpServer
	p.mu.Unlock()

	var errs []error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("proxy shutdown failed: %w", err))
		}
	}
	if err := p.upstream.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
