// Package acpclient runs a prompt against a coding agent that speaks the
// Agent Client Protocol over stdio, offering it MCP servers to work with.
package acpclient

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/coder/acp-go-sdk"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const transportTypeHTTP = "http"

// Config is how to launch the agent process.
type Config struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Server is an MCP server offered to the agent. Calls to its tools are
// granted without asking.
type Server struct {
	Name  string
	URL   string
	Tools []*mcp.Tool
}

// Result is what the agent produced for one prompt.
type Result struct {
	// Text is the concatenated agent message chunks.
	Text       string
	StopReason string
	Updates    []acp.SessionUpdate
}

type Client interface {
	// Start starts the agent process and initializes the ACP connection
	Start(ctx context.Context) error
	// Run opens a new session and runs the prompt to completion. Must be called after Start
	Run(ctx context.Context, prompt string, servers []Server) (*Result, error)
	Close(ctx context.Context) error
}

func NewClient(cfg Config) Client {
	return &client{
		cfg:      cfg,
		sessions: make(map[acp.SessionId]*session),
	}
}

type client struct {
	cfg      Config
	mu       sync.RWMutex
	cmd      *exec.Cmd
	conn     *acp.ClientSideConnection
	sessions map[acp.SessionId]*session
}

func (c *client) Start(ctx context.Context) error {
	if c.cfg.Command == "" {
		return fmt.Errorf("acp agent command is required")
	}

	c.cmd = exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe to acp agent: %w", err)
	}

	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe to acp agent: %w", err)
	}

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start acp agent: %w", err)
	}

	c.conn = acp.NewClientSideConnection(c, stdin, stdout)

	initResp, err := c.conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs:       acp.FileSystemCapability{ReadTextFile: false, WriteTextFile: false},
			Terminal: false,
		},
	})
	if err != nil {
		_ = c.cmd.Process.Kill()
		return fmt.Errorf("failed to initialize connection to acp agent: %w", err)
	}

	if !initResp.AgentCapabilities.McpCapabilities.Http {
		_ = c.cmd.Process.Kill()
		return fmt.Errorf("invalid acp agent: the agent must support the http mcp transport")
	}

	return nil
}

func (c *client) Run(ctx context.Context, prompt string, servers []Server) (*Result, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("acpclient.Client.Run must be called after acpclient.Client.Start")
	}

	tmpDir, err := os.MkdirTemp("", "medbench-agent-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory for agent execution: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	mcpServers := make([]acp.McpServer, 0, len(servers))
	for _, srv := range servers {
		mcpServers = append(mcpServers, acp.McpServer{
			Http: &acp.McpServerHttp{
				Name:    srv.Name,
				Url:     srv.URL,
				Type:    transportTypeHTTP,
				Headers: make([]acp.HttpHeader, 0),
			},
		})
	}

	sess, err := c.conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        tmpDir,
		McpServers: mcpServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start new ACP session: %w", err)
	}

	c.mu.Lock()
	c.sessions[sess.SessionId] = newSession(servers)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.sessions, sess.SessionId)
		c.mu.Unlock()
	}()

	resp, err := c.conn.Prompt(ctx, acp.PromptRequest{
		SessionId: sess.SessionId,
		Prompt:    []acp.ContentBlock{acp.TextBlock(prompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send prompt to acp session: %w", err)
	}

	c.mu.RLock()
	s := c.sessions[sess.SessionId]
	c.mu.RUnlock()

	res := s.result()
	res.StopReason = string(resp.StopReason)
	return res, nil
}

func (c *client) Close(ctx context.Context) error {
	if c.cmd == nil || c.cmd.Process == nil || (c.cmd.ProcessState != nil && c.cmd.ProcessState.Exited()) {
		return nil
	}

	return c.cmd.Process.Kill()
}
