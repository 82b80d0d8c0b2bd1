package acpclient

import (
	"context"
	"fmt"

	"github.com/coder/acp-go-sdk"
)

var _ acp.Client = &client{}

// RequestPermission grants calls to the offered MCP tools and rejects
// everything else. The agent works on a scratch directory only.
func (c *client) RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	session, ok := c.sessions[params.SessionId]
	if !ok {
		return acp.RequestPermissionResponse{}, fmt.Errorf("no matching session on client")
	}
	if len(params.Options) < 1 {
		return acp.RequestPermissionResponse{}, fmt.Errorf("at least one option is required to request permission")
	}

	if session.isAllowedToolCall(params.ToolCall) {
		opt, ok := pickOption(params.Options, acp.PermissionOptionKindAllowAlways, acp.PermissionOptionKindAllowOnce)
		if !ok {
			opt = params.Options[0]
		}
		return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeSelected(opt.OptionId)}, nil
	}

	opt, ok := pickOption(params.Options, acp.PermissionOptionKindRejectAlways, acp.PermissionOptionKindRejectOnce)
	if !ok {
		return acp.RequestPermissionResponse{}, fmt.Errorf("no reject option provided")
	}
	return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeSelected(opt.OptionId)}, nil
}

// pickOption returns the first option of kind preferred, else the last one
// of kind fallback.
func pickOption(options []acp.PermissionOption, preferred, fallback acp.PermissionOptionKind) (acp.PermissionOption, bool) {
	var (
		best  acp.PermissionOption
		found bool
	)
	for _, opt := range options {
		switch opt.Kind {
		case preferred:
			return opt, true
		case fallback:
			best, found = opt, true
		}
	}
	return best, found
}

// SessionUpdate collects streamed output for the session it belongs to.
func (c *client) SessionUpdate(ctx context.Context, params acp.SessionNotification) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	session, ok := c.sessions[params.SessionId]
	if !ok {
		return fmt.Errorf("no matching session on client")
	}

	session.update(params.Update)

	return nil
}

// The client advertises no filesystem or terminal capabilities, so the
// remaining methods refuse.

func (c *client) ReadTextFile(ctx context.Context, params acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	return acp.ReadTextFileResponse{}, fmt.Errorf("no fs.readTextFile capability")
}

func (c *client) WriteTextFile(ctx context.Context, params acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	return acp.WriteTextFileResponse{}, fmt.Errorf("no fs.writeTextFile capability")
}

func (c *client) CreateTerminal(ctx context.Context, params acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, fmt.Errorf("no terminal capability")
}

func (c *client) KillTerminalCommand(ctx context.Context, params acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, fmt.Errorf("no terminal capability")
}

func (c *client) TerminalOutput(ctx context.Context, params acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, fmt.Errorf("no terminal capability")
}

func (c *client) ReleaseTerminal(ctx context.Context, params acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, fmt.Errorf("no terminal capability")
}

func (c *client) WaitForTerminalExit(ctx context.Context, params acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, fmt.Errorf("no terminal capability")
}
