package agent

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"
	"github.com/pharmagent/medbench/pkg/mcpclient"
)

// mcpTools is an open session to the tool server plus its tool list.
type mcpTools struct {
	session *mcp.ClientSession
	tools   []*mcp.Tool
}

func connectTools(ctx context.Context, cfg mcpclient.ServerConfig) (*mcpTools, error) {
	session, err := mcpclient.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
	}

	t := &mcpTools{session: session}
	for tool, err := range session.Tools(ctx, &mcp.ListToolsParams{}) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		t.tools = append(t.tools, tool)
	}
	return t, nil
}

// openAITools returns the tools as OpenAI function definitions.
func (t *mcpTools) openAITools() []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(t.tools))
	for _, tool := range t.tools {
		out = append(out, toOpenAITool(tool))
	}
	return out
}

func (t *mcpTools) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}
	return res, nil
}

func (t *mcpTools) Close() error {
	return t.session.Close()
}

func toOpenAITool(tool *mcp.Tool) openai.ChatCompletionToolUnionParam {
	function := shared.FunctionDefinitionParam{
		Name: tool.Name,
	}
	if tool.Description != "" {
		function.Description = openai.String(tool.Description)
	}
	if params, ok := tool.InputSchema.(map[string]any); ok {
		function.Parameters = shared.FunctionParameters(params)
	}
	return openai.ChatCompletionFunctionTool(function)
}
