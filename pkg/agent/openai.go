package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/pharmagent/medbench/pkg/logging"
	"github.com/pharmagent/medbench/pkg/mcpclient"
	"github.com/pharmagent/medbench/pkg/trace"
)

// DefaultMaxRounds is the chat round budget of the builtin agent.
const DefaultMaxRounds = 10

const (
	systemPrompt = `You are a medical AI agent with access to FHIR tools via MCP.

Call tools to gather information before answering. Use the exact parameter names from the tool schemas.
When you have the final answer, respond with FINISH([answer1, answer2, ...]). The list must be JSON.
- For numeric answers: FINISH([118])
- For text answers: FINISH(["Metformin", "Insulin"])
- For completed actions: FINISH(["recorded"]) or FINISH(["ordered"])
If the task context says "It's YYYY-MM-DDTHH:MM:SS now", use that instant as the reference date.`

	continuePrompt = "Continue: call a tool or give the final answer as FINISH([...])."
)

var finishPattern = regexp.MustCompile(`(?s)FINISH\s*\(\s*(\[.*?\])\s*\)`)

// OpenAIConfig configures the builtin agent.
type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxRounds int
	Server    mcpclient.ServerConfig
}

// OpenAIAgent is a tool-calling agent backed by an OpenAI compatible chat
// completions API and the tools of an MCP server. It records its own trace.
type OpenAIAgent struct {
	client    *openai.Client
	model     shared.ChatModel
	maxRounds int
	server    mcpclient.ServerConfig
}

var _ Endpoint = &OpenAIAgent{}

func NewOpenAIAgent(cfg OpenAIConfig) (*OpenAIAgent, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("both base url and API key must be provided to create an openai agent")
	}

	model := shared.ChatModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.ChatModelGPT4o
	}

	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	client := openai.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
	)

	return &OpenAIAgent{
		client:    &client,
		model:     model,
		maxRounds: maxRounds,
		server:    cfg.Server,
	}, nil
}

func (o *OpenAIAgent) Name() string {
	return "openai:" + string(o.model)
}

func (o *OpenAIAgent) Close() error {
	return nil
}

func (o *OpenAIAgent) Send(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	tools, err := connectTools(ctx, o.server)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tools.Close() }()

	text, steps, err := o.run(ctx, tools, req.Prompt)
	if err != nil {
		return nil, err
	}
	return &Response{Text: text, Trace: steps}, nil
}

// run drives the chat loop until the model answers with FINISH or the round
// budget is spent. Model failures end the loop with an error answer rather
// than an error, so the trace up to that point is kept.
func (o *OpenAIAgent) run(ctx context.Context, tools *mcpTools, prompt string) (string, []trace.Step, error) {
	log := logging.FromContext(ctx).WithField("agent", o.Name())

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(prompt),
	}
	toolParams := tools.openAITools()
	steps := make([]trace.Step, 0, o.maxRounds+1)

	for round := 1; round <= o.maxRounds; round++ {
		params := openai.ChatCompletionNewParams{
			Model:    o.model,
			Messages: messages,
		}
		if len(toolParams) > 0 {
			params.Tools = toolParams
		}

		completion, err := o.client.Chat.Completions.New(ctx, params)
		if err == nil && len(completion.Choices) == 0 {
			err = fmt.Errorf("no completion choices returned")
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", nil, ctxErr
			}
			log.WithError(err).WithField("round", round).Warn("chat completion failed")
			steps = append(steps, trace.Step{Round: round, Error: fmt.Sprintf("LLM call failed: %v", err)})
			return errorAnswer(fmt.Sprintf("error: LLM call failed - %v", err)), steps, nil
		}

		message := completion.Choices[0].Message
		messages = append(messages, message.ToParam())

		if m := finishPattern.FindStringSubmatch(message.Content); m != nil {
			steps = append(steps, trace.Step{
				Round:  round,
				Action: trace.ActionFinish,
				Result: m[1],
				Output: message.Content,
			})
			return "FINISH(" + m[1] + ")", steps, nil
		}

		if len(message.ToolCalls) == 0 {
			steps = append(steps, trace.Step{Round: round, Action: trace.ActionReasoning, Output: message.Content})
			messages = append(messages, openai.UserMessage(continuePrompt))
			continue
		}

		for _, call := range message.ToolCalls {
			step := trace.Step{
				Round:    round,
				Action:   trace.ActionToolCall,
				ToolName: call.Function.Name,
				Output:   message.Content,
			}

			var content string
			if err := json.Unmarshal([]byte(call.Function.Arguments), &step.ToolArgs); err != nil {
				step.ToolError = fmt.Sprintf("invalid tool arguments: %v", err)
				content = "Error: " + step.ToolError
			} else if res, err := tools.call(ctx, call.Function.Name, step.ToolArgs); err != nil {
				step.ToolError = err.Error()
				content = "Error calling tool: " + step.ToolError
			} else {
				step.ToolResult = trace.Truncate(mcpclient.ResultText(res))
				if res.IsError {
					step.ToolError = step.ToolResult
				}
				content = step.ToolResult
			}

			log.WithField("round", round).WithField("tool", step.ToolName).Debug("tool called")
			steps = append(steps, step)
			messages = append(messages, openai.ToolMessage(content, call.ID))
		}
	}

	steps = append(steps, trace.Step{Round: o.maxRounds + 1, Action: trace.ActionMaxRounds})
	return errorAnswer("max_rounds_reached"), steps, nil
}

func errorAnswer(msg string) string {
	data, _ := json.Marshal([]string{msg})
	return "FINISH(" + string(data) + ")"
}
