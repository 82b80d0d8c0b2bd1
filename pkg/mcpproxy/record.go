package mcpproxy

import (
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pharmagent/medbench/pkg/mcpclient"
	"github.com/pharmagent/medbench/pkg/trace"
)

// recorder turns proxied tool calls into trace steps, numbering them in the
// order they complete.
type recorder struct {
	mu    sync.Mutex
	steps *trace.Recorder
}

func newRecorder() *recorder {
	return &recorder{steps: trace.NewRecorder()}
}

func (r *recorder) recordToolCall(req *mcp.CallToolRequest, res *mcp.CallToolResult, err error) {
	step := trace.Step{
		Action:   trace.ActionToolCall,
		ToolName: req.Params.Name,
		ToolArgs: arguments(req.Params.Arguments),
	}

	switch {
	case err != nil:
		step.ToolError = err.Error()
	default:
		step.ToolResult = trace.Truncate(mcpclient.ResultText(res))
		if res != nil && res.IsError {
			step.ToolError = step.ToolResult
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	step.Round = r.steps.Len() + 1
	r.steps.Record(step)
}

func (r *recorder) history() []trace.Step {
	return r.steps.Steps()
}

func arguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return args
}
