// Package trace models the execution trace an agent returns alongside its
// answer: one record per round, naming the action taken and, for tool calls,
// the tool, its arguments and the text it returned.
package trace

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// Action is the kind of thing an agent did in a round.
type Action string

const (
	ActionFinish    Action = "FINISH"
	ActionToolCall  Action = "TOOL_CALL"
	ActionReasoning Action = "REASONING"
	ActionMaxRounds Action = "MAX_ROUNDS_REACHED"
)

// MaxToolResult bounds the tool output kept per step.
const MaxToolResult = 8000

const truncatedSuffix = "... (truncated)"

// Step is one round of an agent's trace.
type Step struct {
	Round      int            `json:"round"`
	Action     Action         `json:"action,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
	ToolError  string         `json:"tool_error,omitempty"`
	// Result holds the FINISH payload for finishing steps.
	Result string `json:"result,omitempty"`
	Output string `json:"llm_output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// UnmarshalJSON accepts traces produced by agents that return structured tool
// results or non-object arguments; those are kept as JSON text.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw struct {
		Round      json.Number     `json:"round"`
		Action     Action          `json:"action"`
		ToolName   string          `json:"tool_name"`
		ToolArgs   json.RawMessage `json:"tool_args"`
		ToolResult json.RawMessage `json:"tool_result"`
		ToolError  string          `json:"tool_error"`
		Result     json.RawMessage `json:"result"`
		Output     string          `json:"llm_output"`
		Error      string          `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Step{
		Action:     raw.Action,
		ToolName:   raw.ToolName,
		ToolResult: text(raw.ToolResult),
		ToolError:  raw.ToolError,
		Result:     text(raw.Result),
		Output:     raw.Output,
		Error:      raw.Error,
	}
	if raw.Round != "" {
		round, err := raw.Round.Int64()
		if err != nil {
			return fmt.Errorf("round %q: %w", raw.Round, err)
		}
		s.Round = int(round)
	}
	if len(raw.ToolArgs) > 0 && string(raw.ToolArgs) != "null" {
		if err := json.Unmarshal(raw.ToolArgs, &s.ToolArgs); err != nil {
			s.ToolArgs = map[string]any{"raw": text(raw.ToolArgs)}
		}
	}
	return nil
}

func text(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}

// Truncate shortens tool output to MaxToolResult characters.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxToolResult {
		return s
	}
	return string([]rune(s)[:MaxToolResult]) + truncatedSuffix
}

// IsWrite reports whether the step's tool result carries a write marker:
// an accepted flag or a fhir_post echo from the record server.
func (s Step) IsWrite() bool {
	result := strings.ToLower(s.ToolResult)
	return strings.Contains(result, "fhir_post") || acceptedFlag(result)
}

// WriteAccepted reports whether the server acknowledged the write.
func (s Step) WriteAccepted() bool {
	result := strings.ToLower(s.ToolResult)
	return acceptedFlag(result) ||
		strings.Contains(result, `"status_code":200`) ||
		strings.Contains(result, `"status_code": 200`)
}

func acceptedFlag(lower string) bool {
	return strings.Contains(lower, `"accepted":true`) || strings.Contains(lower, `"accepted": true`)
}

// Writes counts the steps carrying a write marker, accepted or not.
func Writes(steps []Step) int {
	n := 0
	for _, s := range steps {
		if s.IsWrite() {
			n++
		}
	}
	return n
}

// AcceptedWrites counts the write steps the server acknowledged.
func AcceptedWrites(steps []Step) int {
	n := 0
	for _, s := range steps {
		if s.IsWrite() && s.WriteAccepted() {
			n++
		}
	}
	return n
}

// Recorder collects steps from a running agent. It is safe for concurrent
// use, since ACP session updates arrive on their own goroutine.
type Recorder struct {
	mu    sync.RWMutex
	steps []Step
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{steps: make([]Step, 0)}
}

// Record appends a step.
func (r *Recorder) Record(s Step) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.steps = append(r.steps, s)
}

// Update applies fn to the most recent step matching match, searching from
// the end. It reports whether a step was found.
func (r *Recorder) Update(match func(Step) bool, fn func(*Step)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.steps) - 1; i >= 0; i-- {
		if match(r.steps[i]) {
			fn(&r.steps[i])
			return true
		}
	}
	return false
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.steps)
}

// Steps returns a copy of the recorded steps.
func (r *Recorder) Steps() []Step {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}
