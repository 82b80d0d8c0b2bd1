package eval

import (
	"time"

	"github.com/pharmagent/medbench/pkg/agent"
	"github.com/pharmagent/medbench/pkg/results"
	"github.com/pharmagent/medbench/pkg/scoring"
	"github.com/pharmagent/medbench/pkg/task"
	"github.com/pharmagent/medbench/pkg/trace"
)

// Validation is the result of checking the answer envelope. It is written
// once by the validate step.
type Validation struct {
	IsValid      bool                `json:"is_valid"`
	Errors       []string            `json:"errors,omitempty"`
	ParsedAnswer []string            `json:"parsed_answer"`
	FailureKind  scoring.FailureKind `json:"failure_kind,omitempty"`
}

// State is threaded through every step of one task's flow. Only Finalize
// methods write to it.
type State struct {
	TaskID string
	Agent  string

	Task     *task.Definition
	Prompt   string
	Response *agent.Response
	// DispatchError is set when the agent could not be reached and an error
	// payload was substituted for its response.
	DispatchError string

	Validation *Validation
	Outcome    *scoring.Outcome

	// Metrics is shared by every task of a batch.
	Metrics *results.Metrics
	Report  *results.Report

	started time.Time
}

// NewState returns the state for one run of taskID recording into metrics.
func NewState(taskID string, metrics *results.Metrics) *State {
	if metrics == nil {
		metrics = results.NewMetrics()
	}
	return &State{
		TaskID:  taskID,
		Metrics: metrics,
		started: time.Now(),
	}
}

// ResponseText is the agent's raw answer, empty before dispatch.
func (s *State) ResponseText() string {
	if s.Response == nil {
		return ""
	}
	return s.Response.Text
}

// Trace is the agent's execution trace, nil when it sent none.
func (s *State) Trace() []trace.Step {
	if s.Response == nil {
		return nil
	}
	return s.Response.Trace
}

// ParsedAnswer is the validated answer, nil when invalid or not yet
// validated.
func (s *State) ParsedAnswer() []string {
	if s.Validation == nil {
		return nil
	}
	return s.Validation.ParsedAnswer
}

// taskResult snapshots the state as a metrics entry.
func (s *State) taskResult() results.TaskResult {
	id := s.TaskID
	if s.Task != nil {
		id = s.Task.ID
	}

	r := results.TaskResult{
		TaskID:   id,
		Answer:   s.ParsedAnswer(),
		Error:    s.DispatchError,
		Response: s.ResponseText(),
		Trace:    s.Trace(),
		Agent:    s.Agent,
	}
	if !s.started.IsZero() {
		r.DurationSeconds = time.Since(s.started).Seconds()
	}
	if o := s.Outcome; o != nil {
		r.Correct = o.Correct
		r.Score = o.Score
		r.FailureKind = o.FailureKind
		r.FailureReason = o.FailureReason
		r.ComputedExpected = o.ComputedExpected
		r.Decision = o.Decision
	}
	if s.Validation != nil {
		r.Details = s.Validation.Errors
	}
	return r
}
