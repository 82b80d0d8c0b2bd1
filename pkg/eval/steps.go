package eval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pharmagent/medbench/pkg/agent"
	"github.com/pharmagent/medbench/pkg/answer"
	"github.com/pharmagent/medbench/pkg/flow"
	"github.com/pharmagent/medbench/pkg/logging"
	"github.com/pharmagent/medbench/pkg/mcpclient"
	"github.com/pharmagent/medbench/pkg/results"
	"github.com/pharmagent/medbench/pkg/scoring"
	"github.com/pharmagent/medbench/pkg/task"
)

const (
	StepLoadTask       = "load_task"
	StepPrepareContext = "prepare_context"
	StepDispatch       = "dispatch"
	StepValidate       = "validate"
	StepScore          = "score"
	StepRecordFailure  = "record_failure"
	StepGenerateReport = "generate_report"

	unclassifiedReason = "Unclassified failure"
)

var errMissingInput = errors.New("missing input from an earlier step")

// loadTask resolves the task id against the catalog.
type loadTask struct {
	catalog *task.Catalog
}

func (s *loadTask) Prepare(st *State) (string, error) {
	if st.TaskID == "" {
		return "", fmt.Errorf("%w: task id", errMissingInput)
	}
	return st.TaskID, nil
}

func (s *loadTask) Compute(ctx context.Context, id string) (*task.Definition, error) {
	def, err := s.catalog.Load(id)
	if errors.Is(err, task.ErrNotFound) {
		return nil, backoff.Permanent(err)
	}
	return def, err
}

func (s *loadTask) Finalize(st *State, _ string, def *task.Definition) (flow.Outcome, error) {
	st.Task = def
	return flow.Default, nil
}

// prepareContext renders the prompt, enriched with the live tool catalog
// when discovery succeeds.
type prepareContext struct {
	server    mcpclient.ServerConfig
	discover  bool
	maxRounds int
}

func (s *prepareContext) Prepare(st *State) (*task.Definition, error) {
	if st.Task == nil {
		return nil, fmt.Errorf("%w: task definition", errMissingInput)
	}
	return st.Task, nil
}

func (s *prepareContext) Compute(ctx context.Context, def *task.Definition) (string, error) {
	var tools string
	if s.discover && s.server.URL != "" {
		d := mcpclient.Discover(ctx, s.server, mcpclient.DiscoveryTimeout)
		if d.Count() > 0 {
			tools = d.Formatted()
		}
		logging.FromContext(ctx).WithField("tools", d.Count()).Debug("tool discovery finished")
	}
	return RenderPrompt(def, s.maxRounds, tools), nil
}

func (s *prepareContext) Finalize(st *State, _ *task.Definition, prompt string) (flow.Outcome, error) {
	st.Prompt = prompt
	return flow.Default, nil
}

// dispatched is the agent's reply, or the error payload standing in for it.
type dispatched struct {
	response *agent.Response
	err      string
}

// dispatch sends the prompt to the agent under evaluation.
type dispatch struct {
	endpoint agent.Endpoint
	timeout  time.Duration
}

func (s *dispatch) Prepare(st *State) (string, error) {
	if st.Prompt == "" {
		return "", fmt.Errorf("%w: prompt", errMissingInput)
	}
	return st.Prompt, nil
}

func (s *dispatch) Compute(ctx context.Context, prompt string) (dispatched, error) {
	resp, err := s.endpoint.Send(ctx, agent.Request{
		Prompt:          prompt,
		NewConversation: true,
		Timeout:         s.timeout,
	})
	if errors.Is(err, agent.ErrNotCompleted) {
		// the agent answered; asking again would not change its mind
		return dispatched{}, backoff.Permanent(err)
	}
	if err != nil {
		return dispatched{}, err
	}
	return dispatched{response: resp}, nil
}

// Fallback substitutes an empty response so the task is still validated
// and recorded as failed.
func (s *dispatch) Fallback(ctx context.Context, _ string, err error) (dispatched, error) {
	logging.FromContext(ctx).WithError(err).WithField("agent", s.endpoint.Name()).Warn("agent dispatch failed")
	return dispatched{
		response: &agent.Response{},
		err:      fmt.Sprintf("agent dispatch failed: %v", err),
	}, nil
}

func (s *dispatch) Finalize(st *State, _ string, out dispatched) (flow.Outcome, error) {
	st.Response = out.response
	if st.Response == nil {
		st.Response = &agent.Response{}
	}
	st.DispatchError = out.err
	st.Agent = s.endpoint.Name()
	return flow.Default, nil
}

type validateInput struct {
	raw         string
	dispatchErr string
}

// validate extracts the FINISH answer from the raw response.
type validate struct{}

func (s *validate) Prepare(st *State) (validateInput, error) {
	if st.Response == nil {
		return validateInput{}, fmt.Errorf("%w: agent response", errMissingInput)
	}
	return validateInput{raw: st.Response.Text, dispatchErr: st.DispatchError}, nil
}

func (s *validate) Compute(_ context.Context, in validateInput) (*Validation, error) {
	v := &Validation{IsValid: true}

	parsed, err := answer.Parse(in.raw)
	if err != nil {
		v.IsValid = false
		v.FailureKind = scoring.InvalidFinishFormat
		if in.dispatchErr != "" {
			v.Errors = append(v.Errors, in.dispatchErr)
		}
		switch {
		case errors.Is(err, answer.ErrNoEnvelope):
			v.Errors = append(v.Errors, "Response does not contain FINISH(...) format")
		default:
			v.Errors = append(v.Errors, err.Error())
		}
		return v, nil
	}

	v.ParsedAnswer = parsed
	return v, nil
}

func (s *validate) Finalize(st *State, _ validateInput, v *Validation) (flow.Outcome, error) {
	st.Validation = v
	if v.IsValid {
		return flow.Valid, nil
	}
	return flow.Invalid, nil
}

// score grades the validated answer.
type score struct {
	policy *scoring.Policy
}

func (s *score) Prepare(st *State) (scoring.Input, error) {
	if st.Task == nil || st.Validation == nil {
		return scoring.Input{}, fmt.Errorf("%w: task or validation", errMissingInput)
	}
	return scoring.Input{
		TaskID:   st.Task.ID,
		Patient:  st.Task.PatientReference,
		Declared: st.Task.DeclaredGroundTruth,
		Parsed:   st.Validation.ParsedAnswer,
		Raw:      st.ResponseText(),
		Trace:    st.Trace(),
		Readonly: st.Task.Readonly,

		ExpectedWrites: st.Task.ExpectedWriteCount,
	}, nil
}

func (s *score) Compute(ctx context.Context, in scoring.Input) (scoring.Outcome, error) {
	return s.policy.Score(ctx, in), nil
}

func (s *score) Finalize(st *State, _ scoring.Input, out scoring.Outcome) (flow.Outcome, error) {
	st.Outcome = &out
	st.Metrics.Record(st.taskResult())
	if out.Correct {
		return flow.Success, nil
	}
	return flow.Failure, nil
}

type failureInput struct {
	validation *Validation
	outcome    *scoring.Outcome
}

type failureInfo struct {
	kind    scoring.FailureKind
	reason  string
	details []string
}

// recordFailure attributes a failure kind to the task. Anything not already
// classified is recorded as unknown.
type recordFailure struct{}

func (s *recordFailure) Prepare(st *State) (failureInput, error) {
	return failureInput{validation: st.Validation, outcome: st.Outcome}, nil
}

func (s *recordFailure) Compute(_ context.Context, in failureInput) (failureInfo, error) {
	switch {
	case in.validation != nil && in.validation.FailureKind != "":
		return failureInfo{kind: in.validation.FailureKind, details: in.validation.Errors}, nil
	case in.outcome != nil && in.outcome.FailureKind != "":
		return failureInfo{kind: in.outcome.FailureKind, reason: in.outcome.FailureReason}, nil
	default:
		return failureInfo{kind: scoring.Unknown, reason: unclassifiedReason}, nil
	}
}

func (s *recordFailure) Finalize(st *State, _ failureInput, info failureInfo) (flow.Outcome, error) {
	if st.Outcome == nil {
		st.Outcome = &scoring.Outcome{}
	}
	if st.Outcome.FailureKind == "" {
		st.Outcome.FailureKind = info.kind
	}
	if st.Outcome.FailureReason == "" {
		st.Outcome.FailureReason = info.reason
		if st.Outcome.FailureReason == "" && len(info.details) > 0 {
			st.Outcome.FailureReason = info.details[0]
		}
	}

	st.Metrics.Record(st.taskResult())
	return flow.Default, nil
}

// generateReport folds the batch metrics into the aggregate report.
type generateReport struct{}

func (s *generateReport) Prepare(st *State) ([]results.TaskResult, error) {
	return st.Metrics.Results(), nil
}

func (s *generateReport) Compute(_ context.Context, rs []results.TaskResult) (*results.Report, error) {
	return results.Build(rs), nil
}

func (s *generateReport) Finalize(st *State, _ []results.TaskResult, report *results.Report) (flow.Outcome, error) {
	st.Report = report
	return flow.Default, nil
}
