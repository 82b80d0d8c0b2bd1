package eval

import (
	"time"

	"github.com/pharmagent/medbench/pkg/agent"
	"github.com/pharmagent/medbench/pkg/flow"
	"github.com/pharmagent/medbench/pkg/mcpclient"
	"github.com/pharmagent/medbench/pkg/results"
	"github.com/pharmagent/medbench/pkg/scoring"
	"github.com/pharmagent/medbench/pkg/task"
)

const (
	DefaultMaxRounds = 10

	loadRetries     = 2
	dispatchRetries = 1

	DefaultLoadWait     = time.Second
	DefaultDispatchWait = 5 * time.Second
)

// PipelineOptions holds the collaborators of one task flow.
type PipelineOptions struct {
	Catalog  *task.Catalog
	Endpoint agent.Endpoint
	Policy   *scoring.Policy

	Server        mcpclient.ServerConfig
	DiscoverTools bool
	MaxRounds     int
	Timeout       time.Duration

	// LoadWait and DispatchWait are the base delays between retries.
	LoadWait     time.Duration
	DispatchWait time.Duration
}

// BuildFlow wires the seven task steps:
//
//	load_task -> prepare_context -> dispatch -> validate
//	validate --valid--> score --success--> generate_report
//	validate --invalid--> record_failure -> generate_report
//	score --failure--> record_failure
func BuildFlow(opts PipelineOptions) *flow.Flow[*State] {
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	load := flow.NewNode[*State, string, *task.Definition](StepLoadTask,
		&loadTask{catalog: opts.Catalog},
		flow.WithRetries(loadRetries, opts.LoadWait))
	prepare := flow.NewNode[*State, *task.Definition, string](StepPrepareContext,
		&prepareContext{server: opts.Server, discover: opts.DiscoverTools, maxRounds: maxRounds})
	send := flow.NewNode[*State, string, dispatched](StepDispatch,
		&dispatch{endpoint: opts.Endpoint, timeout: opts.Timeout},
		flow.WithRetries(dispatchRetries, opts.DispatchWait))
	check := flow.NewNode[*State, validateInput, *Validation](StepValidate, &validate{})
	grade := flow.NewNode[*State, scoring.Input, scoring.Outcome](StepScore, &score{policy: opts.Policy})
	failed := flow.NewNode[*State, failureInput, failureInfo](StepRecordFailure, &recordFailure{})
	report := flow.NewNode[*State, []results.TaskResult, *results.Report](StepGenerateReport, &generateReport{})

	load.Then(prepare).Then(send).Then(check)
	check.On(flow.Valid, grade)
	check.On(flow.Invalid, failed)
	grade.On(flow.Success, report)
	grade.On(flow.Failure, failed)
	failed.Then(report)

	return flow.New(load)
}
