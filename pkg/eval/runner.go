package eval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pharmagent/medbench/pkg/flow"
	"github.com/pharmagent/medbench/pkg/logging"
	"github.com/pharmagent/medbench/pkg/results"
	"github.com/pharmagent/medbench/pkg/scoring"
	"github.com/pharmagent/medbench/pkg/task"
	"github.com/pharmagent/medbench/pkg/util"
)

type EvalRunner interface {
	Run(ctx context.Context, ids []string) (*results.Artifact, error)
	RunWithProgress(ctx context.Context, ids []string, callback ProgressCallback) (*results.Artifact, error)
}

type evalRunner struct {
	spec *EvalSpec
}

var _ EvalRunner = &evalRunner{}

// NewRunner creates a new EvalRunner from an EvalSpec
func NewRunner(spec *EvalSpec) (EvalRunner, error) {
	if spec == nil {
		return nil, fmt.Errorf("eval spec cannot be nil")
	}

	return &evalRunner{spec: spec}, nil
}

func (r *evalRunner) Run(ctx context.Context, ids []string) (*results.Artifact, error) {
	return r.RunWithProgress(ctx, ids, NoopProgressCallback)
}

// RunWithProgress evaluates ids, or the configured tasks when ids is empty,
// or the whole catalog when neither is set.
func (r *evalRunner) RunWithProgress(ctx context.Context, ids []string, callback ProgressCallback) (*results.Artifact, error) {
	c, err := setup(ctx, r.spec)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.close(); err != nil {
			logging.FromContext(ctx).WithError(err).Debug("failed to release run resources")
		}
	}()

	if len(ids) == 0 {
		ids = r.spec.Config.Tasks
	}
	if len(ids) == 0 {
		ids = c.catalog.IDs()
	}

	b := &Batch{
		Name:     r.spec.Metadata.Name,
		Parallel: c.settings.Parallel,
		Pipeline: PipelineOptions{
			Catalog:       c.catalog,
			Endpoint:      c.endpoint,
			Policy:        c.policy,
			Server:        c.settings.Server,
			DiscoverTools: c.settings.DiscoverTools,
			MaxRounds:     c.settings.MaxRounds,
			Timeout:       c.settings.Timeout,
			LoadWait:      DefaultLoadWait,
			DispatchWait:  DefaultDispatchWait,
		},
	}
	return b.Run(ctx, ids, callback)
}

// Batch runs one flow per task over a shared metrics accumulator.
type Batch struct {
	Name     string
	Parallel int
	Pipeline PipelineOptions
}

// Run evaluates ids (bare families expand to their variants) and returns
// the artifact with results in request order. A task whose flow fails is
// recorded as an evaluation error and does not stop the batch. The only
// error returned is the context's, alongside the partial artifact.
func (b *Batch) Run(ctx context.Context, ids []string, callback ProgressCallback) (*results.Artifact, error) {
	if callback == nil {
		callback = NoopProgressCallback
	}
	var cbMu sync.Mutex
	progress := func(e ProgressEvent) {
		cbMu.Lock()
		defer cbMu.Unlock()
		callback(e)
	}

	ids = task.Expand(ids)
	runID := uuid.NewString()
	started := time.Now()
	log := logging.FromContext(ctx).WithField("run_id", runID)
	ctx = logging.WithLogger(ctx, log)

	progress(ProgressEvent{
		Type:    EventEvalStart,
		Message: fmt.Sprintf("Starting evaluation of %d tasks", len(ids)),
		Total:   len(ids),
	})

	parallel := b.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	pipeline := BuildFlow(b.Pipeline)
	metrics := results.NewMetrics()
	recorded := make([]string, len(ids))

	var eg errgroup.Group
	eg.SetLimit(parallel)
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			recorded[i] = b.runTask(ctx, pipeline, metrics, id, i+1, len(ids), progress)
			return nil
		})
	}
	_ = eg.Wait()

	var ordered []results.TaskResult
	seen := make(map[string]bool, len(ids))
	for _, id := range recorded {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := metrics.Get(id); ok {
			ordered = append(ordered, r)
		}
	}

	artifact := results.NewArtifact(runID, started, time.Now(), ordered)
	artifact.Name = b.Name
	if b.Pipeline.Endpoint != nil {
		artifact.Agent = b.Pipeline.Endpoint.Name()
	}

	progress(ProgressEvent{
		Type:    EventEvalComplete,
		Message: "Evaluation complete",
		Total:   len(ids),
	})

	if err := ctx.Err(); err != nil {
		return artifact, err
	}
	return artifact, nil
}

// runTask runs one flow and returns the id the task was recorded under.
func (b *Batch) runTask(
	ctx context.Context,
	pipeline *flow.Flow[*State],
	metrics *results.Metrics,
	id string,
	index, total int,
	progress ProgressCallback,
) string {
	log := logging.FromContext(ctx).WithField("task_id", id)
	ctx = logging.WithLogger(ctx, log)

	progress(ProgressEvent{
		Type:    EventTaskStart,
		Message: fmt.Sprintf("Starting task: %s", id),
		TaskID:  id,
		Index:   index,
		Total:   total,
	})
	if util.IsVerbose(ctx) {
		log.Info("dispatching task")
	}

	st := NewState(id, metrics)
	_, err := pipeline.Run(ctx, st)

	recordedID := id
	if st.Task != nil {
		recordedID = st.Task.ID
	}

	if err != nil {
		if ctx.Err() != nil {
			log.WithError(err).Warn("task interrupted")
		} else {
			log.WithError(err).Error("task evaluation failed")
		}
		metrics.Record(results.TaskResult{
			TaskID:      recordedID,
			Error:       err.Error(),
			FailureKind: scoring.EvaluationError,
			Agent:       st.Agent,
		})

		r, _ := metrics.Get(recordedID)
		progress(ProgressEvent{
			Type:    EventTaskError,
			Message: fmt.Sprintf("Task failed: %s", recordedID),
			TaskID:  recordedID,
			Result:  &r,
			Index:   index,
			Total:   total,
		})
		return recordedID
	}

	r, _ := metrics.Get(recordedID)
	log.WithField("correct", r.Correct).WithField("failure_kind", r.FailureKind).Info("task evaluated")
	progress(ProgressEvent{
		Type:    EventTaskComplete,
		Message: fmt.Sprintf("Completed task: %s (passed: %v)", recordedID, r.Correct),
		TaskID:  recordedID,
		Result:  &r,
		Index:   index,
		Total:   total,
	})
	return recordedID
}
