package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmagent/medbench/pkg/scoring"
)

func batchEndpoint() *fakeEndpoint {
	return &fakeEndpoint{answers: map[string]string{
		"S6534835": `FINISH(["S6534835"])`,
		"S1111111": `FINISH(["S0000000"])`,
		"S2874099": "FINISH([23])",
	}}
}

func TestBatch_Run(t *testing.T) {
	tt := map[string]struct {
		parallel int
	}{
		"sequential": {parallel: 1},
		"parallel":   {parallel: 3},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			b := &Batch{Name: "smoke", Parallel: tc.parallel, Pipeline: testPipeline(t, batchEndpoint())}

			var events []ProgressEvent
			artifact, err := b.Run(context.Background(), []string{"task2_1", "task1_1", "task1_2"}, func(e ProgressEvent) {
				events = append(events, e)
			})
			require.NoError(t, err)

			require.Len(t, artifact.Tasks, 3)
			assert.Equal(t, "task2_1", artifact.Tasks[0].TaskID)
			assert.Equal(t, "task1_1", artifact.Tasks[1].TaskID)
			assert.Equal(t, "task1_2", artifact.Tasks[2].TaskID)

			report := artifact.Report
			assert.Equal(t, 3, report.TotalTasks)
			assert.Equal(t, 2, report.Passed)
			assert.InDelta(t, 66.67, report.PassRate, 0.01)
			assert.Equal(t, map[scoring.FailureKind]int{scoring.AnswerMismatch: 1}, report.FailureBreakdown)
			assert.False(t, report.AllPassed())

			assert.Equal(t, "smoke", artifact.Name)
			assert.Equal(t, "fake", artifact.Agent)
			assert.NotEmpty(t, artifact.RunID)

			require.Len(t, events, 8)
			assert.Equal(t, EventEvalStart, events[0].Type)
			assert.Equal(t, 3, events[0].Total)
			assert.Equal(t, EventEvalComplete, events[7].Type)

			completed := 0
			for _, e := range events {
				if e.Type == EventTaskComplete {
					completed++
					require.NotNil(t, e.Result)
					assert.Equal(t, e.TaskID, e.Result.TaskID)
				}
			}
			assert.Equal(t, 3, completed)
		})
	}
}

func TestBatch_RecordsEvaluationErrors(t *testing.T) {
	b := &Batch{Pipeline: testPipeline(t, batchEndpoint())}

	var errorsSeen int
	artifact, err := b.Run(context.Background(), []string{"task1_1", "task9_9"}, func(e ProgressEvent) {
		if e.Type == EventTaskError {
			errorsSeen++
		}
	})
	require.NoError(t, err)

	require.Len(t, artifact.Tasks, 2)
	failed := artifact.Tasks[1]
	assert.Equal(t, "task9_9", failed.TaskID)
	assert.Equal(t, scoring.EvaluationError, failed.FailureKind)
	assert.False(t, failed.Correct)
	assert.Zero(t, failed.Score)
	assert.Contains(t, failed.Error, "task not found")
	assert.Equal(t, 1, errorsSeen)
	assert.Equal(t, 1, artifact.Report.FailureBreakdown[scoring.EvaluationError])
}

func TestBatch_DeduplicatesIDs(t *testing.T) {
	endpoint := batchEndpoint()
	b := &Batch{Pipeline: testPipeline(t, endpoint)}

	artifact, err := b.Run(context.Background(), []string{"task1_1", " task1_1 ", ""}, nil)
	require.NoError(t, err)

	assert.Len(t, artifact.Tasks, 1)
	assert.Equal(t, 1, endpoint.calls())
}

func TestBatch_Cancelled(t *testing.T) {
	endpoint := batchEndpoint()
	b := &Batch{Pipeline: testPipeline(t, endpoint)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	artifact, err := b.Run(ctx, []string{"task1_1", "task1_2"}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, artifact)
	assert.Empty(t, artifact.Tasks)
	assert.Zero(t, endpoint.calls())
}
