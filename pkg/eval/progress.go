package eval

import "github.com/pharmagent/medbench/pkg/results"

type EventType string

const (
	EventEvalStart    EventType = "eval_start"
	EventTaskStart    EventType = "task_start"
	EventTaskComplete EventType = "task_complete"
	EventTaskError    EventType = "task_error"
	EventEvalComplete EventType = "eval_complete"
)

// ProgressEvent reports batch progress. Result is set on task_complete and
// task_error.
type ProgressEvent struct {
	Type    EventType
	Message string
	TaskID  string
	Result  *results.TaskResult
	// Index is the 1-based position of the task in the batch.
	Index int
	Total int
}

type ProgressCallback func(event ProgressEvent)

func NoopProgressCallback(ProgressEvent) {}
