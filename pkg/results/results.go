// Package results holds per-task evaluation results, folds them into the
// aggregate report and reads and writes run artifacts.
package results

import (
	"slices"
	"strings"
	"sync"

	"github.com/pharmagent/medbench/pkg/groundtruth"
	"github.com/pharmagent/medbench/pkg/scoring"
	"github.com/pharmagent/medbench/pkg/trace"
)

// TaskResult is the metrics entry of one task.
type TaskResult struct {
	TaskID           string                `json:"task_id"`
	Correct          bool                  `json:"correct"`
	Score            float64               `json:"score"`
	FailureKind      scoring.FailureKind   `json:"failure_kind,omitempty"`
	FailureReason    string                `json:"failure_reason,omitempty"`
	Details          []string              `json:"details,omitempty"`
	ComputedExpected []any                 `json:"computed_expected,omitempty"`
	Decision         *groundtruth.Decision `json:"decision,omitempty"`
	Answer           []string              `json:"answer,omitempty"`
	Error            string                `json:"error,omitempty"`
	Response         string                `json:"response,omitempty"`
	Trace            []trace.Step          `json:"trajectory,omitempty"`
	Agent            string                `json:"agent,omitempty"`
	DurationSeconds  float64               `json:"duration_seconds,omitempty"`
}

// Passed reports whether the task was graded correct.
func (r *TaskResult) Passed() bool {
	return r.Correct
}

// merge fills the fields of r that are still unset from other. Set fields
// are never replaced, so a result only ever gains information.
func (r *TaskResult) merge(other TaskResult) {
	if !r.Correct && r.Score == 0 && r.FailureKind == "" {
		r.Correct, r.Score = other.Correct, other.Score
	}
	if r.FailureKind == "" {
		r.FailureKind = other.FailureKind
	}
	if r.FailureReason == "" {
		r.FailureReason = other.FailureReason
	}
	if len(r.Details) == 0 {
		r.Details = other.Details
	}
	if r.ComputedExpected == nil {
		r.ComputedExpected = other.ComputedExpected
	}
	if r.Decision == nil {
		r.Decision = other.Decision
	}
	if r.Answer == nil {
		r.Answer = other.Answer
	}
	if r.Error == "" {
		r.Error = other.Error
	}
	if r.Response == "" {
		r.Response = other.Response
	}
	if r.Trace == nil {
		r.Trace = other.Trace
	}
	if r.Agent == "" {
		r.Agent = other.Agent
	}
	if r.DurationSeconds == 0 {
		r.DurationSeconds = other.DurationSeconds
	}
}

// Metrics accumulates task results across a batch in first-recorded order.
// It is safe for concurrent use.
type Metrics struct {
	mu    sync.Mutex
	order []string
	tasks map[string]*TaskResult
}

func NewMetrics() *Metrics {
	return &Metrics{tasks: make(map[string]*TaskResult)}
}

// Record adds r, or merges it into the existing entry for the same task.
func (m *Metrics) Record(r TaskResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.tasks[r.TaskID]; ok {
		existing.merge(r)
		return
	}
	m.order = append(m.order, r.TaskID)
	cp := r
	m.tasks[r.TaskID] = &cp
}

// Get returns a copy of the entry for id.
func (m *Metrics) Get(id string) (TaskResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.tasks[id]
	if !ok {
		return TaskResult{}, false
	}
	return *r, true
}

// Results returns copies of all entries in the order they were first recorded.
func (m *Metrics) Results() []TaskResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TaskResult, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.tasks[id])
	}
	return out
}

func (m *Metrics) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Filter returns the results whose task id contains filter, ignoring case.
func Filter(results []TaskResult, filter string) []TaskResult {
	if filter == "" {
		return results
	}

	filter = strings.ToLower(filter)
	return slices.DeleteFunc(slices.Clone(results), func(r TaskResult) bool {
		return !strings.Contains(strings.ToLower(r.TaskID), filter)
	})
}
