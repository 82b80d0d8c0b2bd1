package results

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pharmagent/medbench/pkg/scoring"
)

const reportTitle = "MedAgentBench Evaluation Results"

// TaskDetail is the per-task line of the report.
type TaskDetail struct {
	Correct          bool                `json:"correct"`
	Score            float64             `json:"score"`
	FailureKind      scoring.FailureKind `json:"failure_kind,omitempty"`
	FailureReason    string              `json:"failure_reason,omitempty"`
	ComputedExpected []any               `json:"computed_expected,omitempty"`
	Answer           []string            `json:"answer,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// Report is the aggregate of a batch. It is derived from the task results
// and can be rebuilt from them at any time.
type Report struct {
	Summary          string                      `json:"summary"`
	TotalTasks       int                         `json:"total_tasks"`
	Passed           int                         `json:"passed"`
	TotalScore       float64                     `json:"total_score"`
	PassRate         float64                     `json:"pass_rate"`
	FailureBreakdown map[scoring.FailureKind]int `json:"failure_breakdown"`
	TaskIDs          []string                    `json:"task_ids"`
	TaskDetails      map[string]TaskDetail       `json:"task_details"`
}

// AllPassed reports whether the batch had tasks and every one passed.
func (r *Report) AllPassed() bool {
	return r.TotalTasks > 0 && r.Passed == r.TotalTasks
}

// Build folds results into a report. The pass rate is a percentage.
func Build(results []TaskResult) *Report {
	report := &Report{
		TotalTasks:       len(results),
		FailureBreakdown: make(map[scoring.FailureKind]int),
		TaskIDs:          make([]string, 0, len(results)),
		TaskDetails:      make(map[string]TaskDetail, len(results)),
	}

	for _, r := range results {
		report.TotalScore += r.Score
		if r.Correct {
			report.Passed++
		}
		if r.FailureKind != "" {
			report.FailureBreakdown[r.FailureKind]++
		}
		report.TaskIDs = append(report.TaskIDs, r.TaskID)
		report.TaskDetails[r.TaskID] = TaskDetail{
			Correct:          r.Correct,
			Score:            r.Score,
			FailureKind:      r.FailureKind,
			FailureReason:    r.FailureReason,
			ComputedExpected: r.ComputedExpected,
			Answer:           r.Answer,
			Error:            r.Error,
		}
	}

	if report.TotalTasks > 0 {
		report.PassRate = report.TotalScore / float64(report.TotalTasks) * 100
	}
	report.Summary = report.Text()
	return report
}

// Text renders the human readable summary.
func (r *Report) Text() string {
	if r.TotalTasks == 0 {
		return "No tasks completed"
	}

	var b strings.Builder
	b.WriteString(reportTitle + "\n")
	b.WriteString(strings.Repeat("=", 32) + "\n")
	fmt.Fprintf(&b, "Total Tasks: %d\n", r.TotalTasks)
	fmt.Fprintf(&b, "Pass Rate: %.1f%% (%d/%d)\n", r.PassRate, int(r.TotalScore), r.TotalTasks)
	fmt.Fprintf(&b, "Total Score: %.1f/%d\n", r.TotalScore, r.TotalTasks)

	b.WriteString("\nFailure Breakdown:\n")
	if len(r.FailureBreakdown) == 0 {
		b.WriteString("No failures\n")
	} else {
		data, _ := json.MarshalIndent(r.FailureBreakdown, "", "  ")
		b.Write(data)
		b.WriteString("\n")
	}

	b.WriteString("\nTask Results:")
	for _, id := range r.orderedIDs() {
		d := r.TaskDetails[id]
		status := "✗"
		if d.Correct {
			status = "✓"
		}
		failure := string(d.FailureKind)
		if failure == "" {
			failure = "none"
		}
		fmt.Fprintf(&b, "\n  %s: %s (score: %.1f, failure: %s)", id, status, d.Score, failure)
	}
	return b.String()
}

// orderedIDs falls back to sorted ids for reports read from artifacts that
// carry no order.
func (r *Report) orderedIDs() []string {
	if len(r.TaskIDs) == len(r.TaskDetails) {
		return r.TaskIDs
	}
	ids := make([]string, 0, len(r.TaskDetails))
	for id := range r.TaskDetails {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
