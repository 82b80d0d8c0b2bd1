package results

import (
	"sort"

	"github.com/pharmagent/medbench/pkg/scoring"
)

// Stats holds computed statistics from an artifact.
type Stats struct {
	ResultsFile      string                      `json:"resultsFile"`
	TasksTotal       int                         `json:"tasksTotal"`
	TasksPassed      int                         `json:"tasksPassed"`
	TaskPassRate     float64                     `json:"taskPassRate"`
	FailureBreakdown map[scoring.FailureKind]int `json:"failureBreakdown,omitempty"`
	WritesAccepted   int                         `json:"writesAccepted"`
}

// CalculateStats computes statistics from task results. The pass rate is a
// fraction in [0, 1].
func CalculateStats(resultsFile string, results []TaskResult) Stats {
	stats := Stats{
		ResultsFile:      resultsFile,
		TasksTotal:       len(results),
		FailureBreakdown: make(map[scoring.FailureKind]int),
	}

	for _, r := range results {
		if r.Correct {
			stats.TasksPassed++
		}
		if r.FailureKind != "" {
			stats.FailureBreakdown[r.FailureKind]++
		}
		for _, s := range r.Trace {
			if s.WriteAccepted() {
				stats.WritesAccepted++
			}
		}
	}

	if stats.TasksTotal > 0 {
		stats.TaskPassRate = float64(stats.TasksPassed) / float64(stats.TasksTotal)
	}
	return stats
}

// Change is a task whose status differs between two runs.
type Change struct {
	TaskID     string              `json:"taskId"`
	BaseKind   scoring.FailureKind `json:"baseFailureKind,omitempty"`
	TargetKind scoring.FailureKind `json:"targetFailureKind,omitempty"`
}

// Comparison lists the differences between a base and a target run.
type Comparison struct {
	Regressions  []Change `json:"regressions"`
	Improvements []Change `json:"improvements"`
	Added        []string `json:"added"`
	Removed      []string `json:"removed"`
}

// Compare matches tasks by id and reports which flipped between runs.
func Compare(base, target []TaskResult) Comparison {
	baseByID := make(map[string]TaskResult, len(base))
	for _, r := range base {
		baseByID[r.TaskID] = r
	}

	var cmp Comparison
	seen := make(map[string]bool, len(target))
	for _, t := range target {
		seen[t.TaskID] = true
		b, ok := baseByID[t.TaskID]
		if !ok {
			cmp.Added = append(cmp.Added, t.TaskID)
			continue
		}

		change := Change{TaskID: t.TaskID, BaseKind: b.FailureKind, TargetKind: t.FailureKind}
		switch {
		case b.Correct && !t.Correct:
			cmp.Regressions = append(cmp.Regressions, change)
		case !b.Correct && t.Correct:
			cmp.Improvements = append(cmp.Improvements, change)
		}
	}

	for _, b := range base {
		if !seen[b.TaskID] {
			cmp.Removed = append(cmp.Removed, b.TaskID)
		}
	}

	sort.Slice(cmp.Regressions, func(i, j int) bool { return cmp.Regressions[i].TaskID < cmp.Regressions[j].TaskID })
	sort.Slice(cmp.Improvements, func(i, j int) bool { return cmp.Improvements[i].TaskID < cmp.Improvements[j].TaskID })
	sort.Strings(cmp.Added)
	sort.Strings(cmp.Removed)
	return cmp
}
