package results

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pharmagent/medbench/pkg/scoring"
	"github.com/pharmagent/medbench/pkg/trace"
)

// sampleResults returns three tasks, one of them failed.
func sampleResults() []TaskResult {
	return []TaskResult{
		{
			TaskID:           "task1_1",
			Correct:          true,
			Score:            1,
			ComputedExpected: []any{"1955-04-02"},
			Answer:           []string{"1955-04-02"},
		},
		{
			TaskID:  "task5_3",
			Correct: true,
			Score:   1,
			Trace: []trace.Step{{
				Round:      1,
				Action:     trace.ActionToolCall,
				ToolName:   "create_medication_request",
				ToolResult: `{"accepted": true}`,
			}},
		},
		{
			TaskID:        "task4_2",
			FailureKind:   scoring.AnswerMismatch,
			FailureReason: "Expected [1.8], got [2.1]",
			Answer:        []string{"2.1"},
		},
	}
}

// createTestArtifact saves the sample results into a temporary directory.
func createTestArtifact(t *testing.T, results []TaskResult) string {
	t.Helper()

	finished := time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC)
	a := NewArtifact("run-1", finished.Add(-time.Minute), finished, results)
	path, err := Save(t.TempDir(), a)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return path
}

func TestMetricsRecordKeepsFirstOrder(t *testing.T) {
	m := NewMetrics()
	for _, r := range sampleResults() {
		m.Record(r)
	}

	got := m.Results()
	if len(got) != 3 || m.Len() != 3 {
		t.Fatalf("len(Results()) = %d, want 3", len(got))
	}
	if got[0].TaskID != "task1_1" || got[2].TaskID != "task4_2" {
		t.Errorf("order = %s,%s,%s", got[0].TaskID, got[1].TaskID, got[2].TaskID)
	}
}

func TestMetricsRecordOnlyAddsInformation(t *testing.T) {
	m := NewMetrics()
	m.Record(TaskResult{TaskID: "task4_2", FailureKind: scoring.AnswerMismatch, FailureReason: "Expected [1.8], got [2.1]"})
	m.Record(TaskResult{
		TaskID:        "task4_2",
		FailureKind:   scoring.Unknown,
		FailureReason: "Unclassified failure",
		Details:       []string{"extra"},
		Correct:       true,
		Score:         1,
	})

	got, ok := m.Get("task4_2")
	if !ok {
		t.Fatal("task4_2 not recorded")
	}
	if got.FailureKind != scoring.AnswerMismatch {
		t.Errorf("FailureKind = %s, want %s", got.FailureKind, scoring.AnswerMismatch)
	}
	if got.FailureReason != "Expected [1.8], got [2.1]" {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}
	if got.Correct || got.Score != 0 {
		t.Errorf("scored entry was overwritten: correct=%v score=%v", got.Correct, got.Score)
	}
	if len(got.Details) != 1 {
		t.Errorf("Details = %v, want the merged details", got.Details)
	}

	if _, ok := m.Get("task9_1"); ok {
		t.Error("Get returned an entry for an unknown task")
	}
}

func TestBuild(t *testing.T) {
	report := Build(sampleResults())

	if report.TotalTasks != 3 {
		t.Errorf("TotalTasks = %d, want 3", report.TotalTasks)
	}
	if report.Passed != 2 {
		t.Errorf("Passed = %d, want 2", report.Passed)
	}
	if report.TotalScore != 2 {
		t.Errorf("TotalScore = %v, want 2", report.TotalScore)
	}
	if want := 2.0 / 3.0 * 100; report.PassRate != want {
		t.Errorf("PassRate = %v, want %v", report.PassRate, want)
	}
	if report.FailureBreakdown[scoring.AnswerMismatch] != 1 || len(report.FailureBreakdown) != 1 {
		t.Errorf("FailureBreakdown = %v", report.FailureBreakdown)
	}
	if report.AllPassed() {
		t.Error("AllPassed() = true with a failed task")
	}
	if len(report.TaskDetails) != 3 {
		t.Errorf("len(TaskDetails) = %d, want 3", len(report.TaskDetails))
	}
}

func TestReportText(t *testing.T) {
	text := Build(sampleResults()).Text()

	for _, want := range []string{
		"MedAgentBench Evaluation Results",
		"Total Tasks: 3",
		"Pass Rate: 66.7% (2/3)",
		"Total Score: 2.0/3",
		`"answer_mismatch": 1`,
		"  task1_1: ✓ (score: 1.0, failure: none)",
		"  task4_2: ✗ (score: 0.0, failure: answer_mismatch)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}

	if strings.Index(text, "task1_1") > strings.Index(text, "task5_3") {
		t.Error("task lines are not in recorded order")
	}
}

func TestReportTextEmpty(t *testing.T) {
	report := Build(nil)
	if report.Summary != "No tasks completed" {
		t.Errorf("Summary = %q", report.Summary)
	}
	if report.PassRate != 0 || report.AllPassed() {
		t.Errorf("empty report: rate=%v allPassed=%v", report.PassRate, report.AllPassed())
	}
	if !strings.Contains(Build([]TaskResult{{TaskID: "task1_1", Correct: true, Score: 1}}).Summary, "No failures") {
		t.Error("summary without failures should say so")
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := createTestArtifact(t, sampleResults())

	if filepath.Base(path) != "batch_3_tasks_20240301_140509.json" {
		t.Errorf("file name = %s", filepath.Base(path))
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.RunID != "run-1" {
		t.Errorf("RunID = %s, want run-1", loaded.RunID)
	}
	if len(loaded.Tasks) != 3 {
		t.Fatalf("loaded %d tasks, want 3", len(loaded.Tasks))
	}
	if !loaded.Tasks[1].Trace[0].WriteAccepted() {
		t.Error("trace did not survive the round trip")
	}
	if loaded.Report.Passed != 2 {
		t.Errorf("Report.Passed = %d, want 2", loaded.Report.Passed)
	}
}

func TestLoadRebuildsMissingReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	data := `{"run_id":"r","tasks":[{"task_id":"task2_1","correct":true,"score":1}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Report == nil || !loaded.Report.AllPassed() {
		t.Errorf("report not rebuilt: %+v", loaded.Report)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path/results.json"); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}

	path := filepath.Join(t.TempDir(), "invalid.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestCalculateStats(t *testing.T) {
	stats := CalculateStats("test.json", sampleResults())

	if stats.TasksTotal != 3 {
		t.Errorf("TasksTotal = %d, want 3", stats.TasksTotal)
	}
	if stats.TasksPassed != 2 {
		t.Errorf("TasksPassed = %d, want 2", stats.TasksPassed)
	}
	if stats.TaskPassRate != 2.0/3.0 {
		t.Errorf("TaskPassRate = %f, want %f", stats.TaskPassRate, 2.0/3.0)
	}
	if stats.WritesAccepted != 1 {
		t.Errorf("WritesAccepted = %d, want 1", stats.WritesAccepted)
	}

	empty := CalculateStats("empty.json", nil)
	if empty.TasksTotal != 0 || empty.TaskPassRate != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestFilter(t *testing.T) {
	results := sampleResults()

	tests := []struct {
		name     string
		filter   string
		expected int
	}{
		{"exact task", "task1_1", 1},
		{"family prefix", "task5", 1},
		{"nonexistent task", "task9", 0},
		{"empty filter returns all", "", 3},
		{"case insensitive", "TASK", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered := Filter(results, tt.filter)
			if len(filtered) != tt.expected {
				t.Errorf("Filter(%q) returned %d results, want %d", tt.filter, len(filtered), tt.expected)
			}
		})
	}

	if len(results) != 3 {
		t.Error("Filter modified its input")
	}
}

func TestCompare(t *testing.T) {
	base := sampleResults()
	target := []TaskResult{
		{TaskID: "task1_1", FailureKind: scoring.AnswerMismatch},
		{TaskID: "task5_3", Correct: true, Score: 1},
		{TaskID: "task4_2", Correct: true, Score: 1},
		{TaskID: "task7_1", Correct: true, Score: 1},
	}

	cmp := Compare(base, target)

	if len(cmp.Regressions) != 1 || cmp.Regressions[0].TaskID != "task1_1" {
		t.Errorf("Regressions = %+v", cmp.Regressions)
	}
	if cmp.Regressions[0].TargetKind != scoring.AnswerMismatch {
		t.Errorf("regression kind = %s", cmp.Regressions[0].TargetKind)
	}
	if len(cmp.Improvements) != 1 || cmp.Improvements[0].TaskID != "task4_2" {
		t.Errorf("Improvements = %+v", cmp.Improvements)
	}
	if len(cmp.Added) != 1 || cmp.Added[0] != "task7_1" {
		t.Errorf("Added = %v", cmp.Added)
	}
	if len(cmp.Removed) != 0 {
		t.Errorf("Removed = %v", cmp.Removed)
	}
}
