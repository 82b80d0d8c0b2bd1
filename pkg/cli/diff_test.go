package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pharmagent/medbench/pkg/results"
)

func TestDiffCommand(t *testing.T) {
	baseFile := createTestResultsFile(t, sampleResults())
	currentFile := createTestResultsFile(t, sampleResultsImproved())

	for _, format := range []string{"text", "markdown"} {
		t.Run(format, func(t *testing.T) {
			cmd := NewDiffCmd()
			cmd.SetArgs([]string{"--base", baseFile, "--current", currentFile, "--output", format})
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)

			if err := cmd.Execute(); err != nil {
				t.Fatalf("diff command failed: %v", err)
			}
			if !strings.Contains(buf.String(), "task9_1") || !strings.Contains(buf.String(), "task10_1") {
				t.Errorf("diff output missing changed tasks:\n%s", buf.String())
			}
		})
	}
}

func TestDiffCommandUnknownFormat(t *testing.T) {
	file := createTestResultsFile(t, sampleResults())

	cmd := NewDiffCmd()
	cmd.SetArgs([]string{"--base", file, "--current", file, "--output", "html"})
	cmd.SetOut(new(bytes.Buffer))

	if err := cmd.Execute(); err == nil {
		t.Error("diff command should fail with an unknown output format")
	}
}

func TestDiffCommandFileNotFound(t *testing.T) {
	file := createTestResultsFile(t, sampleResults())

	for name, args := range map[string][]string{
		"base":    {"--base", "/nonexistent/base.json", "--current", file},
		"current": {"--base", file, "--current", "/nonexistent/current.json"},
	} {
		t.Run(name, func(t *testing.T) {
			cmd := NewDiffCmd()
			cmd.SetArgs(args)
			cmd.SetOut(new(bytes.Buffer))

			if err := cmd.Execute(); err == nil {
				t.Errorf("diff command should fail with nonexistent %s file", name)
			}
		})
	}
}

func TestCalculateDiff(t *testing.T) {
	diff := calculateDiff("base.json", "head.json", sampleResults(), sampleResultsImproved())

	if diff.BaseStats.TasksTotal != 3 {
		t.Errorf("BaseStats.TasksTotal = %d, want 3", diff.BaseStats.TasksTotal)
	}
	if diff.HeadStats.TasksTotal != 4 {
		t.Errorf("HeadStats.TasksTotal = %d, want 4", diff.HeadStats.TasksTotal)
	}
	if len(diff.Improvements) != 1 || diff.Improvements[0].TaskID != "task9_1" {
		t.Errorf("Improvements = %+v", diff.Improvements)
	}
	if len(diff.Added) != 1 {
		t.Errorf("len(Added) = %d, want 1", len(diff.Added))
	}
}

func TestCalculateDiffRegressions(t *testing.T) {
	diff := calculateDiff("base.json", "head.json", sampleResultsImproved(), sampleResults())

	if len(diff.Regressions) != 1 {
		t.Fatalf("len(Regressions) = %d, want 1", len(diff.Regressions))
	}
	if diff.reasons["task9_1"] == "" {
		t.Error("regression reason not captured")
	}
	if len(diff.Removed) != 1 {
		t.Errorf("len(Removed) = %d, want 1", len(diff.Removed))
	}
}

func TestCalculateDiffNoChanges(t *testing.T) {
	rs := sampleResults()
	diff := calculateDiff("base.json", "head.json", rs, rs)

	if len(diff.Regressions)+len(diff.Improvements)+len(diff.Added)+len(diff.Removed) != 0 {
		t.Errorf("expected no changes, got %+v", diff.Comparison)
	}
}

func TestCalculateDiffEmptyBase(t *testing.T) {
	diff := calculateDiff("base.json", "head.json", []results.TaskResult{}, sampleResults())

	if len(diff.Added) != 3 {
		t.Errorf("len(Added) = %d, want 3", len(diff.Added))
	}
}
