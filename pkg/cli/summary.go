package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pharmagent/medbench/pkg/results"
	"github.com/pharmagent/medbench/pkg/scoring"
)

type taskSummary struct {
	TaskID        string              `json:"taskId"`
	Correct       bool                `json:"correct"`
	Score         float64             `json:"score"`
	FailureKind   scoring.FailureKind `json:"failureKind,omitempty"`
	FailureReason string              `json:"failureReason,omitempty"`
	Error         string              `json:"error,omitempty"`
}

type summaryOutput struct {
	results.Stats
	Tasks []taskSummary `json:"tasks"`
}

// NewSummaryCmd creates the summary command
func NewSummaryCmd() *cobra.Command {
	var taskFilter string
	var outputFormat string
	var githubOutput bool

	cmd := &cobra.Command{
		Use:   "summary <results-file>",
		Short: "Summarize a results artifact",
		Long: `Print pass rate, failure breakdown and per-task status of a results artifact.

With --github-output the headline numbers are also written as step outputs
to the file named by $GITHUB_OUTPUT.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact, err := results.Load(args[0])
			if err != nil {
				return fmt.Errorf("failed to load results file: %w", err)
			}

			filtered := results.Filter(artifact.Tasks, taskFilter)
			summary := buildSummaryOutput(args[0], filtered)
			out := cmd.OutOrStdout()

			switch outputFormat {
			case "text":
				outputTextSummary(out, summary)
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(summary); err != nil {
					return fmt.Errorf("failed to encode summary: %w", err)
				}
			default:
				return fmt.Errorf("unknown output format: %s", outputFormat)
			}

			if githubOutput {
				return writeGitHubOutput(out, summary.Stats)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&taskFilter, "task", "", "Only include tasks whose id contains this value")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, json)")
	cmd.Flags().BoolVar(&githubOutput, "github-output", false, "Write pass rate outputs for GitHub Actions")

	return cmd
}

func buildSummaryOutput(resultsFile string, rs []results.TaskResult) summaryOutput {
	summary := summaryOutput{
		Stats: results.CalculateStats(resultsFile, rs),
		Tasks: make([]taskSummary, 0, len(rs)),
	}
	for _, r := range rs {
		summary.Tasks = append(summary.Tasks, taskSummary{
			TaskID:        r.TaskID,
			Correct:       r.Correct,
			Score:         r.Score,
			FailureKind:   r.FailureKind,
			FailureReason: r.FailureReason,
			Error:         r.Error,
		})
	}
	return summary
}

func outputTextSummary(out io.Writer, summary summaryOutput) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	bold := color.New(color.Bold)

	_, _ = bold.Fprintln(out, "=== Results Summary ===")
	fmt.Fprintln(out)

	for _, t := range summary.Tasks {
		if t.Correct {
			_, _ = green.Fprintf(out, "  ✓ %s\n", t.TaskID)
			continue
		}
		_, _ = red.Fprintf(out, "  ✗ %s (%s)\n", t.TaskID, t.FailureKind)
		switch {
		case t.Error != "":
			fmt.Fprintf(out, "      Error: %s\n", t.Error)
		case t.FailureReason != "":
			fmt.Fprintf(out, "      %s\n", t.FailureReason)
		}
	}

	fmt.Fprintln(out)
	_, _ = bold.Fprintln(out, "=== Overall Statistics ===")
	fmt.Fprintf(out, "Total Tasks:     %d\n", summary.TasksTotal)
	line := fmt.Sprintf("Tasks Passed:    %d/%d (%.1f%%)\n", summary.TasksPassed, summary.TasksTotal, summary.TaskPassRate*100)
	if summary.TasksTotal > 0 && summary.TasksPassed == summary.TasksTotal {
		_, _ = green.Fprint(out, line)
	} else {
		fmt.Fprint(out, line)
	}
	fmt.Fprintf(out, "Writes Accepted: %d\n", summary.WritesAccepted)

	if len(summary.FailureBreakdown) == 0 {
		return
	}
	fmt.Fprintln(out)
	_, _ = bold.Fprintln(out, "=== Failure Breakdown ===")
	kinds := make([]string, 0, len(summary.FailureBreakdown))
	for k := range summary.FailureBreakdown {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(out, "  %-26s %d\n", k, summary.FailureBreakdown[scoring.FailureKind(k)])
	}
}

func writeGitHubOutput(out io.Writer, stats results.Stats) error {
	lines := fmt.Sprintf("tasks-total=%d\ntasks-passed=%d\ntask-pass-rate=%.4f\n",
		stats.TasksTotal, stats.TasksPassed, stats.TaskPassRate)

	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		fmt.Fprint(out, lines)
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open GITHUB_OUTPUT: %w", err)
	}
	defer f.Close()

	_, err = f.WriteString(lines)
	return err
}
