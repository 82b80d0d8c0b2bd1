package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pharmagent/medbench/pkg/results"
)

// DiffResult holds the comparison between two evaluation runs
type DiffResult struct {
	BaseStats results.Stats
	HeadStats results.Stats
	results.Comparison
	// reasons holds the head failure reason of each regressed task.
	reasons map[string]string
}

// NewDiffCmd creates the diff command
func NewDiffCmd() *cobra.Command {
	var outputFormat string
	var baseFile string
	var currentFile string

	cmd := &cobra.Command{
		Use:   "diff --base <results-file> --current <results-file>",
		Short: "Compare two evaluation results",
		Long: `Compare evaluation results between two runs (e.g., two agent versions).

Shows regressions, improvements, and overall pass rate changes.

Example:
  medbench diff --base results/batch_30_tasks_a.json --current results/batch_30_tasks_b.json
  medbench diff --base a.json --current b.json --output markdown`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := results.Load(baseFile)
			if err != nil {
				return fmt.Errorf("failed to load base results: %w", err)
			}

			current, err := results.Load(currentFile)
			if err != nil {
				return fmt.Errorf("failed to load current results: %w", err)
			}

			diff := calculateDiff(baseFile, currentFile, base.Tasks, current.Tasks)

			switch outputFormat {
			case "text":
				outputTextDiff(cmd.OutOrStdout(), diff)
			case "markdown":
				outputMarkdownDiff(cmd.OutOrStdout(), diff)
			default:
				return fmt.Errorf("unknown output format: %s", outputFormat)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&baseFile, "base", "", "Base results file")
	cmd.Flags().StringVar(&currentFile, "current", "", "Current results file")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, markdown)")

	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("current")

	return cmd
}

func calculateDiff(baseFile, currentFile string, base, current []results.TaskResult) DiffResult {
	diff := DiffResult{
		BaseStats:  results.CalculateStats(baseFile, base),
		HeadStats:  results.CalculateStats(currentFile, current),
		Comparison: results.Compare(base, current),
		reasons:    make(map[string]string),
	}
	for _, r := range current {
		if r.FailureReason != "" {
			diff.reasons[r.TaskID] = r.FailureReason
		}
	}
	return diff
}

func outputTextDiff(out io.Writer, diff DiffResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	bold := color.New(color.Bold)

	_, _ = bold.Fprintln(out, "=== Evaluation Diff ===")
	fmt.Fprintln(out)

	if len(diff.Regressions) > 0 {
		_, _ = red.Fprintf(out, "Regressions (%d):\n", len(diff.Regressions))
		for _, r := range diff.Regressions {
			_, _ = red.Fprintf(out, "  ✗ %s: PASSED → FAILED (%s)\n", r.TaskID, r.TargetKind)
			if reason := diff.reasons[r.TaskID]; reason != "" {
				fmt.Fprintf(out, "      %s\n", reason)
			}
		}
		fmt.Fprintln(out)
	}

	if len(diff.Improvements) > 0 {
		_, _ = green.Fprintf(out, "Improvements (%d):\n", len(diff.Improvements))
		for _, r := range diff.Improvements {
			_, _ = green.Fprintf(out, "  ✓ %s: FAILED → PASSED\n", r.TaskID)
		}
		fmt.Fprintln(out)
	}

	if len(diff.Added) > 0 {
		_, _ = yellow.Fprintf(out, "New Tasks (%d):\n", len(diff.Added))
		for _, id := range diff.Added {
			fmt.Fprintf(out, "  + %s\n", id)
		}
		fmt.Fprintln(out)
	}

	if len(diff.Removed) > 0 {
		_, _ = yellow.Fprintf(out, "Removed Tasks (%d):\n", len(diff.Removed))
		for _, id := range diff.Removed {
			fmt.Fprintf(out, "  - %s\n", id)
		}
		fmt.Fprintln(out)
	}

	_, _ = bold.Fprintln(out, "=== Summary ===")
	fmt.Fprintln(out)

	fmt.Fprintf(out, "             Base        Head        Change\n")
	fmt.Fprintf(out, "Tasks:       %d/%-8d %d/%-8d ",
		diff.BaseStats.TasksPassed, diff.BaseStats.TasksTotal,
		diff.HeadStats.TasksPassed, diff.HeadStats.TasksTotal)
	printChange(out, diff.HeadStats.TaskPassRate-diff.BaseStats.TaskPassRate)
}

func printChange(out io.Writer, change float64) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	if change > 0 {
		_, _ = green.Fprintf(out, "+%.1f%%\n", change*100)
	} else if change < 0 {
		_, _ = red.Fprintf(out, "%.1f%%\n", change*100)
	} else {
		fmt.Fprintln(out, "0.0%")
	}
}

func outputMarkdownDiff(out io.Writer, diff DiffResult) {
	fmt.Fprintln(out, "### 📊 Evaluation Results")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "| Metric | Base | Head | Change |")
	fmt.Fprintln(out, "|--------|------|------|--------|")
	fmt.Fprintf(out, "| Tasks | %d/%d (%.1f%%) | %d/%d (%.1f%%) | %s |\n",
		diff.BaseStats.TasksPassed, diff.BaseStats.TasksTotal, diff.BaseStats.TaskPassRate*100,
		diff.HeadStats.TasksPassed, diff.HeadStats.TasksTotal, diff.HeadStats.TaskPassRate*100,
		formatChangeMarkdown(diff.HeadStats.TaskPassRate-diff.BaseStats.TaskPassRate))

	if len(diff.Regressions) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "#### ❌ Regressions (%d)\n", len(diff.Regressions))
		for _, r := range diff.Regressions {
			fmt.Fprintf(out, "- `%s`: PASSED → FAILED (`%s`)", r.TaskID, r.TargetKind)
			if reason := diff.reasons[r.TaskID]; reason != "" {
				fmt.Fprintf(out, " - %s", reason)
			}
			fmt.Fprintln(out)
		}
	}

	if len(diff.Improvements) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "#### ✅ Improvements (%d)\n", len(diff.Improvements))
		for _, r := range diff.Improvements {
			fmt.Fprintf(out, "- `%s`: FAILED → PASSED\n", r.TaskID)
		}
	}

	if len(diff.Added) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "#### 🆕 New Tasks (%d)\n", len(diff.Added))
		for _, id := range diff.Added {
			fmt.Fprintf(out, "- `%s`\n", id)
		}
	}

	if len(diff.Removed) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "#### 🗑️ Removed Tasks (%d)\n", len(diff.Removed))
		for _, id := range diff.Removed {
			fmt.Fprintf(out, "- `%s`\n", id)
		}
	}
}

func formatChangeMarkdown(change float64) string {
	if change > 0 {
		return fmt.Sprintf("🟢 +%.1f%%", change*100)
	} else if change < 0 {
		return fmt.Sprintf("🔴 %.1f%%", change*100)
	}
	return "➖ 0.0%"
}
