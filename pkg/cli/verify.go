package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pharmagent/medbench/pkg/results"
	"github.com/pharmagent/medbench/pkg/scoring"
)

// NewVerifyCmd creates the verify command
func NewVerifyCmd() *cobra.Command {
	var taskThreshold float64
	var failOn []string

	cmd := &cobra.Command{
		Use:   "verify <results-file>",
		Short: "Verify evaluation results meet thresholds",
		Long: `Verify that a results artifact meets a minimum task pass rate and,
optionally, that no task failed with one of the given failure kinds.

Exits with code 0 if all checks pass, code 1 otherwise.
Use 'medbench summary' to view detailed results.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			resultsFile := args[0]

			artifact, err := results.Load(resultsFile)
			if err != nil {
				return fmt.Errorf("failed to load results file: %w", err)
			}

			stats := results.CalculateStats(resultsFile, artifact.Tasks)

			taskThresholdMet := stats.TaskPassRate >= taskThreshold
			forbidden := make(map[scoring.FailureKind]int)
			for _, k := range failOn {
				if n := stats.FailureBreakdown[scoring.FailureKind(k)]; n > 0 {
					forbidden[scoring.FailureKind(k)] = n
				}
			}
			passed := taskThresholdMet && len(forbidden) == 0

			outputVerifyResults(cmd.OutOrStdout(), stats, taskThreshold, taskThresholdMet, forbidden, passed)

			if !passed {
				// silent error (SilenceErrors: true), sets exit code 1
				return fmt.Errorf("thresholds not met")
			}

			return nil
		},
	}

	cmd.Flags().Float64Var(&taskThreshold, "task", 0.0, "Minimum task pass rate (0.0-1.0)")
	cmd.Flags().StringArrayVar(&failOn, "fail-on", nil, "Failure kind that must not occur (repeatable, e.g. readonly_violation)")

	return cmd
}

func outputVerifyResults(out io.Writer, stats results.Stats, taskThreshold float64, taskMet bool, forbidden map[scoring.FailureKind]int, passed bool) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	bold := color.New(color.Bold)

	_, _ = bold.Fprintln(out, "=== Threshold Verification ===")
	fmt.Fprintln(out)

	if taskMet {
		_, _ = green.Fprintf(out, "Task Pass Rate: %.2f%% >= %.2f%% ✓\n",
			stats.TaskPassRate*100, taskThreshold*100)
	} else {
		_, _ = red.Fprintf(out, "Task Pass Rate: %.2f%% < %.2f%% ✗\n",
			stats.TaskPassRate*100, taskThreshold*100)
	}

	for kind, n := range forbidden {
		_, _ = red.Fprintf(out, "Forbidden failure %s: %d task(s) ✗\n", kind, n)
	}

	fmt.Fprintln(out)
	if passed {
		_, _ = green.Fprintln(out, "Result: PASSED")
	} else {
		_, _ = red.Fprintln(out, "Result: FAILED")
	}
}
