// Package cli implements the medbench command line: running a benchmark
// batch and rendering, verifying and comparing its result artifacts.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root medbench command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "medbench",
		Short: "Clinical agent benchmark harness",
		Long: `medbench evaluates clinical AI agents against the MedAgentBench task set.
It sends each task to the agent, checks the FINISH answer envelope and
scores it against ground truth computed from the FHIR record store.`,
	}

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewSummaryCmd())
	rootCmd.AddCommand(NewViewCmd())
	rootCmd.AddCommand(NewVerifyCmd())
	rootCmd.AddCommand(NewDiffCmd())
	rootCmd.AddCommand(NewAgentsCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
