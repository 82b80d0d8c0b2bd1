package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pharmagent/medbench/pkg/agent"
)

// NewAgentsCmd lists the agent types an eval config can use.
func NewAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List supported agent types",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			types := agent.ListTypes()
			for _, name := range agent.TypeNames() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", name, types[agent.Type(name)])
			}
		},
	}
}
