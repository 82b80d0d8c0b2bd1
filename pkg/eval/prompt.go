package eval

import (
	"fmt"
	"strings"

	"github.com/pharmagent/medbench/pkg/task"
)

// RenderPrompt builds the prompt sent to the agent. tools is the formatted
// tool catalog and may be empty.
func RenderPrompt(def *task.Definition, maxRounds int, tools string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient ID: %s\n", def.PatientReference)
	fmt.Fprintf(&b, "Instructions: %s\n", def.Instructions)
	if def.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", def.Context)
	}
	if def.Description != "" && def.Description != def.Instructions {
		fmt.Fprintf(&b, "Question: %s\n", def.Description)
	}
	fmt.Fprintf(&b, "Maximum rounds: %d", maxRounds)

	if tools != "" {
		b.WriteString("\n\n")
		b.WriteString(tools)
	}
	return b.String()
}
