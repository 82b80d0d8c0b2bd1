package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pharmagent/medbench/pkg/results"
	"github.com/pharmagent/medbench/pkg/trace"
)

const (
	defaultMaxEvents      = 40
	defaultMaxOutputLines = 6
	defaultMaxLineLength  = 100
)

type viewOptions struct {
	showTimeline   bool
	maxEvents      int
	maxOutputLines int
	maxLineLength  int
}

// NewViewCmd creates the view command for rendering task results.
func NewViewCmd() *cobra.Command {
	var (
		taskFilter     string
		showTimeline   = true
		maxEvents      = defaultMaxEvents
		maxOutputLines = defaultMaxOutputLines
		maxLineLength  = defaultMaxLineLength
	)

	cmd := &cobra.Command{
		Use:   "view <results-file>",
		Short: "Pretty-print task results from an artifact",
		Long: `Render each task of a results artifact: status, answer, expected answer,
and a condensed timeline of the agent's trajectory.

Examples:
  medbench view results/batch_3_tasks_20240301_140509.json
  medbench view --task task9 --max-events 15 results.json`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact, err := results.Load(args[0])
			if err != nil {
				return err
			}

			filtered := results.Filter(artifact.Tasks, taskFilter)
			if len(filtered) == 0 {
				if taskFilter == "" {
					return errors.New("no tasks found in results")
				}
				return fmt.Errorf("no tasks matched filter %q", taskFilter)
			}

			out := cmd.OutOrStdout()
			for idx, result := range filtered {
				if idx > 0 {
					fmt.Fprintln(out)
				}
				printTaskResult(out, result, viewOptions{
					showTimeline:   showTimeline,
					maxEvents:      maxEvents,
					maxOutputLines: maxOutputLines,
					maxLineLength:  maxLineLength,
				})
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&taskFilter, "task", "", "Only show tasks whose id contains this value")
	cmd.Flags().BoolVar(&showTimeline, "timeline", showTimeline, "Include a condensed timeline of the agent trajectory")
	cmd.Flags().IntVar(&maxEvents, "max-events", maxEvents, "Maximum number of timeline events to display (0 = unlimited)")
	cmd.Flags().IntVar(&maxOutputLines, "max-output-lines", maxOutputLines, "Maximum lines to display for tool results in the timeline")
	cmd.Flags().IntVar(&maxLineLength, "max-line-length", maxLineLength, "Maximum characters per line when formatting timeline output")

	return cmd
}

func printTaskResult(out io.Writer, result results.TaskResult, opts viewOptions) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	_, _ = bold.Fprintf(out, "Task: %s\n", result.TaskID)
	if result.Agent != "" {
		fmt.Fprintf(out, "  Agent: %s\n", result.Agent)
	}

	if result.Correct {
		_, _ = green.Fprintf(out, "  Status: PASSED (score: %.1f)\n", result.Score)
	} else {
		_, _ = red.Fprintf(out, "  Status: FAILED (%s)\n", result.FailureKind)
	}
	if reason := strings.TrimSpace(result.FailureReason); reason != "" {
		printMultilineField(out, "Reason", reason)
	}
	if msg := strings.TrimSpace(result.Error); msg != "" {
		printMultilineField(out, "Error", msg)
	}

	if result.Answer != nil {
		fmt.Fprintf(out, "  Answer: %s\n", compactJSON(result.Answer))
	}
	if result.ComputedExpected != nil {
		fmt.Fprintf(out, "  Expected: %s\n", compactJSON(result.ComputedExpected))
	}
	if d := result.Decision; d != nil {
		fmt.Fprintf(out, "  Decision: order required=%v", d.OrderRequired)
		if d.Reason != "" {
			fmt.Fprintf(out, " (%s)", d.Reason)
		}
		fmt.Fprintln(out)
	}
	for _, detail := range result.Details {
		fmt.Fprintf(out, "  - %s\n", detail)
	}

	if opts.showTimeline {
		timeline := summarizeTrace(result.Trace, opts.maxEvents, opts.maxOutputLines, opts.maxLineLength)
		if len(timeline) > 0 {
			fmt.Fprintf(out, "  Timeline (%d writes accepted):\n", acceptedWrites(result.Trace))
			for _, line := range timeline {
				printTimelineLine(out, line)
			}
		}
	}
}

func acceptedWrites(steps []trace.Step) int {
	n := 0
	for _, s := range steps {
		if s.WriteAccepted() {
			n++
		}
	}
	return n
}

// summarizeTrace renders one entry per trace step, keeping the last
// maxEvents entries when the trace is longer.
func summarizeTrace(steps []trace.Step, maxEvents, maxOutputLines, maxLineLength int) []string {
	entries := make([]string, 0, len(steps))
	for _, s := range steps {
		if entry := formatStep(s, maxOutputLines, maxLineLength); entry != "" {
			entries = append(entries, entry)
		}
	}

	if maxEvents > 0 && len(entries) > maxEvents {
		skipped := len(entries) - maxEvents
		entries = append([]string{fmt.Sprintf("… %d earlier events omitted", skipped)}, entries[skipped:]...)
	}
	return entries
}

func formatStep(s trace.Step, maxOutputLines, maxLineLength int) string {
	prefix := fmt.Sprintf("round %d", s.Round)

	switch s.Action {
	case trace.ActionToolCall:
		line := fmt.Sprintf("%s tool: %s", prefix, s.ToolName)
		if len(s.ToolArgs) > 0 {
			line += " " + truncateString(compactJSON(s.ToolArgs), maxLineLength)
		}
		body := s.ToolResult
		if s.ToolError != "" {
			body = "error: " + s.ToolError
		}
		if block := limitMultiline(body, maxOutputLines, maxLineLength); block != "" {
			line += "\n" + indentBlock(block, "      ")
		}
		return line

	case trace.ActionReasoning:
		return fmt.Sprintf("%s thought: %s", prefix, truncateString(normalizeWhitespace(s.Output), maxLineLength))

	case trace.ActionFinish:
		return fmt.Sprintf("%s finish: %s", prefix, truncateString(normalizeWhitespace(s.Result), maxLineLength))

	case trace.ActionMaxRounds:
		return fmt.Sprintf("%s round budget exhausted", prefix)

	default:
		if s.Error != "" {
			return fmt.Sprintf("%s error: %s", prefix, truncateString(normalizeWhitespace(s.Error), maxLineLength))
		}
		if s.Output != "" {
			return fmt.Sprintf("%s %s", prefix, truncateString(normalizeWhitespace(s.Output), maxLineLength))
		}
		return ""
	}
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func limitMultiline(raw string, maxLines, maxLineLength int) string {
	raw = strings.TrimRight(raw, "\n")
	if raw == "" {
		return ""
	}

	lines := strings.Split(raw, "\n")
	limited := make([]string, 0, len(lines))
	for idx, line := range lines {
		if maxLines > 0 && idx >= maxLines {
			limited = append(limited, fmt.Sprintf("… (+%d lines)", len(lines)-idx))
			break
		}
		if maxLineLength > 0 {
			limited = append(limited, strings.Split(wrapText(line, maxLineLength), "\n")...)
		} else {
			limited = append(limited, line)
		}
	}
	return strings.Join(limited, "\n")
}

func truncateString(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return fmt.Sprintf("%s…", strings.TrimSpace(string(runes[:max-1])))
}

func indentBlock(block, indent string) string {
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}

func normalizeWhitespace(in string) string {
	in = strings.ReplaceAll(in, "\n", " ")
	in = strings.ReplaceAll(in, "\t", " ")
	in = strings.ReplaceAll(in, "**", "")
	return strings.Join(strings.Fields(in), " ")
}

func wrapText(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}

	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}

	lines := make([]string, 0)
	current := words[0]

	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
		} else {
			current += " " + word
		}
	}
	lines = append(lines, current)

	return strings.Join(lines, "\n")
}

func printMultilineField(out io.Writer, label, value string) {
	value = strings.TrimRight(value, "\n")
	if !strings.Contains(value, "\n") {
		fmt.Fprintf(out, "  %s: %s\n", label, value)
		return
	}

	fmt.Fprintf(out, "  %s:\n", label)
	for _, line := range strings.Split(value, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			fmt.Fprintf(out, "    %s\n", trimmed)
		}
	}
}

func printTimelineLine(out io.Writer, entry string) {
	parts := strings.Split(entry, "\n")
	if len(parts) == 0 {
		return
	}

	fmt.Fprintf(out, "    - %s\n", parts[0])
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "" {
			continue
		}
		fmt.Fprintf(out, "      %s\n", strings.TrimPrefix(part, "      "))
	}
}
