package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pharmagent/medbench/pkg/agent"
	"github.com/pharmagent/medbench/pkg/eval"
	"github.com/pharmagent/medbench/pkg/logging"
	"github.com/pharmagent/medbench/pkg/results"
	"github.com/pharmagent/medbench/pkg/util"
)

var errTasksFailed = errors.New("one or more tasks failed")

type runOptions struct {
	tasks        []string
	catalog      string
	agentType    string
	agentURL     string
	model        string
	mcpURL       string
	fhirURL      string
	outputDir    string
	parallel     int
	timeout      string
	logLevel     string
	logFormat    string
	outputFormat string
	verbose      bool
}

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [eval-config-file]",
		Short: "Run a benchmark batch",
		Long: `Run the benchmark against an agent. Settings come from the optional eval
configuration file, then environment variables, and flags override both.

Exits with code 0 only when every task passed.

Examples:
  medbench run --catalog tasks.json --task task1 --task task5_3
  medbench run eval.yaml --agent-url http://localhost:9019 --parallel 4`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := eval.Default()
			if len(args) == 1 {
				var err error
				spec, err = eval.FromFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to load eval config: %w", err)
				}
			}
			opts.apply(cmd.Flags(), spec)

			logger, err := logging.New(opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, logger)
			ctx = util.WithVerbose(ctx, opts.verbose)

			runner, err := eval.NewRunner(spec)
			if err != nil {
				return fmt.Errorf("failed to create eval runner: %w", err)
			}

			out := cmd.OutOrStdout()
			display := newProgressDisplay(out, opts.verbose)

			artifact, runErr := runner.RunWithProgress(ctx, opts.tasks, display.handleProgress)
			if artifact == nil {
				return fmt.Errorf("eval failed: %w", runErr)
			}

			outputDir := spec.Config.OutputDir
			if outputDir == "" {
				outputDir = eval.DefaultOutputDir
			}
			path, err := results.Save(outputDir, artifact)
			if err != nil {
				return fmt.Errorf("failed to save results: %w", err)
			}
			fmt.Fprintf(out, "\n📄 Results saved to: %s\n", path)

			if err := displayReport(out, artifact, opts.outputFormat); err != nil {
				return err
			}

			if runErr != nil {
				return fmt.Errorf("eval interrupted: %w", runErr)
			}
			if !artifact.Report.AllPassed() {
				return errTasksFailed
			}
			return nil
		},
	}

	opts.addFlags(cmd.Flags())

	return cmd
}

func (o *runOptions) addFlags(f *pflag.FlagSet) {
	f.StringArrayVar(&o.tasks, "task", nil, "Task id or family to run (repeatable, e.g. task1 or task5_3)")
	f.StringVar(&o.catalog, "catalog", "", "Task catalog file")
	f.StringVar(&o.agentType, "agent-type", "", fmt.Sprintf("Agent type (%s)", strings.Join(agent.TypeNames(), ", ")))
	f.StringVar(&o.agentURL, "agent-url", "", "A2A agent URL")
	f.StringVar(&o.model, "model", "", "Model for the openai agent type")
	f.StringVar(&o.mcpURL, "mcp-url", "", "FHIR MCP tool server URL")
	f.StringVar(&o.fhirURL, "fhir-url", "", "FHIR server base URL used for ground truth")
	f.StringVar(&o.outputDir, "output-dir", "", "Directory for the results artifact")
	f.IntVar(&o.parallel, "parallel", 1, "Number of tasks evaluated concurrently")
	f.StringVar(&o.timeout, "timeout", "", "Per-task agent timeout (e.g. 5m)")
	f.StringVar(&o.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.StringVar(&o.logFormat, "log-format", logging.FormatText, "Log format (text, json)")
	f.StringVarP(&o.outputFormat, "output", "o", "text", "Report format (text, json)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Verbose output")
}

// apply copies the flags the user set onto spec.
func (o *runOptions) apply(f *pflag.FlagSet, spec *eval.EvalSpec) {
	c := &spec.Config

	if f.Changed("catalog") {
		c.Catalog = o.catalog
	}
	if f.Changed("agent-type") {
		c.Agent.Type = agent.Type(o.agentType)
	}
	if f.Changed("agent-url") {
		c.Agent.URL = o.agentURL
	}
	if f.Changed("model") {
		c.Agent.Model = o.model
	}
	if f.Changed("mcp-url") {
		c.McpServerURL = o.mcpURL
	}
	if f.Changed("fhir-url") {
		c.FhirBaseURL = o.fhirURL
	}
	if f.Changed("output-dir") {
		c.OutputDir = o.outputDir
	}
	if f.Changed("parallel") {
		c.Parallel = &o.parallel
	}
	if f.Changed("timeout") {
		c.Timeout = o.timeout
	}
}

// progressDisplay handles interactive progress display
type progressDisplay struct {
	out     io.Writer
	verbose bool
	green   *color.Color
	red     *color.Color
	yellow  *color.Color
	cyan    *color.Color
	bold    *color.Color
}

func newProgressDisplay(out io.Writer, verbose bool) *progressDisplay {
	return &progressDisplay{
		out:     out,
		verbose: verbose,
		green:   color.New(color.FgGreen),
		red:     color.New(color.FgRed),
		yellow:  color.New(color.FgYellow),
		cyan:    color.New(color.FgCyan),
		bold:    color.New(color.Bold),
	}
}

func (d *progressDisplay) handleProgress(event eval.ProgressEvent) {
	switch event.Type {
	case eval.EventEvalStart:
		_, _ = d.bold.Fprintf(d.out, "\n=== Starting Evaluation (%d tasks) ===\n", event.Total)

	case eval.EventTaskStart:
		if d.verbose {
			_, _ = d.cyan.Fprintf(d.out, "[%d/%d] %s\n", event.Index, event.Total, event.TaskID)
		}

	case eval.EventTaskComplete:
		r := event.Result
		prefix := fmt.Sprintf("[%d/%d] %s", event.Index, event.Total, event.TaskID)
		if r.Correct {
			_, _ = d.green.Fprintf(d.out, "%s ✓\n", prefix)
			return
		}
		_, _ = d.red.Fprintf(d.out, "%s ✗ %s\n", prefix, r.FailureKind)
		if d.verbose && r.FailureReason != "" {
			fmt.Fprintf(d.out, "    %s\n", r.FailureReason)
		}

	case eval.EventTaskError:
		_, _ = d.yellow.Fprintf(d.out, "[%d/%d] %s ✗ %s\n", event.Index, event.Total, event.TaskID, event.Result.FailureKind)
		fmt.Fprintf(d.out, "    Error: %s\n", event.Result.Error)

	case eval.EventEvalComplete:
		fmt.Fprintln(d.out)
		_, _ = d.bold.Fprintln(d.out, "=== Evaluation Complete ===")
	}
}

func displayReport(out io.Writer, artifact *results.Artifact, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(artifact.Report)

	case "text":
		fmt.Fprintln(out)
		fmt.Fprintln(out, artifact.Report.Text())
		return nil

	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
