package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pharmagent/medbench/pkg/logging"
)

// DiscoveryTimeout bounds a whole discovery attempt.
const DiscoveryTimeout = 5 * time.Second

var writeTools = []string{"record_vital_observation", "create_medication_request", "create_service_request"}

// Tool is a discovered tool.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// Discovery is the result of a best-effort catalog fetch.
type Discovery struct {
	Tools []Tool `json:"tools"`
	// Err is set when discovery failed; Tools is then empty.
	Err error `json:"-"`
}

// Count returns the number of tools found.
func (d Discovery) Count() int {
	return len(d.Tools)
}

// Formatted renders the catalog for a prompt.
func (d Discovery) Formatted() string {
	return FormatForPrompt(d.Tools)
}

// Discover lists the tools of the server at url. It never fails: errors are
// logged and reported in the result, which then carries no tools.
func Discover(ctx context.Context, cfg ServerConfig, timeout time.Duration) Discovery {
	if timeout <= 0 {
		timeout = DiscoveryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tools, err := discover(ctx, cfg)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("url", cfg.URL).Warn("tool discovery failed")
		return Discovery{Tools: []Tool{}, Err: err}
	}
	return Discovery{Tools: tools}
}

func discover(ctx context.Context, cfg ServerConfig) (tools []Tool, err error) {
	defer func() {
		if r := recover(); r != nil {
			tools, err = nil, fmt.Errorf("tool discovery panicked: %v", r)
		}
	}()

	session, err := Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mcp server: %w", err)
	}
	defer func() { _ = session.Close() }()

	return ListTools(ctx, session)
}

// ListTools pages through the session's tool list.
func ListTools(ctx context.Context, session *mcp.ClientSession) ([]Tool, error) {
	tools := make([]Tool, 0)
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		for _, t := range res.Tools {
			schema, err := toSchema(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %q has an invalid input schema: %w", t.Name, err)
			}
			tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		params.Cursor = res.NextCursor
	}
}

func toSchema(v any) (*jsonschema.Schema, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(*jsonschema.Schema); ok {
		return s, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &jsonschema.Schema{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// FormatForPrompt groups tools by purpose for inclusion in an agent prompt.
func FormatForPrompt(tools []Tool) string {
	if len(tools) == 0 {
		return "No tools available."
	}

	var search, read, write, utility []string
	var quick []Tool
	for _, t := range tools {
		switch {
		case strings.HasPrefix(t.Name, "search_"):
			search = append(search, t.Name)
		case strings.HasPrefix(t.Name, "list_"):
			read = append(read, t.Name)
		case slices.Contains(writeTools, t.Name):
			write = append(write, t.Name)
		case strings.HasPrefix(t.Name, "get_") && (strings.Contains(t.Name, "latest") || strings.Contains(t.Name, "conditions")):
			quick = append(quick, t)
		default:
			utility = append(utility, t.Name)
		}
	}

	lines := []string{fmt.Sprintf("## Tools (%d total)\n", len(tools))}
	if len(search) > 0 {
		lines = append(lines, fmt.Sprintf("**Search:** %s\n", strings.Join(search, ", ")))
	}
	if len(read) > 0 {
		lines = append(lines, fmt.Sprintf("**Read:** %s\n", strings.Join(read, ", ")))
	}
	if len(quick) > 0 {
		lines = append(lines, "**Quick Access (PREFERRED):**")
		for _, t := range quick {
			short, _, _ := strings.Cut(t.Description, ".")
			lines = append(lines, fmt.Sprintf("- `%s()` → %s", t.Name, short))
		}
		lines = append(lines, "")
	}
	if len(write) > 0 {
		lines = append(lines, fmt.Sprintf("**Write:** %s\n", strings.Join(write, ", ")))
	}
	if len(utility) > 0 {
		lines = append(lines, fmt.Sprintf("**Utilities:** %s\n", strings.Join(utility, ", ")))
	}
	return strings.Join(lines, "\n")
}

// FormatToolSchema documents a single tool and its parameters. Parameters
// are listed in name order.
func FormatToolSchema(t Tool) string {
	summary := t.Description
	if summary == "" {
		summary = "No description"
	}
	lines := []string{"### " + t.Name, summary, ""}

	if t.InputSchema == nil || len(t.InputSchema.Properties) == 0 {
		return strings.Join(lines, "\n")
	}

	lines = append(lines, "**Parameters:**")
	for _, name := range slices.Sorted(maps.Keys(t.InputSchema.Properties)) {
		prop := t.InputSchema.Properties[name]
		required := ""
		if slices.Contains(t.InputSchema.Required, name) {
			required = " (required)"
		}
		var desc string
		if prop != nil {
			desc = prop.Description
		}
		lines = append(lines, fmt.Sprintf("- `%s` (%s)%s: %s", name, schemaType(prop), required, desc))
	}
	return strings.Join(lines, "\n")
}

func schemaType(s *jsonschema.Schema) string {
	switch {
	case s == nil:
		return "any"
	case s.Type != "":
		return s.Type
	case len(s.Types) > 0:
		return strings.Join(s.Types, "|")
	}
	return "any"
}
