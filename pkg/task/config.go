package task

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// ErrNotFound is returned when a task id is not in the catalog.
var ErrNotFound = errors.New("task not found")

// legacyAliases maps task ids used by older harness versions.
var legacyAliases = map[string]string{
	"task_001": "task7",
	"task_002": "task1",
}

// Entry is one task as stored in the catalog file. Only id is required.
type Entry struct {
	ID          string `json:"id"`
	MRN         string `json:"eval_MRN,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	// Instructions takes precedence over Instruction when both are set.
	Instructions string `json:"instructions,omitempty"`
	Question     string `json:"question,omitempty"`
	Description  string `json:"description,omitempty"`
	Context      string `json:"context,omitempty"`
	Sol          any    `json:"sol,omitempty"`
	Readonly     *bool  `json:"readonly,omitempty"`
	PostCount    *int   `json:"post_count,omitempty"`
}

// Catalog is the static set of benchmark tasks.
type Catalog struct {
	entries []Entry
	byID    map[string]int
}

// Read parses a catalog: a JSON (or YAML) list of entries.
func Read(data []byte) (*Catalog, error) {
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse task catalog: %w", err)
	}

	c := &Catalog{entries: entries, byID: make(map[string]int, len(entries))}
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("task catalog entry %d has no id", i)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate task id '%s' in catalog", e.ID)
		}
		c.byID[e.ID] = i
	}
	return c, nil
}

// FromFile reads the catalog at path.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task catalog '%s': %w", path, err)
	}
	return Read(data)
}

// IDs returns the catalog's task ids in file order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.ID
	}
	return ids
}

// Len returns the number of tasks.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Lookup returns the raw entry for id after alias resolution. A bare family
// name resolves to the first task of that family.
func (c *Catalog) Lookup(id string) (Entry, error) {
	id = ResolveAlias(id)
	if i, ok := c.byID[id]; ok {
		return c.entries[i], nil
	}

	if !strings.Contains(id, "_") {
		for _, e := range c.entries {
			if strings.HasPrefix(e.ID, id+"_") {
				return e, nil
			}
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Load resolves id and returns its normalized definition.
func (c *Catalog) Load(id string) (*Definition, error) {
	e, err := c.Lookup(id)
	if err != nil {
		return nil, err
	}
	return Normalize(e), nil
}

// ResolveAlias maps a legacy id to its current form.
func ResolveAlias(id string) string {
	if mapped, ok := legacyAliases[id]; ok {
		return mapped
	}
	return id
}
