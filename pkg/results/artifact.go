package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Artifact is the JSON document written for a batch run.
type Artifact struct {
	RunID      string       `json:"run_id"`
	Name       string       `json:"name,omitempty"`
	Agent      string       `json:"agent,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Report     *Report      `json:"report"`
	Tasks      []TaskResult `json:"tasks"`
}

// NewArtifact builds the artifact for results, computing the report.
func NewArtifact(runID string, started, finished time.Time, results []TaskResult) *Artifact {
	return &Artifact{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: finished,
		Report:     Build(results),
		Tasks:      results,
	}
}

// FileName is the artifact name for a batch of n tasks finished at t.
func FileName(n int, t time.Time) string {
	return fmt.Sprintf("batch_%d_tasks_%s.json", n, t.Format("20060102_150405"))
}

// Save writes a to dir, creating it if needed, and returns the file path.
func Save(dir string, a *Artifact) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}

	path := filepath.Join(dir, FileName(len(a.Tasks), a.FinishedAt))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write results file: %w", err)
	}
	return path, nil
}

// Load reads an artifact. The report is rebuilt from the task results when
// the file carries none.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}

	a := &Artifact{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("failed to parse results JSON: %w", err)
	}
	if a.Report == nil {
		a.Report = Build(a.Tasks)
	}
	return a, nil
}
