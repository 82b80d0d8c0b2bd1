package eval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pharmagent/medbench/pkg/agent"
	"github.com/pharmagent/medbench/pkg/fhir"
	"github.com/pharmagent/medbench/pkg/groundtruth"
	"github.com/pharmagent/medbench/pkg/scoring"
	"github.com/pharmagent/medbench/pkg/task"
	"github.com/pharmagent/medbench/pkg/trace"
)

const testCatalog = `[
  {"id": "task1_1", "instruction": "What's the MRN of Peter Stafford?", "sol": ["S6534835"], "eval_MRN": "S6534835"},
  {"id": "task1_2", "instruction": "What's the MRN of Anna Moore?", "sol": ["S1111111"], "eval_MRN": "S1111111"},
  {"id": "task2_1", "instruction": "What's the age of the patient?", "context": "It's 2023-11-13T10:15:00+00:00 now.", "eval_MRN": "S2874099"}
]`

type fakeStore struct {
	birthDate string
}

func (s *fakeStore) Observations(context.Context, fhir.Query) ([]fhir.Observation, error) {
	return nil, nil
}

func (s *fakeStore) Patient(context.Context, string) (*fhir.Patient, error) {
	return &fhir.Patient{BirthDate: s.birthDate}, nil
}

// fakeEndpoint answers by the patient id found in the prompt.
type fakeEndpoint struct {
	answers map[string]string
	steps   []trace.Step
	err     error

	mu      sync.Mutex
	prompts []string
}

func (e *fakeEndpoint) Name() string { return "fake" }

func (e *fakeEndpoint) Send(_ context.Context, req agent.Request) (*agent.Response, error) {
	e.mu.Lock()
	e.prompts = append(e.prompts, req.Prompt)
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	for patient, text := range e.answers {
		if strings.Contains(req.Prompt, "Patient ID: Patient/"+patient+"\n") {
			return &agent.Response{Text: text, Trace: e.steps}, nil
		}
	}
	return &agent.Response{Text: "I could not find the patient."}, nil
}

func (e *fakeEndpoint) Close() error { return nil }

func (e *fakeEndpoint) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.prompts)
}

func testCatalogFor(t *testing.T) *task.Catalog {
	t.Helper()
	c, err := task.Read([]byte(testCatalog))
	require.NoError(t, err)
	return c
}

func testPipeline(t *testing.T, endpoint agent.Endpoint) PipelineOptions {
	t.Helper()
	calc := groundtruth.NewCalculator(&fakeStore{birthDate: "2000-03-01"})
	return PipelineOptions{
		Catalog:  testCatalogFor(t),
		Endpoint: endpoint,
		Policy:   scoring.NewPolicy(calc),
	}
}

var errAgentDown = errors.New("connection refused")
