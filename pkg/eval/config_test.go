package eval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/pharmagent/medbench/pkg/agent"
	"github.com/pharmagent/medbench/pkg/groundtruth"
	"github.com/pharmagent/medbench/pkg/mcpclient"
)

func TestFromFile(t *testing.T) {
	spec, err := FromFile("testdata/eval.yaml")
	require.NoError(t, err)

	dir, err := filepath.Abs("testdata")
	require.NoError(t, err)

	assert.Equal(t, KindEval, spec.Kind)
	assert.Equal(t, "medagentbench-smoke", spec.Metadata.Name)
	assert.Equal(t, filepath.Join(dir, "catalog.json"), spec.Config.Catalog)
	assert.Equal(t, filepath.Join(dir, "out"), spec.Config.OutputDir)
	assert.Equal(t, []string{"task1_1", "task2"}, spec.Config.Tasks)
	assert.Equal(t, agent.TypeA2A, spec.Config.Agent.Type)

	s, err := spec.Config.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, s.Timeout)
	assert.Equal(t, 8, s.MaxRounds)
	assert.False(t, s.DiscoverTools)
	assert.Equal(t, 4, s.Parallel)
	assert.Equal(t, time.Minute, s.CacheTTL)
	assert.True(t, s.Reference.Equal(groundtruth.DefaultReference))
}

func TestRead_RejectsWrongKind(t *testing.T) {
	_, err := Read([]byte("kind: Task\nmetadata:\n  name: x\n"), ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kind 'Task'")
}

func TestEvalConfig_Resolve(t *testing.T) {
	tt := map[string]struct {
		config    EvalConfig
		env       map[string]string
		expectErr string
		check     func(t *testing.T, s Settings)
	}{
		"defaults": {
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, mcpclient.DefaultServerURL, s.Server.URL)
				assert.Equal(t, "http://localhost:8080/fhir/", s.FhirBaseURL)
				assert.Equal(t, DefaultTimeout, s.Timeout)
				assert.Equal(t, DefaultMaxRounds, s.MaxRounds)
				assert.True(t, s.DiscoverTools)
				assert.Equal(t, 1, s.Parallel)
				assert.Equal(t, DefaultOutputDir, s.OutputDir)
			},
		},
		"environment fills unset urls": {
			env: map[string]string{EnvServerURL: "http://tools:8002", EnvFhirBaseURL: "http://fhir:8080/fhir/"},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, "http://tools:8002", s.Server.URL)
				assert.Equal(t, "http://fhir:8080/fhir/", s.FhirBaseURL)
			},
		},
		"config wins over environment": {
			config: EvalConfig{McpServerURL: "http://explicit:8002"},
			env:    map[string]string{EnvServerURL: "http://tools:8002"},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, "http://explicit:8002", s.Server.URL)
			},
		},
		"legacy server variable": {
			env: map[string]string{"FHIR_MCP_SERVER_URL": "http://legacy:8002"},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, "http://legacy:8002", s.Server.URL)
			},
		},
		"reference time without zone": {
			config: EvalConfig{ReferenceTime: "2024-01-02T03:04"},
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC), s.Reference)
			},
		},
		"invalid values are all reported": {
			config: EvalConfig{
				Timeout:   "soon",
				MaxRounds: ptr.To(0),
				Parallel:  ptr.To(-1),
			},
			expectErr: "invalid timeout",
		},
		"redis needs an address": {
			config:    EvalConfig{Cache: &CacheConfig{Type: CacheRedis}},
			expectErr: "requires addr",
		},
		"unknown cache": {
			config:    EvalConfig{Cache: &CacheConfig{Type: "disk"}},
			expectErr: `unknown cache type "disk"`,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			t.Setenv(EnvServerURL, "")
			t.Setenv("FHIR_MCP_SERVER_URL", "")
			t.Setenv(EnvFhirBaseURL, "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			s, err := tc.config.Resolve()
			if tc.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErr)
				return
			}
			require.NoError(t, err)
			tc.check(t, s)
		})
	}
}

func TestSetup(t *testing.T) {
	spec, err := FromFile("testdata/eval.yaml")
	require.NoError(t, err)

	c, err := setup(context.Background(), spec)
	require.NoError(t, err)
	defer func() { _ = c.close() }()

	assert.Equal(t, 2, c.catalog.Len())
	assert.Equal(t, "a2a:http://localhost:9019", c.endpoint.Name())
	assert.NotNil(t, c.policy)
}

func TestSetup_RequiresCatalog(t *testing.T) {
	_, err := setup(context.Background(), Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task catalog must be specified")
}
