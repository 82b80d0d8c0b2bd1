package eval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/pharmagent/medbench/pkg/agent"
	"github.com/pharmagent/medbench/pkg/fhir"
	"github.com/pharmagent/medbench/pkg/groundtruth"
	"github.com/pharmagent/medbench/pkg/mcpclient"
	"github.com/pharmagent/medbench/pkg/scoring"
	"github.com/pharmagent/medbench/pkg/task"
	"github.com/pharmagent/medbench/pkg/util"
)

const (
	KindEval = "Eval"

	EnvFhirBaseURL   = "MCP_FHIR_API_BASE"
	EnvServerURL     = "MCP_SERVER_URL"
	envServerURLAlt  = "FHIR_MCP_SERVER_URL"
	DefaultTimeout   = 5 * time.Minute
	DefaultParallel  = 1
	DefaultOutputDir = "results"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type EvalSpec struct {
	util.TypeMeta `json:",inline"`
	Metadata      EvalMetadata `json:"metadata"`
	Config        EvalConfig   `json:"config"`
}

type EvalMetadata struct {
	Name string `json:"name"`
}

type EvalConfig struct {
	// Catalog is the task catalog file; relative paths resolve against the
	// config file's directory.
	Catalog string   `json:"catalog"`
	Tasks   []string `json:"tasks,omitempty"`

	Agent agent.Spec `json:"agent"`

	McpServerURL  string            `json:"mcpServerUrl,omitempty"`
	McpHeaders    map[string]string `json:"mcpHeaders,omitempty"`
	FhirBaseURL   string            `json:"fhirBaseUrl,omitempty"`
	ReferenceTime string            `json:"referenceTime,omitempty"`

	// Timeout bounds one dispatch, e.g. "5m".
	Timeout       string `json:"timeout,omitempty"`
	MaxRounds     *int   `json:"maxRounds,omitempty"`
	DiscoverTools *bool  `json:"discoverTools,omitempty"`
	Parallel      *int   `json:"parallel,omitempty"`

	Cache     *CacheConfig `json:"cache,omitempty"`
	OutputDir string       `json:"outputDir,omitempty"`
}

type CacheConfig struct {
	Type     string `json:"type"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	TTL      string `json:"ttl,omitempty"`
}

func (e *EvalSpec) UnmarshalJSON(data []byte) error {
	type Doppleganger EvalSpec

	tmp := (*Doppleganger)(e)
	return util.UnmarshalWithKind(data, tmp, KindEval)
}

func Read(data []byte, basePath string) (*EvalSpec, error) {
	spec := &EvalSpec{}

	err := yaml.Unmarshal(data, spec)
	if err != nil {
		return nil, err
	}

	if err := resolveFilePath(&spec.Config.Catalog, basePath); err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	if err := resolveFilePath(&spec.Config.OutputDir, basePath); err != nil {
		return nil, fmt.Errorf("failed to resolve output dir: %w", err)
	}

	return spec, nil
}

func resolveFilePath(filePath *string, basePath string) error {
	if filePath == nil || *filePath == "" {
		return nil
	}

	if filepath.IsAbs(*filePath) {
		return nil
	}

	*filePath = filepath.Join(basePath, *filePath)
	return nil
}

func FromFile(path string) (*EvalSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s' for evalspec: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for '%s': %w", path, err)
	}

	return Read(data, filepath.Dir(absPath))
}

// Default returns a spec with every field at its default, for runs driven
// purely by flags and environment.
func Default() *EvalSpec {
	return &EvalSpec{
		TypeMeta: util.TypeMeta{APIVersion: util.APIVersionV1Alpha1, Kind: KindEval},
		Metadata: EvalMetadata{Name: "medagentbench"},
	}
}

// Settings are the resolved values of an EvalConfig.
type Settings struct {
	Server        mcpclient.ServerConfig
	FhirBaseURL   string
	Reference     time.Time
	Timeout       time.Duration
	MaxRounds     int
	DiscoverTools bool
	Parallel      int
	OutputDir     string
	CacheTTL      time.Duration
}

// Resolve applies environment variables and defaults to c.
func (c *EvalConfig) Resolve() (Settings, error) {
	s := Settings{
		Server: mcpclient.ServerConfig{
			URL:     firstSet(c.McpServerURL, os.Getenv(EnvServerURL), os.Getenv(envServerURLAlt), mcpclient.DefaultServerURL),
			Headers: c.McpHeaders,
		},
		FhirBaseURL:   firstSet(c.FhirBaseURL, os.Getenv(EnvFhirBaseURL), fhir.DefaultBaseURL),
		Reference:     groundtruth.DefaultReference,
		Timeout:       DefaultTimeout,
		MaxRounds:     DefaultMaxRounds,
		DiscoverTools: true,
		Parallel:      DefaultParallel,
		OutputDir:     firstSet(c.OutputDir, DefaultOutputDir),
		CacheTTL:      fhir.DefaultCacheTTL,
	}

	var errs []error
	if c.ReferenceTime != "" {
		t, err := fhir.ParseTimestamp(c.ReferenceTime)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid referenceTime %q: %w", c.ReferenceTime, err))
		}
		s.Reference = t
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("invalid timeout %q", c.Timeout))
		}
		s.Timeout = d
	}
	if c.MaxRounds != nil {
		if *c.MaxRounds <= 0 {
			errs = append(errs, fmt.Errorf("maxRounds must be positive, got %d", *c.MaxRounds))
		}
		s.MaxRounds = *c.MaxRounds
	}
	if c.DiscoverTools != nil {
		s.DiscoverTools = *c.DiscoverTools
	}
	if c.Parallel != nil {
		if *c.Parallel <= 0 {
			errs = append(errs, fmt.Errorf("parallel must be positive, got %d", *c.Parallel))
		}
		s.Parallel = *c.Parallel
	}
	if c.Cache != nil {
		switch c.Cache.Type {
		case "", CacheNone, CacheMemory:
		case CacheRedis:
			if c.Cache.Addr == "" {
				errs = append(errs, errors.New("cache type redis requires addr"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown cache type %q", c.Cache.Type))
		}
		if c.Cache.TTL != "" {
			d, err := time.ParseDuration(c.Cache.TTL)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid cache ttl %q", c.Cache.TTL))
			}
			s.CacheTTL = d
		}
	}

	return s, errors.Join(errs...)
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// openStore builds the clinical data store, wrapped in the configured cache.
// The returned closer releases the cache backend.
func openStore(ctx context.Context, c *CacheConfig, baseURL string, ttl time.Duration) (fhir.Store, func() error, error) {
	client := fhir.NewClient(baseURL)
	noop := func() error { return nil }

	if c == nil {
		return client, noop, nil
	}
	switch c.Type {
	case CacheMemory:
		return fhir.NewCachedStore(client, fhir.NewMemoryCache(), ttl), noop, nil
	case CacheRedis:
		cache, err := fhir.NewRedisCache(ctx, fhir.RedisOptions{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return fhir.NewCachedStore(client, cache, ttl), cache.Close, nil
	default:
		return client, noop, nil
	}
}

// components are the long-lived collaborators built once per run.
type components struct {
	settings Settings
	catalog  *task.Catalog
	endpoint agent.Endpoint
	policy   *scoring.Policy
	close    func() error
}

func setup(ctx context.Context, spec *EvalSpec) (*components, error) {
	settings, err := spec.Config.Resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid eval config: %w", err)
	}

	if spec.Config.Catalog == "" {
		return nil, errors.New("task catalog must be specified in eval config")
	}
	catalog, err := task.FromFile(spec.Config.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load task catalog: %w", err)
	}

	store, closeStore, err := openStore(ctx, spec.Config.Cache, settings.FhirBaseURL, settings.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to open clinical data store: %w", err)
	}

	endpoint, err := agent.New(spec.Config.Agent, settings.Server)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	calc := groundtruth.NewCalculator(store, groundtruth.WithReference(settings.Reference))
	return &components{
		settings: settings,
		catalog:  catalog,
		endpoint: endpoint,
		policy:   scoring.NewPolicy(calc),
		close: func() error {
			return errors.Join(endpoint.Close(), closeStore())
		},
	}, nil
}
