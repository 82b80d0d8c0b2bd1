package agent

import (
	"fmt"
	"os"
	"sort"

	"github.com/pharmagent/medbench/pkg/mcpclient"
	"github.com/pharmagent/medbench/pkg/util"
)

// Type selects how the agent under evaluation is reached.
type Type string

const (
	TypeA2A    Type = "a2a"
	TypeOpenAI Type = "openai"
	TypeACP    Type = "acp"
)

const (
	DefaultA2AURL = "http://localhost:9019"

	EnvAgentURL     = "PURPLE_AGENT_URL"
	EnvModelBaseURL = "MODEL_BASE_URL"
	EnvModelKey     = "MODEL_KEY"
)

// Spec is the agent section of an eval config. String fields may reference
// environment variables as ${VAR} or ${VAR:-default}.
type Spec struct {
	Type      Type     `json:"type,omitempty"`
	URL       string   `json:"url,omitempty"`
	Model     string   `json:"model,omitempty"`
	BaseURL   string   `json:"baseUrl,omitempty"`
	APIKey    string   `json:"apiKey,omitempty"`
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	MaxRounds *int     `json:"maxRounds,omitempty"`
}

type builder struct {
	description string
	defaults    func(spec *Spec)
	validate    func(spec *Spec) error
	build       func(spec *Spec, server mcpclient.ServerConfig) (Endpoint, error)
}

var types = map[Type]builder{
	TypeA2A: {
		description: "Remote agent speaking A2A JSON-RPC over HTTP",
		defaults: func(spec *Spec) {
			if spec.URL == "" {
				spec.URL = envOr(EnvAgentURL, DefaultA2AURL)
			}
		},
		validate: func(spec *Spec) error {
			if spec.URL == "" {
				return fmt.Errorf("a2a agent requires a url")
			}
			return nil
		},
		build: func(spec *Spec, _ mcpclient.ServerConfig) (Endpoint, error) {
			return NewA2AClient(spec.URL), nil
		},
	},
	TypeOpenAI: {
		description: "Builtin tool-calling agent using an OpenAI compatible API",
		defaults: func(spec *Spec) {
			if spec.BaseURL == "" {
				spec.BaseURL = os.Getenv(EnvModelBaseURL)
			}
			if spec.APIKey == "" {
				spec.APIKey = os.Getenv(EnvModelKey)
			}
		},
		validate: func(spec *Spec) error {
			if spec.BaseURL == "" || spec.APIKey == "" {
				return fmt.Errorf("openai agent requires baseUrl and apiKey, or environment variables %s and %s", EnvModelBaseURL, EnvModelKey)
			}
			return nil
		},
		build: func(spec *Spec, server mcpclient.ServerConfig) (Endpoint, error) {
			cfg := OpenAIConfig{
				BaseURL: spec.BaseURL,
				APIKey:  spec.APIKey,
				Model:   spec.Model,
				Server:  server,
			}
			if spec.MaxRounds != nil {
				cfg.MaxRounds = *spec.MaxRounds
			}
			return NewOpenAIAgent(cfg)
		},
	},
	TypeACP: {
		description: "Local coding agent speaking ACP over stdio",
		defaults:    func(*Spec) {},
		validate: func(spec *Spec) error {
			if spec.Command == "" {
				return fmt.Errorf("acp agent requires a command")
			}
			return nil
		},
		build: func(spec *Spec, server mcpclient.ServerConfig) (Endpoint, error) {
			cfg := ACPConfig{Server: server}
			cfg.Command = spec.Command
			cfg.Args = spec.Args
			return NewACPAgent(cfg)
		},
	},
}

// ListTypes returns the known agent types and their descriptions.
func ListTypes() map[Type]string {
	out := make(map[Type]string, len(types))
	for t, b := range types {
		out[t] = b.description
	}
	return out
}

// TypeNames returns the known agent types in order.
func TypeNames() []string {
	names := make([]string, 0, len(types))
	for t := range types {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// Resolve expands environment references, fills defaults and validates the
// spec. An empty type means a2a.
func (s Spec) Resolve() (*Spec, error) {
	out := s
	if out.Type == "" {
		out.Type = TypeA2A
	}

	b, ok := types[out.Type]
	if !ok {
		return nil, fmt.Errorf("unknown agent type %q: must be one of %v", out.Type, TypeNames())
	}

	fields := []*string{&out.URL, &out.Model, &out.BaseURL, &out.APIKey, &out.Command}
	for _, f := range fields {
		v, err := util.ExpandEnv(*f)
		if err != nil {
			return nil, fmt.Errorf("failed to expand agent config: %w", err)
		}
		*f = v
	}
	if len(s.Args) > 0 {
		out.Args = make([]string, len(s.Args))
		for i, a := range s.Args {
			v, err := util.ExpandEnv(a)
			if err != nil {
				return nil, fmt.Errorf("failed to expand agent args: %w", err)
			}
			out.Args[i] = v
		}
	}

	b.defaults(&out)
	if err := b.validate(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// New builds the endpoint described by spec. Agents that call tools
// themselves are given server.
func New(spec Spec, server mcpclient.ServerConfig) (Endpoint, error) {
	resolved, err := spec.Resolve()
	if err != nil {
		return nil, err
	}
	return types[resolved.Type].build(resolved, server)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
