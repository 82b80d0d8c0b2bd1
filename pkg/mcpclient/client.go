// Package mcpclient connects to the MCP server that fronts the clinical record
// store and renders its tool catalog for agent prompts.
package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pharmagent/medbench/pkg/util"
)

const (
	// DefaultServerURL is where the FHIR tool server listens by default.
	DefaultServerURL = "http://localhost:8002"

	endpointSuffix = "/mcp"
	clientName     = "medbench-client"
	clientVersion  = "0.1.0"
)

// ServerConfig describes a streamable-HTTP MCP server.
type ServerConfig struct {
	// URL is the server address; "/mcp" is appended when missing.
	URL string `json:"url"`
	// Headers are sent with every request. Values may reference environment
	// variables as ${VAR} or ${VAR:-default}.
	Headers map[string]string `json:"headers,omitempty"`
}

// Endpoint returns the streamable-HTTP endpoint for url.
func Endpoint(url string) string {
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, endpointSuffix) {
		url += endpointSuffix
	}
	return url
}

func (c ServerConfig) expandedHeaders() (map[string]string, error) {
	if len(c.Headers) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		expanded, err := util.ExpandEnv(v)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}

// Connect opens a client session to the server.
func Connect(ctx context.Context, cfg ServerConfig) (*mcp.ClientSession, error) {
	headers, err := cfg.expandedHeaders()
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Transport: NewHeaderRoundTripper(headers, nil),
	}

	transport := &mcp.StreamableClientTransport{
		Endpoint:   Endpoint(cfg.URL),
		HTTPClient: httpClient,
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	return client.Connect(ctx, transport, nil)
}
