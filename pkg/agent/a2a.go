package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pharmagent/medbench/pkg/logging"
	"github.com/pharmagent/medbench/pkg/trace"
	"golang.org/x/exp/jsonrpc2"
	"golang.org/x/sync/singleflight"
)

const (
	agentCardPath     = "/.well-known/agent-card.json"
	methodSendMessage = "message/send"
	stateCompleted    = "completed"
	trajectoryKey     = "trajectory"
	maxErrorBody      = 512
)

// A2AClient talks to an agent over the A2A JSON-RPC binding.
type A2AClient struct {
	baseURL    string
	httpClient *http.Client
	nextID     atomic.Int64
	resolve    singleflight.Group

	mu        sync.Mutex
	rpcURL    string
	contextID string
}

var _ Endpoint = &A2AClient{}

// A2AOption configures an A2AClient.
type A2AOption func(*A2AClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) A2AOption {
	return func(a *A2AClient) {
		a.httpClient = c
	}
}

// NewA2AClient returns a client for the agent served at baseURL.
func NewA2AClient(baseURL string, opts ...A2AOption) *A2AClient {
	c := &A2AClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *A2AClient) Name() string {
	return "a2a:" + c.baseURL
}

func (c *A2AClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Reset forgets the remembered conversation.
func (c *A2AClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contextID = ""
}

func (c *A2AClient) Send(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	endpoint := c.endpoint(ctx)

	contextID := req.ContextID
	if contextID == "" && !req.NewConversation {
		c.mu.Lock()
		contextID = c.contextID
		c.mu.Unlock()
	}

	call, err := jsonrpc2.NewCall(jsonrpc2.Int64ID(c.nextID.Add(1)), methodSendMessage, sendParams{
		Message: message{
			Kind:      "message",
			Role:      "user",
			Parts:     []part{{Kind: "text", Text: req.Prompt}},
			MessageID: uuid.NewString(),
			ContextID: contextID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s call: %w", methodSendMessage, err)
	}

	body, err := jsonrpc2.EncodeMessage(call)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s call: %w", methodSendMessage, err)
	}

	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}

	msg, err := jsonrpc2.DecodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}
	rpcResp, ok := msg.(*jsonrpc2.Response)
	if !ok {
		return nil, fmt.Errorf("agent sent a %T instead of a response", msg)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("agent returned an error: %w", rpcResp.Error)
	}

	var res sendResult
	if err := json.Unmarshal(rpcResp.Result, &res); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", methodSendMessage, err)
	}

	out, state, err := res.response()
	if err != nil {
		return nil, err
	}
	if state != stateCompleted {
		return nil, &NotCompletedError{State: state}
	}

	c.mu.Lock()
	c.contextID = out.ContextID
	c.mu.Unlock()

	return out, nil
}

// endpoint resolves the JSON-RPC URL from the agent card once, falling back
// to the base URL when the agent publishes none. Concurrent callers share a
// single card request made without holding c.mu.
func (c *A2AClient) endpoint(ctx context.Context) string {
	c.mu.Lock()
	rpcURL := c.rpcURL
	c.mu.Unlock()
	if rpcURL != "" {
		return rpcURL
	}

	v, _, _ := c.resolve.Do(agentCardPath, func() (any, error) {
		return c.resolveEndpoint(ctx), nil
	})
	return v.(string)
}

func (c *A2AClient) resolveEndpoint(ctx context.Context) string {
	c.mu.Lock()
	resolved := c.rpcURL
	c.mu.Unlock()
	if resolved != "" {
		return resolved
	}

	rpcURL := c.baseURL
	card, err := c.fetchCard(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		// cancelled before the agent answered; ask again on the next send
		return rpcURL
	case err != nil:
		logging.FromContext(ctx).WithError(err).WithField("url", c.baseURL).Debug("no agent card, posting to base url")
	case card.URL != "":
		rpcURL = card.URL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcURL == "" {
		c.rpcURL = rpcURL
	}
	return c.rpcURL
}

type agentCard struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (c *A2AClient) fetchCard(ctx context.Context) (*agentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+agentCardPath, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card request returned %s", resp.Status)
	}

	card := &agentCard{}
	if err := json.NewDecoder(resp.Body).Decode(card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}
	return card, nil
}

func (c *A2AClient) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent at %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, fmt.Errorf("agent at %s returned %s: %s", url, resp.Status, data)
	}
	return data, nil
}

type part struct {
	Kind string          `json:"kind"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type message struct {
	Kind      string `json:"kind"`
	Role      string `json:"role"`
	Parts     []part `json:"parts"`
	MessageID string `json:"messageId"`
	ContextID string `json:"contextId,omitempty"`
}

type sendParams struct {
	Message message `json:"message"`
}

type taskStatus struct {
	State   string   `json:"state"`
	Message *message `json:"message,omitempty"`
}

type artifact struct {
	Parts []part `json:"parts"`
}

// sendResult is either a Message or a Task, told apart by kind.
type sendResult struct {
	Kind      string      `json:"kind"`
	ContextID string      `json:"contextId"`
	Parts     []part      `json:"parts"`
	Status    *taskStatus `json:"status"`
	Artifacts []artifact  `json:"artifacts"`
}

func (r sendResult) response() (*Response, string, error) {
	out := &Response{ContextID: r.ContextID}

	if r.Kind != "task" {
		text, steps, err := mergeParts(r.Parts)
		if err != nil {
			return nil, "", err
		}
		out.Text, out.Trace = text, steps
		return out, stateCompleted, nil
	}

	state := stateCompleted
	if r.Status != nil {
		if r.Status.State != "" {
			state = r.Status.State
		}
		if r.Status.Message != nil {
			text, steps, err := mergeParts(r.Status.Message.Parts)
			if err != nil {
				return nil, "", err
			}
			out.Text += text
			out.Trace = steps
		}
	}

	for _, a := range r.Artifacts {
		text, steps, err := mergeParts(a.Parts)
		if err != nil {
			return nil, "", err
		}
		out.Text += text
		if out.Trace == nil {
			out.Trace = steps
		}
	}

	return out, state, nil
}

// mergeParts joins text parts with newlines. A data part holding a
// trajectory becomes the trace; other data parts are rendered as JSON text.
func mergeParts(parts []part) (string, []trace.Step, error) {
	var (
		chunks []string
		steps  []trace.Step
	)

	for _, p := range parts {
		switch {
		case p.Kind == "text" || (p.Kind == "" && p.Text != ""):
			chunks = append(chunks, p.Text)
		case p.Kind == "data" && len(p.Data) > 0:
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(p.Data, &fields); err == nil {
				if raw, ok := fields[trajectoryKey]; ok {
					if err := json.Unmarshal(raw, &steps); err != nil {
						return "", nil, fmt.Errorf("failed to decode agent trajectory: %w", err)
					}
					continue
				}
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, p.Data, "", "  "); err != nil {
				return "", nil, fmt.Errorf("failed to render data part: %w", err)
			}
			chunks = append(chunks, buf.String())
		}
	}

	return strings.Join(chunks, "\n"), steps, nil
}
