// Package agent sends task prompts to the agents under evaluation and
// collects their answers and execution traces.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pharmagent/medbench/pkg/trace"
)

// DefaultTimeout bounds a single dispatch when the request sets none.
const DefaultTimeout = 5 * time.Minute

// ErrNotCompleted is matched by errors reporting that the agent answered but
// did not finish the task.
var ErrNotCompleted = errors.New("agent did not complete the task")

// NotCompletedError carries the final state reported by the agent.
type NotCompletedError struct {
	State string
}

func (e *NotCompletedError) Error() string {
	return fmt.Sprintf("agent task ended in state %q", e.State)
}

func (e *NotCompletedError) Is(target error) bool {
	return target == ErrNotCompleted
}

// Request is one prompt for an agent.
type Request struct {
	Prompt string
	// ContextID continues an earlier conversation. When empty the endpoint
	// may reuse the context it remembered from its last response.
	ContextID string
	// NewConversation discards any remembered context.
	NewConversation bool
	Timeout         time.Duration
}

// Response is what the agent sent back.
type Response struct {
	Text      string       `json:"response"`
	Trace     []trace.Step `json:"trajectory,omitempty"`
	ContextID string       `json:"context_id,omitempty"`
}

// Endpoint is an agent that can be given a prompt.
type Endpoint interface {
	// Name identifies the endpoint in logs and reports.
	Name() string
	// Send delivers the prompt and blocks until the agent answers, the
	// request timeout elapses or ctx is done.
	Send(ctx context.Context, req Request) (*Response, error)
	Close() error
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
