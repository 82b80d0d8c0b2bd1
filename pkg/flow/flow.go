// Package flow is a small workflow runtime. A flow is a directed graph of
// nodes; each node wraps a Step with a prepare/compute/finalize lifecycle and
// the outcome returned by Finalize selects the next node.
//
// Compute is the only phase that may block on I/O. It receives a context and
// never sees the shared state, so any number of flows can run concurrently on
// their own goroutines without coordinating with each other.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pharmagent/medbench/pkg/logging"
)

// Outcome labels the edge taken after a step finalizes.
type Outcome string

const (
	Default Outcome = "default"
	Valid   Outcome = "valid"
	Invalid Outcome = "invalid"
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Step is one unit of work over shared state S. Prepare reads the state and
// produces the compute input, Compute does the work without touching the
// state, and Finalize writes results back and picks the outgoing edge.
type Step[S, I, O any] interface {
	Prepare(state S) (I, error)
	Compute(ctx context.Context, input I) (O, error)
	Finalize(state S, input I, output O) (Outcome, error)
}

// Fallbacker is implemented by steps that can recover once every compute
// attempt has failed. Steps without it fail the run with the last error.
type Fallbacker[I, O any] interface {
	Fallback(ctx context.Context, input I, err error) (O, error)
}

// NodeOption configures a node.
type NodeOption func(*nodeConfig)

type nodeConfig struct {
	maxRetries int
	wait       time.Duration
}

// WithRetries allows maxRetries additional compute attempts, sleeping
// wait*2^attempt between them.
func WithRetries(maxRetries int, wait time.Duration) NodeOption {
	return func(c *nodeConfig) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = maxRetries
		c.wait = wait
	}
}

// Node is a step bound into a flow graph.
type Node[S any] struct {
	name       string
	cfg        nodeConfig
	run        func(ctx context.Context, state S) (Outcome, error)
	successors map[Outcome]*Node[S]
}

// NewNode wraps step into a node named name.
func NewNode[S, I, O any](name string, step Step[S, I, O], opts ...NodeOption) *Node[S] {
	n := &Node[S]{
		name:       name,
		successors: make(map[Outcome]*Node[S]),
	}
	for _, opt := range opts {
		opt(&n.cfg)
	}

	n.run = func(ctx context.Context, state S) (Outcome, error) {
		input, err := step.Prepare(state)
		if err != nil {
			return "", fmt.Errorf("prepare: %w", err)
		}

		output, err := computeWithRetry(ctx, n.name, n.cfg, func() (O, error) {
			return step.Compute(ctx, input)
		})
		if err != nil {
			fb, ok := step.(Fallbacker[I, O])
			if !ok || errors.Is(err, context.Canceled) {
				return "", fmt.Errorf("compute: %w", err)
			}
			output, err = fb.Fallback(ctx, input, err)
			if err != nil {
				return "", fmt.Errorf("fallback: %w", err)
			}
		}

		outcome, err := step.Finalize(state, input, output)
		if err != nil {
			return "", fmt.Errorf("finalize: %w", err)
		}
		if outcome == "" {
			outcome = Default
		}
		return outcome, nil
	}

	return n
}

// Name returns the node name.
func (n *Node[S]) Name() string {
	return n.name
}

// On registers next as the successor for outcome and returns next, so linear
// chains can be written as a.On(Default, b).On(Default, c).
func (n *Node[S]) On(outcome Outcome, next *Node[S]) *Node[S] {
	n.successors[outcome] = next
	return next
}

// Then is On(Default, next).
func (n *Node[S]) Then(next *Node[S]) *Node[S] {
	return n.On(Default, next)
}

// Successor returns the node registered for outcome, if any.
func (n *Node[S]) Successor(outcome Outcome) (*Node[S], bool) {
	next, ok := n.successors[outcome]
	return next, ok
}

func computeWithRetry[O any](ctx context.Context, name string, cfg nodeConfig, op func() (O, error)) (O, error) {
	if cfg.maxRetries == 0 {
		return op()
	}

	log := logging.FromContext(ctx).WithField("step", name)
	attempt := 0

	return backoff.Retry(ctx, func() (O, error) {
		attempt++
		return op()
	},
		backoff.WithBackOff(newBackOff(cfg)),
		backoff.WithMaxTries(uint(cfg.maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.WithError(err).WithField("attempt", attempt).WithField("wait", wait).Warn("compute failed, retrying")
		}),
	)
}

func newBackOff(cfg nodeConfig) backoff.BackOff {
	if cfg.wait <= 0 {
		return &backoff.ZeroBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.wait
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = cfg.wait << cfg.maxRetries
	return b
}

// Flow runs nodes starting at a fixed start node until an outcome has no
// registered successor.
type Flow[S any] struct {
	start *Node[S]
}

// New creates a flow beginning at start.
func New[S any](start *Node[S]) *Flow[S] {
	return &Flow[S]{start: start}
}

// Run executes the flow against state and returns the outcome of the last
// node. A step error aborts the run and is returned wrapped with the node
// name.
func (f *Flow[S]) Run(ctx context.Context, state S) (Outcome, error) {
	if f.start == nil {
		return "", errors.New("flow has no start node")
	}

	log := logging.FromContext(ctx)
	current := f.start
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("step %q: %w", current.name, err)
		}

		log.WithField("step", current.name).Debug("running step")
		outcome, err := current.run(ctx, state)
		if err != nil {
			return "", fmt.Errorf("step %q: %w", current.name, err)
		}

		next, ok := current.successors[outcome]
		if !ok {
			return outcome, nil
		}
		current = next
	}
}
