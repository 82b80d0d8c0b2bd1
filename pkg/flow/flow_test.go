package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	visited []string
	value   int
}

// funcStep adapts plain functions to Step for tests.
type funcStep struct {
	name     string
	compute  func(ctx context.Context, in int) (int, error)
	outcome  func(out int) Outcome
	fallback func(in int, err error) (int, error)
}

func (s *funcStep) Prepare(r *record) (int, error) {
	r.visited = append(r.visited, s.name)
	return r.value, nil
}

func (s *funcStep) Compute(ctx context.Context, in int) (int, error) {
	if s.compute == nil {
		return in, nil
	}
	return s.compute(ctx, in)
}

func (s *funcStep) Finalize(r *record, _ int, out int) (Outcome, error) {
	r.value = out
	if s.outcome == nil {
		return Default, nil
	}
	return s.outcome(out), nil
}

type fallbackStep struct {
	funcStep
}

func (s *fallbackStep) Fallback(_ context.Context, in int, err error) (int, error) {
	return s.fallback(in, err)
}

func TestFlowRun(t *testing.T) {
	tt := map[string]struct {
		build          func() *Flow[*record]
		expectVisited  []string
		expectValue    int
		expectOutcome  Outcome
		expectErr      bool
		expectErrMatch string
	}{
		"linear chain ends on unregistered default": {
			build: func() *Flow[*record] {
				a := NewNode[*record, int, int]("a", &funcStep{name: "a", compute: func(_ context.Context, in int) (int, error) { return in + 1, nil }})
				b := NewNode[*record, int, int]("b", &funcStep{name: "b", compute: func(_ context.Context, in int) (int, error) { return in * 10, nil }})
				a.Then(b)
				return New(a)
			},
			expectVisited: []string{"a", "b"},
			expectValue:   10,
			expectOutcome: Default,
		},
		"branches on named outcome": {
			build: func() *Flow[*record] {
				check := NewNode[*record, int, int]("check", &funcStep{name: "check", outcome: func(out int) Outcome {
					if out > 0 {
						return Valid
					}
					return Invalid
				}})
				good := NewNode[*record, int, int]("good", &funcStep{name: "good"})
				bad := NewNode[*record, int, int]("bad", &funcStep{name: "bad"})
				check.On(Valid, good)
				check.On(Invalid, bad)
				return New(check)
			},
			expectVisited: []string{"check", "bad"},
			expectOutcome: Default,
		},
		"compute error without fallback aborts": {
			build: func() *Flow[*record] {
				a := NewNode[*record, int, int]("a", &funcStep{name: "a", compute: func(context.Context, int) (int, error) {
					return 0, errors.New("boom")
				}})
				a.Then(NewNode[*record, int, int]("b", &funcStep{name: "b"}))
				return New(a)
			},
			expectVisited:  []string{"a"},
			expectErr:      true,
			expectErrMatch: `step "a": compute: boom`,
		},
		"fallback substitutes output and continues": {
			build: func() *Flow[*record] {
				a := NewNode[*record, int, int]("a", &fallbackStep{funcStep{
					name:     "a",
					compute:  func(context.Context, int) (int, error) { return 0, errors.New("boom") },
					fallback: func(int, error) (int, error) { return -1, nil },
				}})
				a.Then(NewNode[*record, int, int]("b", &funcStep{name: "b"}))
				return New(a)
			},
			expectVisited: []string{"a", "b"},
			expectValue:   -1,
			expectOutcome: Default,
		},
		"fallback error aborts": {
			build: func() *Flow[*record] {
				a := NewNode[*record, int, int]("a", &fallbackStep{funcStep{
					name:     "a",
					compute:  func(context.Context, int) (int, error) { return 0, errors.New("boom") },
					fallback: func(_ int, err error) (int, error) { return 0, err },
				}})
				return New(a)
			},
			expectVisited:  []string{"a"},
			expectErr:      true,
			expectErrMatch: "fallback: boom",
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			r := &record{}
			outcome, err := tc.build().Run(context.Background(), r)
			assert.Equal(t, tc.expectVisited, r.visited)
			if tc.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErrMatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectOutcome, outcome)
			assert.Equal(t, tc.expectValue, r.value)
		})
	}
}

func TestNodeRetries(t *testing.T) {
	tt := map[string]struct {
		maxRetries   int
		failures     int
		expectCalls  int
		expectErr    bool
		expectResult int
	}{
		"succeeds after transient failures": {
			maxRetries:   2,
			failures:     2,
			expectCalls:  3,
			expectResult: 42,
		},
		"gives up after max retries": {
			maxRetries:  1,
			failures:    5,
			expectCalls: 2,
			expectErr:   true,
		},
		"no retries means one attempt": {
			maxRetries:  0,
			failures:    1,
			expectCalls: 1,
			expectErr:   true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			calls := 0
			step := &funcStep{name: "flaky", compute: func(context.Context, int) (int, error) {
				calls++
				if calls <= tc.failures {
					return 0, errors.New("transient")
				}
				return 42, nil
			}}

			r := &record{}
			_, err := New(NewNode[*record, int, int]("flaky", step, WithRetries(tc.maxRetries, 0))).Run(context.Background(), r)
			assert.Equal(t, tc.expectCalls, calls)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectResult, r.value)
		})
	}
}

func TestNodeRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	step := &funcStep{name: "slow", compute: func(context.Context, int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	}}

	start := time.Now()
	_, err := New(NewNode[*record, int, int]("slow", step, WithRetries(3, time.Hour))).Run(ctx, &record{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestNewBackOffDoublesWait(t *testing.T) {
	b := newBackOff(nodeConfig{maxRetries: 3, wait: time.Second})
	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
}

func TestFlowWithoutStart(t *testing.T) {
	_, err := New[*record](nil).Run(context.Background(), &record{})
	require.Error(t, err)
}
