// Package scoring grades a parsed agent answer against the task's ground
// truth and, for tasks that call for an action, against the writes recorded
// in the agent's execution trace.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pharmagent/medbench/pkg/groundtruth"
	"github.com/pharmagent/medbench/pkg/logging"
	"github.com/pharmagent/medbench/pkg/trace"
)

// FailureKind classifies why a task was not passed.
type FailureKind string

const (
	InvalidFinishFormat   FailureKind = "invalid_finish_format"
	ReadonlyViolation     FailureKind = "readonly_violation"
	NoPostOperation       FailureKind = "no_post_operation"
	PostRejected          FailureKind = "post_rejected"
	MissingRequiredAction FailureKind = "missing_required_action"
	IncorrectAction       FailureKind = "incorrect_action"
	AnswerMismatch        FailureKind = "answer_mismatch"
	NoGroundTruth         FailureKind = "no_ground_truth"
	EvaluationError       FailureKind = "evaluation_error"
	Unknown               FailureKind = "unknown"
)

// Tolerance is the absolute difference allowed for windowed averages.
const Tolerance = 0.1

// ActionCompleted is reported as the expected answer of action-graded tasks.
const ActionCompleted = "action_completed"

var completionWords = []string{"ordered", "recorded", "created", "submitted", "completed", "done"}

// Input is everything the policy needs to grade one task.
type Input struct {
	TaskID  string
	Patient string
	// Declared is the expected answer shipped with the task; when empty it is
	// computed from the record store.
	Declared []any
	// Parsed is the agent's answer; nil means the envelope was unparsable.
	Parsed   []string
	Raw      string
	Trace    []trace.Step
	Readonly bool
	// ExpectedWrites is how many accepted writes a required action takes.
	ExpectedWrites int
}

// Outcome is the graded result.
type Outcome struct {
	Score            float64               `json:"score"`
	Correct          bool                  `json:"correct"`
	FailureKind      FailureKind           `json:"failure_kind,omitempty"`
	FailureReason    string                `json:"failure_reason,omitempty"`
	ComputedExpected []any                 `json:"computed_expected,omitempty"`
	Decision         *groundtruth.Decision `json:"decision,omitempty"`
}

func pass(expected []any) Outcome {
	return Outcome{Score: 1, Correct: true, ComputedExpected: expected}
}

func fail(kind FailureKind, reason string, expected []any) Outcome {
	return Outcome{FailureKind: kind, FailureReason: reason, ComputedExpected: expected}
}

// Policy grades answers using a ground-truth calculator.
type Policy struct {
	calc *groundtruth.Calculator
}

// NewPolicy returns a policy backed by calc.
func NewPolicy(calc *groundtruth.Calculator) *Policy {
	return &Policy{calc: calc}
}

// Score grades in. Checks run in a fixed order and the first that applies
// decides the outcome: answer shape, check-and-act families, write-only
// families, read-only violations, then answer comparison.
func (p *Policy) Score(ctx context.Context, in Input) Outcome {
	log := logging.FromContext(ctx).WithField("task_id", in.TaskID)

	if in.Parsed == nil {
		return fail(InvalidFinishFormat, "No valid answer parsed", nil)
	}

	family := groundtruth.Family(in.TaskID)
	switch {
	case groundtruth.IsHybrid(family):
		return p.scoreAction(ctx, in)
	case groundtruth.IsWriteOnly(family):
		return scoreWrite(ctx, in)
	}

	if in.Readonly && strings.Contains(strings.ToLower(in.Raw), "fhir_post") {
		return fail(ReadonlyViolation, "Agent made POST request on readonly task", nil)
	}

	expected := in.Declared
	if len(expected) == 0 {
		computed, err := p.calc.Compute(ctx, groundtruth.Input{TaskID: in.TaskID, Patient: in.Patient, Declared: in.Declared})
		switch {
		case errors.Is(err, groundtruth.ErrNoRule):
			log.WithError(err).Debug("cannot compute ground truth")
		case err != nil:
			log.WithError(err).Error("failed to compute ground truth")
			return fail(EvaluationError, fmt.Sprintf("Could not compute ground truth: %v", err), nil)
		default:
			expected = computed
		}
	}

	if len(expected) == 0 {
		return fail(NoGroundTruth, "No ground truth available for comparison", expected)
	}

	return Compare(in.TaskID, in.Parsed, expected)
}

// Compare applies the family's answer comparison rule.
func Compare(taskID string, parsed []string, expected []any) Outcome {
	family := groundtruth.Family(taskID)

	if groundtruth.IsHybrid(family) && len(parsed) == 0 {
		return pass(expected)
	}

	mismatch := fail(AnswerMismatch, fmt.Sprintf("Expected %s, got %s", formatList(expected), formatList(parsed)), expected)

	if family == groundtruth.FamilyGlucoseAverage {
		if len(parsed) != 1 || len(expected) != 1 {
			return mismatch
		}
		got, err := strconv.ParseFloat(strings.TrimSpace(parsed[0]), 64)
		if err != nil {
			return mismatch
		}
		want, ok := toFloat(expected[0])
		if !ok || !(math.Abs(got-want) < Tolerance) {
			return mismatch
		}
		return pass(expected)
	}

	// Staleness answers are [value, timestamp] pairs; they only reach this
	// point when declared by the catalog and are compared element-wise.
	if slices.Equal(NormalizeAll(parsed), NormalizeAll(expected)) {
		return pass(expected)
	}
	return mismatch
}

func (p *Policy) scoreAction(ctx context.Context, in Input) Outcome {
	log := logging.FromContext(ctx).WithField("task_id", in.TaskID)
	expected := []any{ActionCompleted}

	d, err := p.calc.Decide(ctx, groundtruth.Input{TaskID: in.TaskID, Patient: in.Patient, Declared: in.Declared})
	if err != nil {
		log.WithError(err).Error("failed to compute ground truth")
		return fail(EvaluationError, fmt.Sprintf("Could not compute ground truth: %v", err), expected)
	}

	required := max(in.ExpectedWrites, 1)
	accepted := trace.AcceptedWrites(in.Trace)
	attempts := trace.Writes(in.Trace)
	log.WithField("order_required", d.OrderRequired).WithField("accepted_writes", accepted).WithField("write_attempts", attempts).Debug("checking action")

	var out Outcome
	switch {
	case d.OrderRequired && accepted < required:
		out = fail(MissingRequiredAction, fmt.Sprintf("%s, but %d accepted write(s) found, %d required", d.Reason, accepted, required), expected)
	case !d.OrderRequired && accepted > 0:
		out = fail(IncorrectAction, fmt.Sprintf("%s, but %d accepted write(s) found", d.Reason, accepted), expected)
	default:
		out = pass(expected)
	}
	out.Decision = &d
	return out
}

func scoreWrite(ctx context.Context, in Input) Outcome {
	expected := []any{ActionCompleted}

	found, accepted := false, false
	for _, s := range in.Trace {
		if !s.IsWrite() {
			continue
		}
		found = true
		if s.WriteAccepted() {
			accepted = true
			break
		}
	}

	if !found {
		return fail(NoPostOperation, "Agent did not perform any POST operation", expected)
	}
	if !accepted {
		return fail(PostRejected, "POST operation was not accepted by server", expected)
	}

	if !slices.ContainsFunc(in.Parsed, func(a string) bool {
		return slices.Contains(completionWords, strings.ToLower(a))
	}) {
		logging.FromContext(ctx).WithField("task_id", in.TaskID).WithField("answer", in.Parsed).Debug("write accepted but answer does not confirm completion")
	}
	return pass(expected)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func formatList[T any](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
