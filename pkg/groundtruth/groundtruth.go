// Package groundtruth computes the expected answer for a benchmark task by
// replaying the task family's clinical rule against the record store.
package groundtruth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pharmagent/medbench/pkg/fhir"
	"github.com/pharmagent/medbench/pkg/logging"
)

// Task families, named by the id prefix used in the task catalog.
const (
	FamilyRecordLookup         = "task1"
	FamilyAge                  = "task2"
	FamilyRecordVitals         = "task3"
	FamilyMagnesiumLatest      = "task4"
	FamilyMagnesiumReplacement = "task5"
	FamilyGlucoseAverage       = "task6"
	FamilyGlucoseLatest        = "task7"
	FamilyReferral             = "task8"
	FamilyPotassiumReplacement = "task9"
	FamilyA1CReorder           = "task10"
)

// Lab codes understood by the record store.
const (
	CodeGlucose   = "GLU"
	CodeMagnesium = "MG"
	CodePotassium = "K"
	CodeA1C       = "A1C"
)

// Missing is the sentinel returned when no qualifying measurement exists.
const Missing = -1

// DefaultReference is the fixed "now" the benchmark data set was built around.
var DefaultReference = time.Date(2023, 11, 13, 10, 15, 0, 0, time.UTC)

// Window is the trailing period used by the windowed families.
const Window = 24 * time.Hour

// ErrNoRule is returned for families without a ground-truth rule.
var ErrNoRule = errors.New("no ground truth rule for task family")

// Family returns the family prefix of a task id ("task5_12" -> "task5").
func Family(taskID string) string {
	family, _, _ := strings.Cut(taskID, "_")
	return family
}

// Input identifies the task being graded.
type Input struct {
	TaskID string
	// Patient is a patient identifier or "Patient/<id>" reference.
	Patient string
	// Declared is the expected answer shipped with the task, if any.
	Declared []any
}

// Rule computes the ground truth for one family.
type Rule func(ctx context.Context, c *Calculator, in Input) ([]any, error)

// Registry maps task families to rules.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

func (r *Registry) Register(family string, rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[family]; exists {
		return fmt.Errorf("a rule already exists for family '%s'", family)
	}
	r.rules[family] = rule
	return nil
}

func (r *Registry) Lookup(family string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[family]
	return rule, ok
}

// DefaultRegistry holds the rules for every benchmark family.
var DefaultRegistry = NewRegistry()

func init() {
	_ = DefaultRegistry.Register(FamilyRecordLookup, declaredRule)
	_ = DefaultRegistry.Register(FamilyAge, ageRule)
	_ = DefaultRegistry.Register(FamilyRecordVitals, writeOnlyRule)
	_ = DefaultRegistry.Register(FamilyMagnesiumLatest, windowedLatestRule(CodeMagnesium))
	_ = DefaultRegistry.Register(FamilyMagnesiumReplacement, windowedLatestRule(CodeMagnesium))
	_ = DefaultRegistry.Register(FamilyGlucoseAverage, windowedAverageRule(CodeGlucose))
	_ = DefaultRegistry.Register(FamilyGlucoseLatest, latestRule(CodeGlucose))
	_ = DefaultRegistry.Register(FamilyReferral, writeOnlyRule)
	_ = DefaultRegistry.Register(FamilyPotassiumReplacement, latestRule(CodePotassium))
	_ = DefaultRegistry.Register(FamilyA1CReorder, latestWithTimestampRule(CodeA1C))
}

// Calculator evaluates ground-truth rules against a record store at a fixed
// reference instant.
type Calculator struct {
	store     fhir.Store
	reference time.Time
	registry  *Registry
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithReference sets the evaluation "now".
func WithReference(t time.Time) Option {
	return func(c *Calculator) {
		c.reference = t
	}
}

// WithRegistry replaces the rule set.
func WithRegistry(r *Registry) Option {
	return func(c *Calculator) {
		c.registry = r
	}
}

// NewCalculator returns a calculator reading from store.
func NewCalculator(store fhir.Store, opts ...Option) *Calculator {
	c := &Calculator{
		store:     store,
		reference: DefaultReference,
		registry:  DefaultRegistry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reference returns the evaluation "now".
func (c *Calculator) Reference() time.Time {
	return c.reference
}

// Compute returns the expected answer for the task. Families without a rule
// yield ErrNoRule; store failures are returned wrapped.
func (c *Calculator) Compute(ctx context.Context, in Input) ([]any, error) {
	family := Family(in.TaskID)
	rule, ok := c.registry.Lookup(family)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoRule, family)
	}

	gt, err := rule(ctx, c, in)
	if err != nil {
		return nil, fmt.Errorf("computing ground truth for %s: %w", in.TaskID, err)
	}

	logging.FromContext(ctx).WithField("task_id", in.TaskID).WithField("ground_truth", gt).Debug("computed ground truth")
	return gt, nil
}

// observations fetches a lab series, dropping entries whose timestamp could
// not be read.
func (c *Calculator) observations(ctx context.Context, patient, code string) ([]fhir.Observation, error) {
	all, err := c.store.Observations(ctx, fhir.Query{Patient: fhir.PatientID(patient), Code: code})
	if err != nil {
		return nil, err
	}

	out := all[:0:0]
	for _, o := range all {
		if o.Effective.IsZero() {
			logging.FromContext(ctx).WithField("code", code).WithField("effective", o.EffectiveRaw).Warn("skipping observation with unreadable timestamp")
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func declaredRule(_ context.Context, _ *Calculator, in Input) ([]any, error) {
	if in.Declared == nil {
		return []any{}, nil
	}
	return in.Declared, nil
}

func writeOnlyRule(context.Context, *Calculator, Input) ([]any, error) {
	return []any{}, nil
}

func ageRule(ctx context.Context, c *Calculator, in Input) ([]any, error) {
	p, err := c.store.Patient(ctx, fhir.PatientID(in.Patient))
	if err != nil {
		return nil, err
	}

	birth, err := time.Parse(time.DateOnly, p.BirthDate)
	if err != nil {
		return nil, fmt.Errorf("%w: birthDate %q: %v", fhir.ErrMalformed, p.BirthDate, err)
	}

	return []any{Age(birth, c.reference)}, nil
}

func latestRule(code string) Rule {
	return func(ctx context.Context, c *Calculator, in Input) ([]any, error) {
		obs, err := c.observations(ctx, in.Patient, code)
		if err != nil {
			return nil, err
		}
		if latest, ok := Latest(obs, time.Time{}); ok {
			return []any{latest.Value}, nil
		}
		return []any{Missing}, nil
	}
}

func windowedLatestRule(code string) Rule {
	return func(ctx context.Context, c *Calculator, in Input) ([]any, error) {
		obs, err := c.observations(ctx, in.Patient, code)
		if err != nil {
			return nil, err
		}
		if latest, ok := Latest(obs, c.reference.Add(-Window)); ok {
			return []any{latest.Value}, nil
		}
		return []any{Missing}, nil
	}
}

func windowedAverageRule(code string) Rule {
	return func(ctx context.Context, c *Calculator, in Input) ([]any, error) {
		obs, err := c.observations(ctx, in.Patient, code)
		if err != nil {
			return nil, err
		}
		if avg, ok := WindowAverage(obs, c.reference.Add(-Window)); ok {
			return []any{avg}, nil
		}
		return []any{Missing}, nil
	}
}

// latestWithTimestampRule returns [value, effective time] rather than a
// single value. The staleness families need the timestamp to decide whether
// a re-order is due; scoring treats this pair specially.
func latestWithTimestampRule(code string) Rule {
	return func(ctx context.Context, c *Calculator, in Input) ([]any, error) {
		obs, err := c.observations(ctx, in.Patient, code)
		if err != nil {
			return nil, err
		}
		if latest, ok := Latest(obs, time.Time{}); ok {
			return []any{latest.Value, latest.EffectiveRaw}, nil
		}
		return []any{Missing}, nil
	}
}
