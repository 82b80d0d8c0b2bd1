package groundtruth

import (
	"context"
	"fmt"
	"time"

	"github.com/pharmagent/medbench/pkg/fhir"
)

const (
	MagnesiumThreshold = 1.9
	PotassiumThreshold = 3.5

	NDCMagnesiumSulfate  = "0338-1715-40"
	NDCPotassiumChloride = "40032-917-01"

	LOINCSerumPotassium = "2823-3"
	LOINCHemoglobinA1C  = "4548-4"
)

// Dose is a medication order derived from a measurement.
type Dose struct {
	Medication string  `json:"medication"`
	NDC        string  `json:"ndc"`
	Route      string  `json:"route"`
	Amount     float64 `json:"amount"`
	Unit       string  `json:"unit"`
	// Hours is the infusion duration, zero for oral doses.
	Hours float64 `json:"hours,omitempty"`
}

// MagnesiumDose maps a serum magnesium level to an IV replacement dose.
func MagnesiumDose(value float64) Dose {
	d := Dose{
		Medication: "magnesium sulfate",
		NDC:        NDCMagnesiumSulfate,
		Route:      "IV",
		Unit:       "g",
	}
	switch {
	case value < 1.0:
		d.Amount, d.Hours = 4, 4
	case value < 1.5:
		d.Amount, d.Hours = 2, 2
	default:
		d.Amount, d.Hours = 1, 1
	}
	return d
}

// PotassiumDose gives 10 mEq of oral potassium chloride per 0.1 below 3.5.
func PotassiumDose(value float64) Dose {
	return Dose{
		Medication: "potassium chloride",
		NDC:        NDCPotassiumChloride,
		Route:      "oral",
		Amount:     (PotassiumThreshold - value) / 0.1 * 10,
		Unit:       "mEq",
	}
}

// Decision is the action a check-and-act task calls for.
type Decision struct {
	// Measurement is the family's ground truth the decision was based on.
	Measurement   []any  `json:"measurement"`
	OrderRequired bool   `json:"orderRequired"`
	Medication    *Dose  `json:"medication,omitempty"`
	LabOrder      string `json:"labOrder,omitempty"`
	Reason        string `json:"reason"`
}

// IsHybrid reports whether the family is graded on the action taken rather
// than on the declared answer.
func IsHybrid(family string) bool {
	switch family {
	case FamilyMagnesiumReplacement, FamilyPotassiumReplacement, FamilyA1CReorder:
		return true
	}
	return false
}

// IsWriteOnly reports whether the family is graded purely on a write being
// accepted, with no scalar answer to compare.
func IsWriteOnly(family string) bool {
	return family == FamilyRecordVitals || family == FamilyReferral
}

// ExpectsWrites reports whether tasks of the family are expected to mutate
// the record.
func ExpectsWrites(family string) bool {
	return IsHybrid(family) || IsWriteOnly(family)
}

// StalenessCutoff is the instant before which an A1C result is too old.
func (c *Calculator) StalenessCutoff() time.Time {
	return c.reference.AddDate(-1, 0, 0)
}

// Decide computes the action required by a check-and-act task.
func (c *Calculator) Decide(ctx context.Context, in Input) (Decision, error) {
	family := Family(in.TaskID)
	if !IsHybrid(family) {
		return Decision{}, fmt.Errorf("%w: %q is not a check-and-act family", ErrNoRule, family)
	}

	m, err := c.Compute(ctx, in)
	if err != nil {
		return Decision{}, err
	}
	if len(m) == 0 {
		return Decision{}, fmt.Errorf("empty measurement for %s", in.TaskID)
	}

	d := Decision{Measurement: m}
	switch family {
	case FamilyMagnesiumReplacement:
		if isMissing(m[0]) {
			d.Reason = "no magnesium measurement in the last 24 hours; nothing should be ordered"
			return d, nil
		}
		v, err := numeric(m[0])
		if err != nil {
			return Decision{}, err
		}
		if v < MagnesiumThreshold {
			dose := MagnesiumDose(v)
			d.OrderRequired = true
			d.Medication = &dose
			d.Reason = fmt.Sprintf("magnesium %v below %v; IV replacement required", v, MagnesiumThreshold)
		} else {
			d.Reason = fmt.Sprintf("magnesium %v not below %v; no replacement", v, MagnesiumThreshold)
		}

	case FamilyPotassiumReplacement:
		if isMissing(m[0]) {
			d.Reason = "no potassium measurement; nothing should be ordered"
			return d, nil
		}
		v, err := numeric(m[0])
		if err != nil {
			return Decision{}, err
		}
		if v < PotassiumThreshold {
			dose := PotassiumDose(v)
			d.OrderRequired = true
			d.Medication = &dose
			d.LabOrder = LOINCSerumPotassium
			d.Reason = fmt.Sprintf("potassium %v below %v; replacement and follow-up serum level required", v, PotassiumThreshold)
		} else {
			d.Reason = fmt.Sprintf("potassium %v not below %v; no replacement", v, PotassiumThreshold)
		}

	case FamilyA1CReorder:
		d.LabOrder = LOINCHemoglobinA1C
		if isMissing(m[0]) {
			d.OrderRequired = true
			d.Reason = "no A1C on record; a new test should be ordered"
			return d, nil
		}
		if len(m) < 2 {
			return Decision{}, fmt.Errorf("A1C measurement for %s has no timestamp", in.TaskID)
		}
		raw, _ := m[1].(string)
		taken, err := fhir.ParseTimestamp(raw)
		if err != nil {
			return Decision{}, fmt.Errorf("A1C timestamp %q: %w", raw, err)
		}
		cutoff := c.StalenessCutoff()
		if taken.Before(cutoff) {
			d.OrderRequired = true
			d.Reason = fmt.Sprintf("latest A1C from %s is older than %s; a new test should be ordered", raw, cutoff.Format(time.RFC3339))
		} else {
			d.LabOrder = ""
			d.Reason = fmt.Sprintf("latest A1C from %s is recent; no new test", raw)
		}
	}

	return d, nil
}

func isMissing(v any) bool {
	switch t := v.(type) {
	case int:
		return t == Missing
	case float64:
		return t == Missing
	}
	return false
}

func numeric(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	}
	return 0, fmt.Errorf("measurement %v (%T) is not numeric", v, v)
}
