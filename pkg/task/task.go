// Package task loads benchmark task definitions from the static catalog and
// fills in the fields older catalogs leave out.
package task

import (
	"fmt"
	"strings"

	"github.com/pharmagent/medbench/pkg/groundtruth"
	"k8s.io/utils/ptr"
)

const (
	// DefaultMRN is used for catalog entries without a patient.
	DefaultMRN = "S2874099"
	// Variants is the number of numbered tasks in each family.
	Variants = 30

	patientPrefix = "Patient/"
)

// Definition is a normalized, immutable task.
type Definition struct {
	ID                  string `json:"id"`
	Family              string `json:"family"`
	PatientReference    string `json:"patient_reference"`
	Description         string `json:"description"`
	Instructions        string `json:"instructions"`
	Context             string `json:"context,omitempty"`
	DeclaredGroundTruth []any  `json:"declared_ground_truth,omitempty"`
	Readonly            bool   `json:"readonly"`
	ExpectedWriteCount  int    `json:"expected_write_count"`
}

// Normalize converts a catalog entry into a Definition, inferring readonly
// and the expected write count from the family when the entry omits them.
func Normalize(e Entry) *Definition {
	family := groundtruth.Family(e.ID)

	mrn := e.MRN
	if mrn == "" {
		mrn = DefaultMRN
	}
	if !strings.HasPrefix(mrn, patientPrefix) {
		mrn = patientPrefix + mrn
	}

	description := firstNonEmpty(e.Question, e.Description, e.Instruction)
	instructions := firstNonEmpty(e.Instructions, e.Instruction)
	if instructions == "" {
		instructions = fmt.Sprintf("Use the FHIR tools to %s", strings.ToLower(description))
	}

	if e.Readonly == nil {
		e.Readonly = ptr.To(!groundtruth.ExpectsWrites(family))
	}
	if e.PostCount == nil {
		e.PostCount = ptr.To(defaultWriteCount(family))
	}

	return &Definition{
		ID:                  e.ID,
		Family:              family,
		PatientReference:    mrn,
		Description:         description,
		Instructions:        instructions,
		Context:             e.Context,
		DeclaredGroundTruth: declared(e.Sol),
		Readonly:            ptr.Deref(e.Readonly, true),
		ExpectedWriteCount:  ptr.Deref(e.PostCount, 0),
	}
}

func defaultWriteCount(family string) int {
	switch {
	case family == groundtruth.FamilyPotassiumReplacement:
		return 2
	case groundtruth.ExpectsWrites(family):
		return 1
	}
	return 0
}

func declared(sol any) []any {
	switch v := sol.(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Expand turns bare family names ("task5") into the family's numbered
// variants; full ids and legacy aliases pass through unchanged. Duplicates
// are dropped, keeping first occurrence.
func Expand(ids []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(ids))
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, alias := legacyAliases[id]; alias || strings.Contains(id, "_") {
			add(id)
			continue
		}
		for i := 1; i <= Variants; i++ {
			add(fmt.Sprintf("%s_%d", id, i))
		}
	}
	return out
}
