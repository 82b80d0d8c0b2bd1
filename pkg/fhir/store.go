// Package fhir queries the clinical record store the benchmark grades
// against. Only the two read paths needed for ground truth are covered:
// observation search by lab code and patient demographics.
package fhir

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnavailable marks transport failures and non-success responses.
	ErrUnavailable = errors.New("fhir server unavailable")
	// ErrMalformed marks responses that could not be decoded.
	ErrMalformed = errors.New("malformed fhir response")
	// ErrNotFound marks lookups that matched no resource.
	ErrNotFound = errors.New("fhir resource not found")
)

// Query selects observations for one patient and lab code.
type Query struct {
	// Patient is the patient identifier (MRN), without the "Patient/" prefix.
	Patient string
	Code    string
	// Date is an optional FHIR date search expression, e.g. "ge2023-11-12".
	Date string
}

// Observation is a single timestamped measurement.
type Observation struct {
	Effective    time.Time `json:"effective"`
	EffectiveRaw string    `json:"effectiveRaw"`
	// Value is a float64 for quantities and a string otherwise.
	Value any `json:"value"`
}

// Patient holds the demographics used by the benchmark.
type Patient struct {
	BirthDate string `json:"birthDate"`
}

// Store is the read interface over the clinical record store.
type Store interface {
	Observations(ctx context.Context, q Query) ([]Observation, error)
	Patient(ctx context.Context, id string) (*Patient, error)
}

// PatientID strips a leading "Patient/" from a reference.
func PatientID(ref string) string {
	return strings.TrimPrefix(ref, "Patient/")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 effective time. Values without a zone
// are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
