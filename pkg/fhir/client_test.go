package fhir

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const observationBundle = `{
  "resourceType": "Bundle",
  "entry": [
    {"resource": {"resourceType": "Observation", "effectiveDateTime": "2023-11-13T00:15:00+00:00", "valueQuantity": {"value": 1.8, "unit": "mg/dL"}}},
    {"resource": {"resourceType": "Observation", "effectiveDateTime": "2023-11-12T10:15:00+00:00", "valueQuantity": {"value": 2}}},
    {"resource": {"resourceType": "Observation", "effectiveDateTime": "2023-11-11T08:00:00+00:00", "valueString": "positive"}},
    {"resource": {"resourceType": "Observation", "valueQuantity": {"value": 9}}},
    {"resource": {"resourceType": "Observation", "effectiveDateTime": "yesterday", "valueQuantity": {"value": 3}}}
  ]
}`

func newFHIRServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientObservations(t *testing.T) {
	var gotQuery string
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fhir/Observation", r.URL.Path)
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(observationBundle))
	})

	c := NewClient(srv.URL + "/fhir")
	obs, err := c.Observations(context.Background(), Query{Patient: "S123", Code: "MG"})
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "patient=S123")
	assert.Contains(t, gotQuery, "code=MG")
	assert.Contains(t, gotQuery, "_count=5000")
	assert.Contains(t, gotQuery, "_format=json")

	require.Len(t, obs, 4)
	assert.Equal(t, 1.8, obs[0].Value)
	assert.Equal(t, time.Date(2023, 11, 13, 0, 15, 0, 0, time.UTC), obs[0].Effective.UTC())
	assert.Equal(t, 2.0, obs[1].Value)
	assert.Equal(t, "positive", obs[2].Value)
	assert.True(t, obs[3].Effective.IsZero())
	assert.Equal(t, "yesterday", obs[3].EffectiveRaw)
}

func TestClientPatient(t *testing.T) {
	tt := map[string]struct {
		status    int
		body      string
		expected  *Patient
		expectErr error
	}{
		"found": {
			status:   http.StatusOK,
			body:     `{"entry": [{"resource": {"resourceType": "Patient", "birthDate": "2000-03-01"}}]}`,
			expected: &Patient{BirthDate: "2000-03-01"},
		},
		"no entries": {
			status:    http.StatusOK,
			body:      `{"resourceType": "Bundle", "total": 0}`,
			expectErr: ErrNotFound,
		},
		"missing birth date": {
			status:    http.StatusOK,
			body:      `{"entry": [{"resource": {"resourceType": "Patient"}}]}`,
			expectErr: ErrMalformed,
		},
		"server error": {
			status:    http.StatusInternalServerError,
			body:      `oops`,
			expectErr: ErrUnavailable,
		},
		"invalid json": {
			status:    http.StatusOK,
			body:      `{not json`,
			expectErr: ErrMalformed,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "S123", r.URL.Query().Get("identifier"))
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			p, err := NewClient(srv.URL).Patient(context.Background(), "S123")
			if tc.expectErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.expectErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p)
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Observations(context.Background(), Query{Patient: "S1", Code: "K"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestParseTimestamp(t *testing.T) {
	tt := map[string]struct {
		in        string
		expected  time.Time
		expectErr bool
	}{
		"offset": {
			in:       "2023-11-13T10:15:00+00:00",
			expected: time.Date(2023, 11, 13, 10, 15, 0, 0, time.UTC),
		},
		"zulu with fraction": {
			in:       "2023-11-13T10:15:00.5Z",
			expected: time.Date(2023, 11, 13, 10, 15, 0, 500000000, time.UTC),
		},
		"no zone is utc": {
			in:       "2023-11-13T10:15:00",
			expected: time.Date(2023, 11, 13, 10, 15, 0, 0, time.UTC),
		},
		"date only": {
			in:       "2023-11-13",
			expected: time.Date(2023, 11, 13, 0, 0, 0, 0, time.UTC),
		},
		"garbage": {
			in:        "last tuesday",
			expectErr: true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			got, err := ParseTimestamp(tc.in)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(got), "expected %s, got %s", tc.expected, got)
		})
	}
}

func TestPatientID(t *testing.T) {
	assert.Equal(t, "S2874099", PatientID("Patient/S2874099"))
	assert.Equal(t, "S2874099", PatientID("S2874099"))
}
