package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tt := map[string]struct {
		in       any
		expected string
	}{
		"whole float string":      {in: "108.0", expected: "108"},
		"decimal string kept":     {in: "1.50", expected: "1.50"},
		"number inside text":      {in: "Age: 23 years", expected: "23"},
		"negative":                {in: "-1", expected: "-1"},
		"trailing dot":            {in: "7.", expected: "7"},
		"negative zero":           {in: "-0.0", expected: "0"},
		"text lowercased":         {in: "Metformin HCl", expected: "metforminhcl"},
		"punctuation stripped":    {in: "done!", expected: "done"},
		"underscore kept":         {in: "max_rounds_reached", expected: "max_rounds_reached"},
		"unicode letters kept":    {in: "Café  Noir", expected: "cafénoir"},
		"whole float":             {in: 100.0, expected: "100"},
		"fractional float":        {in: 123.33333333333333, expected: "123.33333333333333"},
		"int":                     {in: 42, expected: "42"},
		"bool":                    {in: true, expected: "1"},
		"nil":                     {in: nil, expected: "none"},
		"timestamp string":        {in: "2023-01-02T03:04:05Z", expected: "2023"},
		"empty string":            {in: "", expected: ""},
		"only punctuation":        {in: "?!", expected: ""},
		"scientific float":        {in: 1e-05, expected: "1e-05"},
		"large whole float":       {in: 1e20, expected: "100000000000000000000"},
		"python repr of nothing":  {in: "None", expected: "none"},
		"number in brackets text": {in: "['a', 1]", expected: "1"},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			assert.Equal(t, tc.expected, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []any{
		"108.0", "1.50", "Age: 23 years", "Metformin HCl", "-0.0", "  spaced  out ",
		"2023-01-02T03:04:05Z", "S6534835", 100.0, 2.5, -1, true, nil, "ÄÖÜ ß",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %v", in)
	}
}
