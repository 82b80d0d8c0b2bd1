package trace

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepMarkers(t *testing.T) {
	tt := map[string]struct {
		result         string
		expectWrite    bool
		expectAccepted bool
	}{
		"accepted compact": {
			result:         `{"accepted":true,"id":"123"}`,
			expectWrite:    true,
			expectAccepted: true,
		},
		"accepted spaced and upper case": {
			result:         `{"Accepted": True}`,
			expectWrite:    true,
			expectAccepted: true,
		},
		"post echo without acceptance": {
			result:      `{"action":"fhir_post","status_code":422}`,
			expectWrite: true,
		},
		"post echo with ok status": {
			result:         `{"action":"FHIR_POST","status_code": 200}`,
			expectWrite:    true,
			expectAccepted: true,
		},
		"read result": {
			result: `{"resourceType":"Bundle","total":3}`,
		},
		"rejected": {
			result:      `{"fhir_post":true,"accepted":false}`,
			expectWrite: true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			s := Step{Action: ActionToolCall, ToolResult: tc.result}
			assert.Equal(t, tc.expectWrite, s.IsWrite())
			assert.Equal(t, tc.expectAccepted, s.WriteAccepted())
		})
	}
}

func TestWrites(t *testing.T) {
	steps := []Step{
		{Round: 1, Action: ActionToolCall, ToolResult: `{"entry":[]}`},
		{Round: 2, Action: ActionToolCall, ToolResult: `{"accepted":true}`},
		{Round: 3, Action: ActionReasoning},
		{Round: 4, Action: ActionToolCall, ToolResult: `{"accepted": true}`},
	}
	assert.Equal(t, 2, Writes(steps))
	assert.Equal(t, 0, Writes(nil))
}

func TestAcceptedWrites(t *testing.T) {
	steps := []Step{
		{Round: 1, Action: ActionToolCall, ToolResult: `{"fhir_post":{"resourceType":"MedicationRequest"},"accepted":false,"status_code":422}`},
		{Round: 2, Action: ActionToolCall, ToolResult: `{"fhir_post":{"resourceType":"MedicationRequest"},"accepted":true}`},
		{Round: 3, Action: ActionToolCall, ToolResult: `{"accepted":false}`},
	}
	assert.Equal(t, 3, Writes(steps))
	assert.Equal(t, 1, AcceptedWrites(steps))
	assert.Equal(t, 0, AcceptedWrites(nil))
}

func TestTruncate(t *testing.T) {
	short := strings.Repeat("a", MaxToolResult)
	assert.Equal(t, short, Truncate(short))

	long := strings.Repeat("é", MaxToolResult+5)
	got := Truncate(long)
	assert.True(t, strings.HasSuffix(got, truncatedSuffix))
	assert.Equal(t, strings.Repeat("é", MaxToolResult), strings.TrimSuffix(got, truncatedSuffix))
}

func TestStepUnmarshal(t *testing.T) {
	tt := map[string]struct {
		in       string
		expected Step
	}{
		"plain tool call": {
			in: `{"round":2,"action":"TOOL_CALL","tool_name":"search_patients","tool_args":{"mrn":"S1"},"tool_result":"{\"total\":1}"}`,
			expected: Step{
				Round:      2,
				Action:     ActionToolCall,
				ToolName:   "search_patients",
				ToolArgs:   map[string]any{"mrn": "S1"},
				ToolResult: `{"total":1}`,
			},
		},
		"structured tool result kept as json text": {
			in: `{"round":1,"action":"TOOL_CALL","tool_result":{"accepted":true}}`,
			expected: Step{
				Round:      1,
				Action:     ActionToolCall,
				ToolResult: `{"accepted":true}`,
			},
		},
		"non object args": {
			in: `{"round":1,"action":"TOOL_CALL","tool_args":"mrn=S1"}`,
			expected: Step{
				Round:    1,
				Action:   ActionToolCall,
				ToolArgs: map[string]any{"raw": "mrn=S1"},
			},
		},
		"max rounds marker": {
			in:       `{"round":11,"action":"MAX_ROUNDS_REACHED"}`,
			expected: Step{Round: 11, Action: ActionMaxRounds},
		},
		"finish": {
			in:       `{"round":3,"action":"FINISH","result":"[118]"}`,
			expected: Step{Round: 3, Action: ActionFinish, Result: "[118]"},
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			var got Step
			require.NoError(t, json.Unmarshal([]byte(tc.in), &got))
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Record(Step{Round: i, Action: ActionToolCall, ToolName: "t"})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())

	r.Record(Step{Round: 21, Action: ActionToolCall, ToolName: "last"})
	ok := r.Update(func(s Step) bool { return s.ToolName == "last" }, func(s *Step) {
		s.ToolResult = "done"
	})
	require.True(t, ok)

	steps := r.Steps()
	assert.Equal(t, "done", steps[len(steps)-1].ToolResult)

	steps[0].ToolName = "mutated"
	assert.NotEqual(t, "mutated", r.Steps()[0].ToolName)

	assert.False(t, r.Update(func(Step) bool { return false }, func(*Step) {}))
}
