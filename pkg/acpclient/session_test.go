package acpclient

import (
	"testing"

	"github.com/coder/acp-go-sdk"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
)

func TestSession_IsAllowedToolCall(t *testing.T) {
	tt := map[string]struct {
		allowedTools []*mcp.Tool
		call         acp.RequestPermissionToolCall
		expected     bool
	}{
		"allowed when tool title matches": {
			allowedTools: []*mcp.Tool{{Name: "get_latest_lab_value", Title: "Latest Lab Value"}},
			call: acp.RequestPermissionToolCall{
				ToolCallId: "call-1",
				Title:      ptr("Latest Lab Value"),
			},
			expected: true,
		},
		"not allowed when tool title does not match": {
			allowedTools: []*mcp.Tool{{Name: "get_latest_lab_value", Title: "Latest Lab Value"}},
			call: acp.RequestPermissionToolCall{
				ToolCallId: "call-1",
				Title:      ptr("Delete Patient"),
			},
			expected: false,
		},
		"not allowed when no tools configured": {
			allowedTools: []*mcp.Tool{},
			call: acp.RequestPermissionToolCall{
				ToolCallId: "call-1",
				Title:      ptr("Latest Lab Value"),
			},
			expected: false,
		},
		"allowed when title embeds the tool name": {
			allowedTools: []*mcp.Tool{{Name: "get_latest_lab_value"}},
			call: acp.RequestPermissionToolCall{
				ToolCallId: "call-1",
				Title:      ptr("mcp__fhir__get_latest_lab_value"),
			},
			expected: true,
		},
		"not allowed when title is nil and no prior update": {
			allowedTools: []*mcp.Tool{{Name: "get_latest_lab_value", Title: "Latest Lab Value"}},
			call: acp.RequestPermissionToolCall{
				ToolCallId: "call-1",
				Title:      nil,
			},
			expected: false,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			s := newTestSession(tc.allowedTools)

			result := s.isAllowedToolCall(tc.call)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestSession_IsAllowedToolCall_WithPriorUpdate(t *testing.T) {
	// isAllowedToolCall uses title from prior update when call.Title is nil
	s := newTestSession([]*mcp.Tool{{Name: "get_latest_lab_value", Title: "Latest Lab Value"}})

	// First, store a tool call with a title
	s.toolCallStatuses["call-1"] = &acp.SessionToolCallUpdate{
		ToolCallId: "call-1",
		Title:      ptr("Latest Lab Value"),
	}

	// Now check with a call that has no title - should use stored title
	call := acp.RequestPermissionToolCall{
		ToolCallId: "call-1",
		Title:      nil,
	}

	result := s.isAllowedToolCall(call)
	assert.True(t, result)
}

func TestSession_ToolCallStatusUpdateLocked(t *testing.T) {
	tt := map[string]struct {
		initial  *acp.SessionToolCallUpdate
		update   *acp.SessionToolCallUpdate
		validate func(t *testing.T, result *acp.SessionToolCallUpdate)
	}{
		"new tool call is stored": {
			initial: nil,
			update: &acp.SessionToolCallUpdate{
				ToolCallId: "call-1",
				Title:      ptr("Latest Lab Value"),
			},
			validate: func(t *testing.T, result *acp.SessionToolCallUpdate) {
				assert.Equal(t, acp.ToolCallId("call-1"), result.ToolCallId)
				assert.Equal(t, "Latest Lab Value", *result.Title)
			},
		},
		"update merges with existing": {
			initial: &acp.SessionToolCallUpdate{
				ToolCallId: "call-1",
				Title:      ptr("Latest Lab Value"),
				RawInput:   "input data",
			},
			update: &acp.SessionToolCallUpdate{
				ToolCallId: "call-1",
				RawOutput:  "output data",
			},
			validate: func(t *testing.T, result *acp.SessionToolCallUpdate) {
				assert.Equal(t, "Latest Lab Value", *result.Title)
				assert.Equal(t, "input data", result.RawInput)
				assert.Equal(t, "output data", result.RawOutput)
			},
		},
		"update overwrites existing fields": {
			initial: &acp.SessionToolCallUpdate{
				ToolCallId: "call-1",
				Title:      ptr("Latest Lab Value"),
			},
			update: &acp.SessionToolCallUpdate{
				ToolCallId: "call-1",
				Title:      ptr("Create Order"),
			},
			validate: func(t *testing.T, result *acp.SessionToolCallUpdate) {
				assert.Equal(t, "Create Order", *result.Title)
			},
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			s := newSession(nil)

			if tc.initial != nil {
				s.toolCallStatuses[tc.initial.ToolCallId] = tc.initial
			}

			s.toolCallStatusUpdateLocked(tc.update)

			result := s.toolCallStatuses[tc.update.ToolCallId]
			tc.validate(t, result)
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestSession_ResultJoinsMessageChunks(t *testing.T) {
	s := newSession(nil)
	s.update(acp.UpdateAgentMessageText("The latest value is 1.7. "))
	s.update(acp.SessionUpdate{})
	s.update(acp.UpdateAgentMessageText(`FINISH([1.7])`))

	res := s.result()
	assert.Equal(t, "The latest value is 1.7. FINISH([1.7])", res.Text)
	assert.Len(t, res.Updates, 3)
}
