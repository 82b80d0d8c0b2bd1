package acpclient

import (
	"slices"
	"strings"
	"sync"

	"github.com/coder/acp-go-sdk"
)

type session struct {
	mu               sync.Mutex
	updates          []acp.SessionUpdate
	toolCallStatuses map[acp.ToolCallId]*acp.SessionToolCallUpdate
	servers          []Server
	text             strings.Builder
}

func newSession(servers []Server) *session {
	return &session{
		updates:          make([]acp.SessionUpdate, 0),
		toolCallStatuses: make(map[acp.ToolCallId]*acp.SessionToolCallUpdate),
		servers:          servers,
	}
}

// isAllowedToolCall records the call and reports whether it targets a tool
// of one of the offered servers. Agents title MCP calls either with the tool
// title or with a name that embeds the tool name.
func (s *session) isAllowedToolCall(call acp.RequestPermissionToolCall) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.toolCallStatusUpdateLocked(&acp.SessionToolCallUpdate{
		Meta:       call.Meta,
		Content:    call.Content,
		Kind:       call.Kind,
		Locations:  call.Locations,
		RawInput:   call.RawInput,
		RawOutput:  call.RawOutput,
		Status:     call.Status,
		Title:      call.Title,
		ToolCallId: call.ToolCallId,
	})

	curr := s.toolCallStatuses[call.ToolCallId]
	if curr.Title == nil || *curr.Title == "" {
		return false
	}
	title := *curr.Title

	for _, srv := range s.servers {
		for _, t := range srv.Tools {
			if t == nil {
				continue
			}
			if (t.Title != "" && t.Title == title) || title == t.Name || strings.Contains(title, t.Name) {
				return true
			}
		}
	}

	return false
}

func (s *session) update(update acp.SessionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)

	if chunk := update.AgentMessageChunk; chunk != nil && chunk.Content.Text != nil {
		s.text.WriteString(chunk.Content.Text.Text)
	}

	if update.ToolCall != nil {
		s.toolCallStatusUpdateLocked(&acp.SessionToolCallUpdate{
			Content:       update.ToolCall.Content,
			Kind:          &update.ToolCall.Kind,
			Locations:     update.ToolCall.Locations,
			RawInput:      update.ToolCall.RawInput,
			RawOutput:     update.ToolCall.RawOutput,
			SessionUpdate: update.ToolCall.SessionUpdate,
			Status:        &update.ToolCall.Status,
			Title:         &update.ToolCall.Title,
			ToolCallId:    update.ToolCall.ToolCallId,
		})
	}
	if update.ToolCallUpdate != nil {
		s.toolCallStatusUpdateLocked(update.ToolCallUpdate)
	}
}

func (s *session) result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Result{
		Text:    s.text.String(),
		Updates: slices.Clone(s.updates),
	}
}

// toolCallStatusUpdateLocked merges update into the tracked call. Caller must hold s.mu.
func (s *session) toolCallStatusUpdateLocked(update *acp.SessionToolCallUpdate) {
	call, ok := s.toolCallStatuses[update.ToolCallId]
	if !ok {
		s.toolCallStatuses[update.ToolCallId] = update
		return
	}

	if update.Content != nil {
		call.Content = update.Content
	}
	if update.Kind != nil {
		call.Kind = update.Kind
	}
	if update.Locations != nil {
		call.Locations = update.Locations
	}
	if update.RawInput != nil {
		call.RawInput = update.RawInput
	}
	if update.RawOutput != nil {
		call.RawOutput = update.RawOutput
	}
	if update.Status != nil {
		call.Status = update.Status
	}
	if update.Title != nil {
		call.Title = update.Title
	}
}
