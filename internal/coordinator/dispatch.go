package coordinator

import (
	"time"

	"github.com/opslane/workstream-coordinator/internal/model"
	"github.com/opslane/workstream-coordinator/internal/protocol"
)

// handleProtocolEvent classifies one inbound envelope and applies the
// resulting state change, per SPEC_FULL.md §4.4's protocol-event table.
// request_permission is handled separately via the transport request handler;
// this path only ever sees notifications/unhandled messages.
func (c *Coordinator) handleProtocolEvent(workstreamID string, e *protocol.Envelope) {
	classification := protocol.Classify(e)
	now := time.Now().UTC()

	switch classification.Kind {
	case protocol.KindText:
		c.appendAgentText(workstreamID, classification.Text.Text, now)
	case protocol.KindThought:
		c.withEntry(workstreamID, func(e *entry) {
			e.ws.Activity = preview(classification.Text.Text)
			e.ws.LastActivity = now
		})
	case protocol.KindToolCall:
		c.handleToolCall(workstreamID, classification.ToolCall, now)
	case protocol.KindToolUpdate:
		c.handleToolUpdate(workstreamID, classification.ToolUpdate, now)
	case protocol.KindPermissionRequest:
		// Delivered via the transport's request path, not here.
	default:
		c.withEntry(workstreamID, func(e *entry) {
			e.ws.LastActivity = now
		})
	}
}

// appendAgentText implements invariant M1: consecutive agent_message_chunk
// events coalesce into a single trailing agent message rather than appending
// a new one each time.
func (c *Coordinator) appendAgentText(workstreamID, text string, now time.Time) {
	var appended model.ConversationMessage
	var isNewMessage bool
	c.withEntry(workstreamID, func(e *entry) {
		e.ws.Activity = preview(text)
		e.ws.LastActivity = now

		if n := len(e.ws.Messages); n > 0 && e.ws.Messages[n-1].Role == model.RoleAgent {
			e.ws.Messages[n-1].Content += text
			appended = e.ws.Messages[n-1]
			return
		}
		msg := model.ConversationMessage{Role: model.RoleAgent, Content: text, Timestamp: now}
		e.ws.Messages = append(e.ws.Messages, msg)
		appended = msg
		isNewMessage = true
	})
	if isNewMessage {
		c.emit(Event{WorkstreamID: workstreamID, Kind: EventMessage, Payload: appended})
	}
}

func (c *Coordinator) handleToolCall(workstreamID string, payload *protocol.ToolCallPayload, now time.Time) {
	tc := model.ToolCall{ID: payload.ID, Title: payload.Title, Status: model.ToolStatus(payload.Status)}
	if tc.Status == "" {
		tc.Status = model.ToolStatusPending
	}
	c.withEntry(workstreamID, func(e *entry) {
		e.activeTools[tc.ID] = &tc
		e.ws.Activity = tc.Title
		e.ws.LastActivity = now
	})
	c.emit(Event{WorkstreamID: workstreamID, Kind: EventToolCall, Payload: tc})
}

func (c *Coordinator) handleToolUpdate(workstreamID string, payload *protocol.ToolUpdatePayload, now time.Time) {
	status := model.ToolStatus(payload.Status)
	var updated model.ToolCall
	var found bool
	c.withEntry(workstreamID, func(e *entry) {
		tc, ok := e.activeTools[payload.ID]
		if !ok {
			return
		}
		found = true
		tc.Status = status
		updated = *tc
		e.ws.LastActivity = now
		if status.IsTerminal() {
			delete(e.activeTools, payload.ID)
		}
	})
	if !found {
		return
	}
	c.emit(Event{WorkstreamID: workstreamID, Kind: EventToolUpdate, Payload: updated})
}

// activityPreviewLen caps, in characters, the activity string derived from agent text.
const activityPreviewLen = 100

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= activityPreviewLen {
		return text
	}
	return string(runes[:activityPreviewLen])
}
