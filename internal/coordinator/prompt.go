package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opslane/workstream-coordinator/internal/model"
	"github.com/opslane/workstream-coordinator/internal/protocol"
	"github.com/opslane/workstream-coordinator/internal/transport"
	"go.uber.org/zap"
)

// SendPrompt sends an operator-authored prompt to the workstream's session.
func (c *Coordinator) SendPrompt(ctx context.Context, id, text string) error {
	now := time.Now().UTC()

	var sessionID string
	var client *transport.Client
	err := c.withEntryErr(id, func(e *entry) error {
		if e.client == nil {
			return fmt.Errorf("workstream %q is not connected", id)
		}
		if e.ws.State == model.StatePaused {
			return fmt.Errorf("workstream %q is paused", id)
		}
		e.ws.Messages = append(e.ws.Messages, model.ConversationMessage{
			Role: model.RoleOperator, Content: text, Timestamp: now,
		})
		e.ws.State = model.StateRunning
		e.ws.Activity = "Processing..."
		e.ws.LastActivity = now
		sessionID = e.ws.SessionID
		client = e.client
		return nil
	})
	if err != nil {
		return err
	}

	c.emit(Event{WorkstreamID: id, Kind: EventMessage, Payload: model.ConversationMessage{
		Role: model.RoleOperator, Content: text, Timestamp: now,
	}})
	c.emit(Event{WorkstreamID: id, Kind: EventStateChanged, Payload: model.StateRunning})

	_, err = client.SendRequest(ctx, protocol.MethodSessionPrompt, map[string]any{
		"sessionId": sessionID,
		"prompt":    []map[string]string{{"type": "text", "text": text}},
	})
	if err != nil {
		c.setState(id, model.StateError, fmt.Sprintf("prompt failed: %v", err))
		return fmt.Errorf("session/prompt: %w", err)
	}

	c.finishPrompt(id)
	return nil
}

// finishPrompt implements the completion-detection heuristic: if the
// workstream is still running with no active tools and the trailing agent
// message reads like a terminal summary, transition to reviewing instead of
// leaving it at plain running/idle.
func (c *Coordinator) finishPrompt(id string) {
	var stillRunning bool
	var reviewReady bool
	c.withEntry(id, func(e *entry) {
		if e.ws.State != model.StateRunning {
			return
		}
		stillRunning = true
		if len(e.activeTools) > 0 {
			e.ws.Activity = "Idle - awaiting next instruction"
			return
		}
		if looksLikeTerminalSummary(e.ws.Messages) {
			e.ws.State = model.StateReviewing
			e.ws.Activity = "Ready for review"
			reviewReady = true
			return
		}
		e.ws.Activity = "Idle - awaiting next instruction"
	})
	if !stillRunning {
		return
	}
	if reviewReady {
		c.emit(Event{WorkstreamID: id, Kind: EventStateChanged, Payload: model.StateReviewing})
		c.withEntry(id, func(e *entry) {
			e.ws.Notifications = append(e.ws.Notifications, newNotification(
				model.NotificationReviewReady, id, "Ready for review", "", time.Now().UTC()))
		})
	}
}

func looksLikeTerminalSummary(messages []model.ConversationMessage) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	if last.Role != model.RoleAgent {
		return false
	}
	text := strings.TrimSpace(last.Content)
	if text == "" {
		return false
	}
	return !strings.HasSuffix(text, ":") && !strings.Contains(text, "tool_call")
}

// StartTask announces the task to a fresh workstream, framing it with the
// worktree path/branch when isolation is in effect, then delegates to SendPrompt.
func (c *Coordinator) StartTask(ctx context.Context, id string) error {
	var task, framed string
	c.withEntry(id, func(e *entry) {
		task = e.ws.Task
		if e.ws.HasWorktree() {
			framed = fmt.Sprintf(
				"You are working in a git worktree at: %s on branch %s. Changes here do not affect the main checkout until merged.\n\n%s",
				e.ws.WorktreePath, e.ws.BranchName, task)
		}
	})
	if framed != "" {
		return c.SendPrompt(ctx, id, framed)
	}
	return c.SendPrompt(ctx, id, task)
}

// PauseWorkstream transitions a running workstream to paused. While paused
// the transport stays open but new operator prompts are refused.
func (c *Coordinator) PauseWorkstream(id string) error {
	err := c.withEntryErr(id, func(e *entry) error {
		e.ws.State = model.StatePaused
		e.ws.Activity = "Paused"
		e.ws.LastActivity = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}
	c.emit(Event{WorkstreamID: id, Kind: EventStateChanged, Payload: model.StatePaused})
	return nil
}

// ResumeWorkstream transitions a paused workstream back to running.
func (c *Coordinator) ResumeWorkstream(id string) error {
	err := c.withEntryErr(id, func(e *entry) error {
		e.ws.State = model.StateRunning
		e.ws.Activity = "Idle - awaiting next instruction"
		e.ws.LastActivity = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}
	c.emit(Event{WorkstreamID: id, Kind: EventStateChanged, Payload: model.StateRunning})
	return nil
}

// StopWorkstream disconnects the transport and removes the workstream
// record. It is idempotent: stopping an already-removed id is a no-op.
func (c *Coordinator) StopWorkstream(ctx context.Context, id string, cleanup bool) error {
	c.mu.Lock()
	e, ok := c.workstreams[id]
	if ok {
		delete(c.workstreams, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	client := e.client
	hasWorktree := e.ws.HasWorktree()
	worktreeName := e.ws.Name
	if e.pending != nil {
		close(e.pending.resolved)
		e.pending = nil
	}
	if e.queuedPermission != nil {
		close(e.queuedPermission.resolved)
		e.queuedPermission = nil
	}
	e.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}

	if cleanup && hasWorktree && c.provider != nil {
		if err := c.provider.Remove(ctx, worktreeName); err != nil {
			c.log.Warn("failed to remove worktree on stop", zap.Error(err))
		}
	}

	c.emit(Event{WorkstreamID: id, Kind: EventWorkstreamRemoved})
	return nil
}
