package coordinator

import (
	"context"
	"fmt"

	"github.com/opslane/workstream-coordinator/internal/model"
)

// GetWorkstream returns a snapshot copy of a workstream record.
func (c *Coordinator) GetWorkstream(id string) (*model.Workstream, error) {
	var snapshot model.Workstream
	err := c.withEntryErr(id, func(e *entry) error {
		snapshot = *e.ws
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// GetAllWorkstreams returns a snapshot copy of every tracked workstream.
func (c *Coordinator) GetAllWorkstreams() []*model.Workstream {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.workstreams))
	for _, e := range c.workstreams {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]*model.Workstream, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		snapshot := *e.ws
		e.mu.Unlock()
		out = append(out, &snapshot)
	}
	return out
}

// GetActiveTools returns the pending tool calls for a workstream.
func (c *Coordinator) GetActiveTools(id string) ([]model.ToolCall, error) {
	var tools []model.ToolCall
	err := c.withEntryErr(id, func(e *entry) error {
		tools = make([]model.ToolCall, 0, len(e.activeTools))
		for _, tc := range e.activeTools {
			tools = append(tools, *tc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// GetUnreadNotifications returns every unread notification across all
// tracked workstreams.
func (c *Coordinator) GetUnreadNotifications() []model.Notification {
	var out []model.Notification
	for _, ws := range c.GetAllWorkstreams() {
		for _, n := range ws.Notifications {
			if !n.Read {
				out = append(out, n)
			}
		}
	}
	return out
}

// GetWorkstreamDiff returns the unified diff of the workstream's working
// copy, or an error if it has none.
func (c *Coordinator) GetWorkstreamDiff(ctx context.Context, id string) (string, error) {
	ws, err := c.GetWorkstream(id)
	if err != nil {
		return "", err
	}
	if !ws.HasWorktree() || c.provider == nil {
		return "", fmt.Errorf("workstream %q has no working copy", id)
	}
	return c.provider.Diff(ctx, ws.Name)
}

// GetWorkstreamStatus returns the `git status --short` output of the
// workstream's working copy, or an error if it has none.
func (c *Coordinator) GetWorkstreamStatus(ctx context.Context, id string) (string, error) {
	ws, err := c.GetWorkstream(id)
	if err != nil {
		return "", err
	}
	if !ws.HasWorktree() || c.provider == nil {
		return "", fmt.Errorf("workstream %q has no working copy", id)
	}
	return c.provider.Status(ctx, ws.Name)
}

// CommitWorkstreamChanges commits the working copy's staged changes.
func (c *Coordinator) CommitWorkstreamChanges(ctx context.Context, id, message string) (bool, error) {
	ws, err := c.GetWorkstream(id)
	if err != nil {
		return false, err
	}
	if !ws.HasWorktree() || c.provider == nil {
		return false, fmt.Errorf("workstream %q has no working copy", id)
	}
	return c.provider.Commit(ctx, ws.Name, message)
}
