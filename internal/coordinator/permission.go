package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opslane/workstream-coordinator/internal/model"
)

// pendingPermission is the active, awaiting-resolution permission request for
// one workstream. resolved is a buffered-size-1 channel the coordinator sends
// the operator's choice on; the transport-level request handler blocks on it.
type pendingPermission struct {
	record   model.PendingPermission
	resolved chan string
}

// requestPermissionParams mirrors the fields of a request_permission call's
// params needed to build the options list and tool title surfaced to observers.
type requestPermissionParams struct {
	ToolCall struct {
		Title string `json:"title"`
	} `json:"toolCall"`
	Options []struct {
		OptionID string `json:"optionId"`
		Name     string `json:"name"`
		Kind     string `json:"kind"`
	} `json:"options"`
}

// handlePermissionRequest is invoked by the transport layer when the remote
// issues a request_permission call. It blocks (via the deferred resolved
// channel) until RespondToPermission fires, StopWorkstream closes the
// channel, or ctx is cancelled; the last two return an error.
func (c *Coordinator) handlePermissionRequest(ctx context.Context, workstreamID string, reqID any, params json.RawMessage) (any, error) {
	var parsed requestPermissionParams
	if len(params) > 0 {
		_ = json.Unmarshal(params, &parsed)
	}

	options := make([]model.PermissionOption, 0, len(parsed.Options))
	for _, o := range parsed.Options {
		options = append(options, model.PermissionOption{OptionID: o.OptionID, Name: o.Name, Kind: o.Kind})
	}

	record := model.PendingPermission{
		WorkstreamID: workstreamID,
		RequestID:    reqID,
		ToolTitle:    parsed.ToolCall.Title,
		RawInput:     params,
		Options:      options,
	}

	pp := &pendingPermission{record: record, resolved: make(chan string, 1)}

	queued, rejected := c.registerPendingPermission(workstreamID, pp)
	if rejected {
		return nil, fmt.Errorf("permission request rejected: a request is already pending and queued for this workstream")
	}

	if !queued {
		c.emit(Event{WorkstreamID: workstreamID, Kind: EventPermissionRequested, Payload: record})
	}

	select {
	case optionID, ok := <-pp.resolved:
		if !ok {
			return nil, fmt.Errorf("workstream stopped before the permission request was resolved")
		}
		return model.NewPermissionOutcome(optionID), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// registerPendingPermission implements invariant P1 with a one-deep FIFO
// queue: if no permission is pending, it becomes the active one; if one is
// already pending and none is queued, this one is queued; if both slots are
// full, the request is rejected outright.
func (c *Coordinator) registerPendingPermission(workstreamID string, pp *pendingPermission) (queued bool, rejected bool) {
	c.withEntry(workstreamID, func(e *entry) {
		now := time.Now().UTC()
		if e.pending == nil {
			e.pending = pp
			e.ws.State = model.StateWaiting
			e.ws.Activity = "Permission needed: " + pp.record.ToolTitle
			e.ws.LastActivity = now
			e.ws.Notifications = append(e.ws.Notifications, newNotification(
				model.NotificationActionRequired, workstreamID, "Permission needed", pp.record.ToolTitle, now))
			return
		}
		if e.queuedPermission == nil {
			e.queuedPermission = pp
			queued = true
			return
		}
		rejected = true
	})
	return queued, rejected
}

// RespondToPermission resolves the active pending permission for a
// workstream with the operator's chosen option id. If a second request was
// queued behind it (invariant P1's one-deep FIFO), it is promoted to active
// and a fresh permission_requested event is emitted for it.
func (c *Coordinator) RespondToPermission(id, optionID string) error {
	var record model.PendingPermission
	var promoted *model.PendingPermission
	now := time.Now().UTC()

	err := c.withEntryErr(id, func(e *entry) error {
		if e.pending == nil {
			return fmt.Errorf("no pending permission request for workstream %q", id)
		}
		record = e.pending.record
		e.pending.resolved <- optionID
		e.pending = nil

		if e.queuedPermission != nil {
			e.pending = e.queuedPermission
			e.queuedPermission = nil
			e.ws.State = model.StateWaiting
			e.ws.Activity = "Permission needed: " + e.pending.record.ToolTitle
			e.ws.Notifications = append(e.ws.Notifications, newNotification(
				model.NotificationActionRequired, id, "Permission needed", e.pending.record.ToolTitle, now))
			promotedCopy := e.pending.record
			promoted = &promotedCopy
		} else {
			e.ws.State = model.StateRunning
			e.ws.Activity = "Idle - awaiting next instruction"
		}
		e.ws.LastActivity = now
		return nil
	})
	if err != nil {
		return err
	}

	c.emit(Event{WorkstreamID: id, Kind: EventPermissionResolved, Payload: map[string]string{
		"requestId": fmt.Sprintf("%v", record.RequestID),
		"optionId":  optionID,
	}})
	if promoted != nil {
		c.emit(Event{WorkstreamID: id, Kind: EventPermissionRequested, Payload: *promoted})
	}

	return nil
}

// GetPendingPermission returns the active pending permission for a
// workstream, if any.
func (c *Coordinator) GetPendingPermission(id string) (*model.PendingPermission, bool) {
	var record model.PendingPermission
	var ok bool
	c.withEntry(id, func(e *entry) {
		if e.pending != nil {
			record = e.pending.record
			ok = true
		}
	})
	if !ok {
		return nil, false
	}
	return &record, true
}
