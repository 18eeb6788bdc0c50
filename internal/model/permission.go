package model

import "encoding/json"

// PermissionOption is one option the operator may choose when resolving a
// PendingPermission (e.g. allow_once, reject_once).
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// PendingPermission is the inbound-request id assigned by the remote, the
// full permission payload, and the workstream it belongs to. At most one
// (plus one queued) exists per workstream at a time (invariant P1).
type PendingPermission struct {
	WorkstreamID string             `json:"workstream_id"`
	RequestID    any                `json:"request_id"`
	ToolTitle    string             `json:"tool_title"`
	RawInput     json.RawMessage    `json:"raw_input,omitempty"`
	Options      []PermissionOption `json:"options"`
}

// PermissionOutcome is the payload returned as the `result` field of the
// response envelope replying to the remote's original request_permission call.
type PermissionOutcome struct {
	Outcome PermissionSelection `json:"outcome"`
}

// PermissionSelection wraps the chosen option id.
type PermissionSelection struct {
	Selected PermissionSelected `json:"selected"`
}

// PermissionSelected carries the chosen option id.
type PermissionSelected struct {
	OptionID string `json:"optionId"`
}

// NewPermissionOutcome builds the response payload for a resolved permission.
func NewPermissionOutcome(optionID string) PermissionOutcome {
	return PermissionOutcome{
		Outcome: PermissionSelection{
			Selected: PermissionSelected{OptionID: optionID},
		},
	}
}
