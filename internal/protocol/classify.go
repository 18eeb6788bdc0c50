package protocol

import "encoding/json"

// Kind tags the classification result of an inbound envelope, per SPEC_FULL.md §4.2.
type Kind string

const (
	KindText              Kind = "text"
	KindThought           Kind = "thought"
	KindToolCall          Kind = "tool_call"
	KindToolUpdate        Kind = "tool_update"
	KindPermissionRequest Kind = "permission_request"
	KindUnknown           Kind = "unknown"
)

// TextPayload carries the surfaced text for KindText/KindThought classifications.
type TextPayload struct {
	Text string
}

// ToolCallPayload carries the surfaced fields for a KindToolCall classification.
type ToolCallPayload struct {
	ID     string
	Title  string
	Status string
}

// ToolUpdatePayload carries the surfaced fields for a KindToolUpdate classification.
type ToolUpdatePayload struct {
	ID      string
	Status  string
	Content json.RawMessage
}

// PermissionRequestPayload carries the full permission request params, preserved
// verbatim for forwarding to observers and for re-emitting in the response envelope.
type PermissionRequestPayload struct {
	RequestID any
	Raw       json.RawMessage
}

// Classification is the tagged result of classifying one inbound envelope.
// The payload field matching Kind is populated; KindUnknown carries none.
type Classification struct {
	Kind              Kind
	Text              *TextPayload
	ToolCall          *ToolCallPayload
	ToolUpdate        *ToolUpdatePayload
	PermissionRequest *PermissionRequestPayload
}

// Classify is a pure function on an inbound envelope: it never mutates state
// and tolerates missing nested fields, returning empty strings for absent
// chunk text rather than an error.
func Classify(e *Envelope) Classification {
	if e.Method == MethodRequestPermission && e.ID != nil {
		return Classification{
			Kind: KindPermissionRequest,
			PermissionRequest: &PermissionRequestPayload{
				RequestID: e.ID,
				Raw:       e.Params,
			},
		}
	}

	if e.Method != MethodSessionUpdate {
		return Classification{Kind: KindUnknown}
	}

	var params sessionUpdateParams
	if len(e.Params) > 0 {
		// Tolerate malformed/partial params: an unmarshal error leaves params
		// zero-valued, which classifies as KindUnknown below.
		_ = json.Unmarshal(e.Params, &params)
	}

	switch params.Update.SessionUpdate {
	case UpdateAgentMessageChunk:
		return Classification{Kind: KindText, Text: &TextPayload{Text: params.Update.Content.Text}}
	case UpdateAgentThoughtChunk:
		return Classification{Kind: KindThought, Text: &TextPayload{Text: params.Update.Content.Text}}
	case UpdateToolCall:
		return Classification{Kind: KindToolCall, ToolCall: &ToolCallPayload{
			ID:     params.Update.ID,
			Title:  params.Update.Title,
			Status: params.Update.Status,
		}}
	case UpdateToolCallUpdate:
		return Classification{Kind: KindToolUpdate, ToolUpdate: &ToolUpdatePayload{
			ID:      params.Update.ID,
			Status:  params.Update.Fields.Status,
			Content: params.Update.Fields.Content,
		}}
	default:
		return Classification{Kind: KindUnknown}
	}
}
