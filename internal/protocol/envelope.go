// Package protocol defines the wire envelope exchanged with the remote agent
// and the pure classifier that tags each inbound envelope.
package protocol

import "encoding/json"

// Envelope is the bidirectional JSON-RPC-like message shape carried over the
// HTTP+SSE transport. Exactly one of the request/notification/response shapes
// applies to any given instance, distinguished by which of ID/Method/Result/Error
// are present.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *EnvelopeError  `json:"error,omitempty"`
}

// EnvelopeError is the JSON-RPC error object.
type EnvelopeError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC / ACP error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeHandlerError   = -32000
)

// IsRequest reports whether e is a peer-initiated request (has both id and method).
func (e *Envelope) IsRequest() bool {
	return e.ID != nil && e.Method != ""
}

// IsNotification reports whether e is a notification (has method, no id).
func (e *Envelope) IsNotification() bool {
	return e.ID == nil && e.Method != ""
}

// IsResponse reports whether e is a response to a prior client-initiated call
// (has id, no method).
func (e *Envelope) IsResponse() bool {
	return e.ID != nil && e.Method == ""
}

// ACP method and discriminator constants, per the agent handshake in SPEC_FULL.md §6.
const (
	MethodInitialize        = "initialize"
	MethodSessionNew        = "session/new"
	MethodSessionPrompt     = "session/prompt"
	MethodSessionUpdate     = "session/update"
	MethodRequestPermission = "request_permission"

	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
)

// sessionUpdateParams mirrors the nested shape of a session/update notification's
// params, used only to pull out the discriminator and payload fields during classification.
type sessionUpdateParams struct {
	Update struct {
		SessionUpdate string `json:"sessionUpdate"`
		Content       struct {
			Text string `json:"text"`
		} `json:"content"`
		ID     string `json:"id"`
		Title  string `json:"title"`
		Status string `json:"status"`
		Fields struct {
			Status  string          `json:"status"`
			Content json.RawMessage `json:"content"`
		} `json:"fields"`
	} `json:"update"`
}
