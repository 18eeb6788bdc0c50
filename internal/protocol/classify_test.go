package protocol

import "testing"

func envelope(method string, params string) *Envelope {
	return &Envelope{Method: method, Params: []byte(params)}
}

func TestClassifyTextChunk(t *testing.T) {
	e := envelope(MethodSessionUpdate, `{"update":{"sessionUpdate":"agent_message_chunk","content":{"text":"Hello"}}}`)
	got := Classify(e)
	if got.Kind != KindText {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindText)
	}
	if got.Text == nil || got.Text.Text != "Hello" {
		t.Fatalf("Text = %+v, want Hello", got.Text)
	}
}

func TestClassifyThoughtChunk(t *testing.T) {
	e := envelope(MethodSessionUpdate, `{"update":{"sessionUpdate":"agent_thought_chunk","content":{"text":"thinking"}}}`)
	got := Classify(e)
	if got.Kind != KindThought {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindThought)
	}
}

func TestClassifyMissingChunkText(t *testing.T) {
	e := envelope(MethodSessionUpdate, `{"update":{"sessionUpdate":"agent_message_chunk"}}`)
	got := Classify(e)
	if got.Kind != KindText || got.Text.Text != "" {
		t.Fatalf("expected empty text chunk, got %+v", got)
	}
}

func TestClassifyToolCall(t *testing.T) {
	e := envelope(MethodSessionUpdate, `{"update":{"sessionUpdate":"tool_call","id":"t1","title":"run","status":"pending"}}`)
	got := Classify(e)
	if got.Kind != KindToolCall {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindToolCall)
	}
	if got.ToolCall.ID != "t1" || got.ToolCall.Title != "run" || got.ToolCall.Status != "pending" {
		t.Fatalf("ToolCall = %+v", got.ToolCall)
	}
}

func TestClassifyToolCallUpdate(t *testing.T) {
	e := envelope(MethodSessionUpdate, `{"update":{"sessionUpdate":"tool_call_update","id":"t1","fields":{"status":"completed"}}}`)
	got := Classify(e)
	if got.Kind != KindToolUpdate {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindToolUpdate)
	}
	if got.ToolUpdate.ID != "t1" || got.ToolUpdate.Status != "completed" {
		t.Fatalf("ToolUpdate = %+v", got.ToolUpdate)
	}
}

func TestClassifyPermissionRequest(t *testing.T) {
	e := &Envelope{ID: float64(42), Method: MethodRequestPermission, Params: []byte(`{"options":[{"optionId":"a"}]}`)}
	got := Classify(e)
	if got.Kind != KindPermissionRequest {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindPermissionRequest)
	}
	if got.PermissionRequest.RequestID != float64(42) {
		t.Fatalf("RequestID = %v", got.PermissionRequest.RequestID)
	}
}

func TestClassifyUnknownMethod(t *testing.T) {
	e := envelope("some/other", `{}`)
	if got := Classify(e); got.Kind != KindUnknown {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindUnknown)
	}
}

func TestClassifyUnknownDiscriminator(t *testing.T) {
	e := envelope(MethodSessionUpdate, `{"update":{"sessionUpdate":"something_new"}}`)
	if got := Classify(e); got.Kind != KindUnknown {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindUnknown)
	}
}

func TestClassifyMalformedParamsNeverPanics(t *testing.T) {
	e := envelope(MethodSessionUpdate, `not json`)
	if got := Classify(e); got.Kind != KindUnknown {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindUnknown)
	}
}

func TestEnvelopeShapeDiscrimination(t *testing.T) {
	resp := &Envelope{ID: float64(1)}
	if !resp.IsResponse() || resp.IsRequest() || resp.IsNotification() {
		t.Fatalf("response shape misclassified: %+v", resp)
	}

	req := &Envelope{ID: float64(1), Method: "request_permission"}
	if !req.IsRequest() || req.IsResponse() || req.IsNotification() {
		t.Fatalf("request shape misclassified: %+v", req)
	}

	notif := &Envelope{Method: "session/update"}
	if !notif.IsNotification() || notif.IsRequest() || notif.IsResponse() {
		t.Fatalf("notification shape misclassified: %+v", notif)
	}
}
