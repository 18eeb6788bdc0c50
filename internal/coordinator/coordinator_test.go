package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/opslane/workstream-coordinator/internal/common/logger"
	"github.com/opslane/workstream-coordinator/internal/model"
)

// fakeAgent is a minimal scripted stand-in for a remote ACP agent: it accepts
// the transport's POST/GET endpoints, auto-responds to initialize/session/new,
// and lets a test push arbitrary session/update notifications or respond to
// session/prompt on its own schedule.
type fakeAgent struct {
	mu       sync.Mutex
	sessions map[string]chan []byte
	server   *httptest.Server
}

func newFakeAgent() *fakeAgent {
	f := &fakeAgent{sessions: make(map[string]chan []byte)}
	mux := http.NewServeMux()

	mux.HandleFunc("/acp/session", func(w http.ResponseWriter, r *http.Request) {
		sessionID := fmt.Sprintf("sess-%d", len(f.sessions)+1)
		f.mu.Lock()
		f.sessions[sessionID] = make(chan []byte, 64)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"session_id":%q}`, sessionID)
	})

	mux.HandleFunc("/acp/session/", func(w http.ResponseWriter, r *http.Request) {
		// Path is either /acp/session/{id}/message or /acp/session/{id}/stream.
		sessionID, kind := splitSessionPath(r.URL.Path)
		f.mu.Lock()
		ch := f.sessions[sessionID]
		f.mu.Unlock()
		if ch == nil {
			http.NotFound(w, r)
			return
		}

		switch kind {
		case "stream":
			f.serveStream(w, r, ch)
		case "message":
			f.handleMessage(w, r, sessionID, ch)
		default:
			http.NotFound(w, r)
		}
	})

	f.server = httptest.NewServer(mux)
	return f
}

func splitSessionPath(path string) (sessionID, kind string) {
	const prefix = "/acp/session/"
	rest := path[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}

func (f *fakeAgent) serveStream(w http.ResponseWriter, r *http.Request, ch chan []byte) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (f *fakeAgent) handleMessage(w http.ResponseWriter, r *http.Request, sessionID string, ch chan []byte) {
	var env struct {
		ID     any             `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	_ = json.NewDecoder(r.Body).Decode(&env)
	w.WriteHeader(http.StatusOK)

	if env.ID == nil || env.Method == "" {
		return // response or notification from the coordinator; nothing to do
	}

	switch env.Method {
	case "initialize":
		f.respond(ch, env.ID, `{"protocolVersion":"2025-01-01"}`)
	case "session/new":
		f.respond(ch, env.ID, fmt.Sprintf(`{"sessionId":%q}`, sessionID))
	case "session/prompt":
		f.respond(ch, env.ID, `{}`)
	}
}

func (f *fakeAgent) respond(ch chan []byte, id any, resultJSON string) {
	idJSON, _ := json.Marshal(id)
	data := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s}`, idJSON, resultJSON)
	ch <- []byte(data)
}

// push sends a raw envelope (a notification or peer-initiated request) down
// the single active session's SSE stream. Tests using this harness only ever
// open one workstream at a time against a given fakeAgent.
func (f *fakeAgent) push(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.sessions {
		ch <- []byte(data)
	}
}

func (f *fakeAgent) close() { f.server.Close() }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func newTestCoordinator(t *testing.T, baseURL string) *Coordinator {
	t.Helper()
	cfg := Config{ServerBaseURL: baseURL, RepoPath: "/tmp/repo", UseWorktrees: false}
	return New(cfg, nil, nil, nil, testLogger(t))
}

func TestCreateWorkstreamReachesRunning(t *testing.T) {
	agent := newFakeAgent()
	defer agent.close()

	c := newTestCoordinator(t, agent.server.URL)
	ws, err := c.CreateWorkstream(context.Background(), "demo", "do the thing")
	if err != nil {
		t.Fatalf("CreateWorkstream: %v", err)
	}
	if ws.State != model.StateRunning {
		t.Fatalf("state = %q, want running", ws.State)
	}
	if ws.SessionID == "" {
		t.Fatalf("expected a session id after connect")
	}
}

func TestAgentMessageChunksCoalesce(t *testing.T) {
	agent := newFakeAgent()
	defer agent.close()

	c := newTestCoordinator(t, agent.server.URL)
	ws, err := c.CreateWorkstream(context.Background(), "demo", "task")
	if err != nil {
		t.Fatalf("CreateWorkstream: %v", err)
	}

	var events []Event
	var mu sync.Mutex
	c.Subscribe(func(_ string, e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	agent.push(chunkEnvelope("Hel"))
	agent.push(chunkEnvelope("lo "))
	agent.push(chunkEnvelope("world"))

	waitFor(t, func() bool {
		got, err := c.GetWorkstream(ws.ID)
		if err != nil {
			return false
		}
		return len(got.Messages) == 1 && got.Messages[0].Content == "Hello world"
	})

	messageEvents := 0
	mu.Lock()
	for _, e := range events {
		if e.Kind == EventMessage {
			messageEvents++
		}
	}
	mu.Unlock()
	if messageEvents != 1 {
		t.Fatalf("got %d message events across 3 chunks, want 1 (emitted only on creation)", messageEvents)
	}
}

func TestCreateWorkstreamSanitizesName(t *testing.T) {
	agent := newFakeAgent()
	defer agent.close()

	c := newTestCoordinator(t, agent.server.URL)
	ws, err := c.CreateWorkstream(context.Background(), "Hello, World! 123", "task")
	if err != nil {
		t.Fatalf("CreateWorkstream: %v", err)
	}
	if ws.Name != "hello--world--123" {
		t.Fatalf("Name = %q, want %q", ws.Name, "hello--world--123")
	}
}

func TestToolCallLifecycleRemovesOnTerminal(t *testing.T) {
	agent := newFakeAgent()
	defer agent.close()

	c := newTestCoordinator(t, agent.server.URL)
	ws, err := c.CreateWorkstream(context.Background(), "demo", "task")
	if err != nil {
		t.Fatalf("CreateWorkstream: %v", err)
	}

	agent.push(toolCallEnvelope("t1", "Reading file", "pending"))
	waitFor(t, func() bool {
		tools, _ := c.GetActiveTools(ws.ID)
		return len(tools) == 1
	})

	agent.push(toolUpdateEnvelope("t1", "completed"))
	waitFor(t, func() bool {
		tools, _ := c.GetActiveTools(ws.ID)
		return len(tools) == 0
	})
}

func TestPermissionRequestQueueingAndRejection(t *testing.T) {
	agent := newFakeAgent()
	defer agent.close()

	c := newTestCoordinator(t, agent.server.URL)
	ws, err := c.CreateWorkstream(context.Background(), "demo", "task")
	if err != nil {
		t.Fatalf("CreateWorkstream: %v", err)
	}

	agent.push(permissionRequestEnvelope(1))
	waitFor(t, func() bool {
		got, err := c.GetWorkstream(ws.ID)
		return err == nil && got.State == model.StateWaiting
	})

	agent.push(permissionRequestEnvelope(2))
	time.Sleep(20 * time.Millisecond) // let it queue

	agent.push(permissionRequestEnvelope(3))
	time.Sleep(20 * time.Millisecond) // the third should be rejected, not queued

	if err := c.RespondToPermission(ws.ID, "allow_once"); err != nil {
		t.Fatalf("RespondToPermission (first): %v", err)
	}

	waitFor(t, func() bool {
		_, ok := c.GetPendingPermission(ws.ID)
		return ok
	})

	if err := c.RespondToPermission(ws.ID, "allow_once"); err != nil {
		t.Fatalf("RespondToPermission (second/promoted): %v", err)
	}

	waitFor(t, func() bool {
		_, ok := c.GetPendingPermission(ws.ID)
		return !ok
	})
}

func TestStopWorkstreamIsIdempotent(t *testing.T) {
	agent := newFakeAgent()
	defer agent.close()

	c := newTestCoordinator(t, agent.server.URL)
	ws, err := c.CreateWorkstream(context.Background(), "demo", "task")
	if err != nil {
		t.Fatalf("CreateWorkstream: %v", err)
	}

	if err := c.StopWorkstream(context.Background(), ws.ID, false); err != nil {
		t.Fatalf("first StopWorkstream: %v", err)
	}
	if err := c.StopWorkstream(context.Background(), ws.ID, false); err != nil {
		t.Fatalf("second StopWorkstream: %v", err)
	}
	if _, err := c.GetWorkstream(ws.ID); err == nil {
		t.Fatalf("expected GetWorkstream to fail after stop")
	}
}

func chunkEnvelope(text string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","method":"session/update","params":{"update":{"sessionUpdate":"agent_message_chunk","content":{"text":%q}}}}`, text)
}

func toolCallEnvelope(id, title, status string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","method":"session/update","params":{"update":{"sessionUpdate":"tool_call","id":%q,"title":%q,"status":%q}}}`, id, title, status)
}

func toolUpdateEnvelope(id, status string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","method":"session/update","params":{"update":{"sessionUpdate":"tool_call_update","id":%q,"fields":{"status":%q}}}}`, id, status)
}

func permissionRequestEnvelope(id int) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"request_permission","params":{"toolCall":{"title":"Write file"},"options":[{"optionId":"allow_once","name":"Allow","kind":"allow"}]}}`, id)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("condition not met before timeout")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
