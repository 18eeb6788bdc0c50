package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opslane/workstream-coordinator/internal/common/logger"
	"github.com/opslane/workstream-coordinator/internal/protocol"
)

// fakeRemote is a minimal httptest-backed stand-in for the remote ACP endpoint:
// it accepts POST /acp/session, holds GET /acp/session/{id}/stream open
// without sending any events, and records POSTed messages for assertions.
type fakeRemote struct {
	mu       sync.Mutex
	received []protocol.Envelope
	flush    chan struct{}
	server   *httptest.Server
}

func newFakeRemote() *fakeRemote {
	f := &fakeRemote{flush: make(chan struct{}, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/acp/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"session_id":"sess-1"}`)
	})
	mux.HandleFunc("/acp/session/sess-1/message", func(w http.ResponseWriter, r *http.Request) {
		var e protocol.Envelope
		_ = json.NewDecoder(r.Body).Decode(&e)
		f.mu.Lock()
		f.received = append(f.received, e)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/acp/session/sess-1/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if flusher != nil {
			flusher.Flush()
		}
		<-r.Context().Done()
	})
	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeRemote) receivedMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	for i, e := range f.received {
		out[i] = e.Method
	}
	return out
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func TestConnectReturnsSessionID(t *testing.T) {
	remote := newFakeRemote()
	defer remote.server.Close()

	c := NewClient(remote.server.URL, testLogger(t))
	sessionID, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sessionID != "sess-1" {
		t.Fatalf("sessionID = %q, want sess-1", sessionID)
	}
	c.Disconnect()
}

func TestSendRequestBeforeConnectFails(t *testing.T) {
	c := NewClient("http://example.invalid", testLogger(t))
	_, err := c.SendRequest(context.Background(), "initialize", nil)
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("err = %v, want 'not connected'", err)
	}
}

func TestSendNotificationPostsEnvelope(t *testing.T) {
	remote := newFakeRemote()
	defer remote.server.Close()

	c := NewClient(remote.server.URL, testLogger(t))
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.SendNotification(context.Background(), "session/prompt", map[string]string{"sessionId": "sess-1"}); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		methods := remote.receivedMethods()
		if len(methods) == 1 && methods[0] == "session/prompt" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for notification, got %v", methods)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
