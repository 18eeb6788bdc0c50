// Package coordinator implements the Workstream Coordinator (C4): the
// central orchestrator owning the workstream table, the lifecycle state
// machine, the permission protocol, and the fan-out of observer events.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opslane/workstream-coordinator/internal/common/logger"
	"github.com/opslane/workstream-coordinator/internal/model"
	"github.com/opslane/workstream-coordinator/internal/protocol"
	"github.com/opslane/workstream-coordinator/internal/transport"
	"github.com/opslane/workstream-coordinator/internal/worktree"
	"go.uber.org/zap"
)

// WorktreeProvider is the subset of C3's contract the coordinator depends on.
type WorktreeProvider interface {
	IsAvailable(ctx context.Context) bool
	Ensure(ctx context.Context) error
	Create(ctx context.Context, name, baseBranch string) (*worktree.WorkingCopy, error)
	Remove(ctx context.Context, name string) error
	Diff(ctx context.Context, name string) (string, error)
	Status(ctx context.Context, name string) (string, error)
	Commit(ctx context.Context, name, message string) (bool, error)
}

// Config holds the coordinator's core inputs (spec.md's configuration shape).
type Config struct {
	ServerBaseURL string
	RepoPath      string
	UseWorktrees  bool
}

// entry is the coordinator's private per-workstream bookkeeping: the public
// model.Workstream plus everything needed to drive its transport and
// permission protocol. All mutation happens under mu.
type entry struct {
	mu sync.Mutex

	ws          *model.Workstream
	client      *transport.Client
	activeTools map[string]*model.ToolCall

	pending          *pendingPermission
	queuedPermission *pendingPermission
}

// Coordinator is the Workstream Coordinator (C4).
type Coordinator struct {
	cfg      Config
	log      *logger.Logger
	provider WorktreeProvider

	mu          sync.RWMutex
	workstreams map[string]*entry

	obsMu             sync.RWMutex
	observers         map[int]ObserverFunc
	nextObserverToken int

	audit AuditSink
	bus   ExternalBus
}

// New builds a Coordinator. provider, audit, and bus may all be nil: a nil
// provider means every workstream runs in the shared checkout (no worktree
// isolation); a nil audit/bus simply skips that fan-out leg.
func New(cfg Config, provider WorktreeProvider, audit AuditSink, bus ExternalBus, log *logger.Logger) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		log:         log.WithFields(zap.String("component", "coordinator")),
		provider:    provider,
		workstreams: make(map[string]*entry),
		observers:   make(map[int]ObserverFunc),
		audit:       audit,
		bus:         bus,
	}
}

// CreateWorkstream mints a new workstream, optionally provisions an isolated
// working copy for it, and opens its transport session.
func (c *Coordinator) CreateWorkstream(ctx context.Context, name, task string) (*model.Workstream, error) {
	id := generateID()
	now := time.Now().UTC()
	sanitizedName := model.SanitizeName(name)

	ws := &model.Workstream{
		ID:           id,
		Name:         sanitizedName,
		Task:         task,
		State:        model.StateStarting,
		CreatedAt:    now,
		LastActivity: now,
		Activity:     "Starting...",
	}

	e := &entry{ws: ws, activeTools: make(map[string]*model.ToolCall)}

	c.mu.Lock()
	c.workstreams[id] = e
	c.mu.Unlock()

	c.emit(Event{WorkstreamID: id, Kind: EventWorkstreamCreated, Payload: *ws})

	if c.cfg.UseWorktrees && c.provider != nil && c.provider.IsAvailable(ctx) {
		wc, err := c.provider.Create(ctx, sanitizedName, "")
		if err != nil {
			c.withEntry(id, func(e *entry) {
				e.ws.Notifications = append(e.ws.Notifications, newNotification(
					model.NotificationError, id, "Worktree creation failed", err.Error(), time.Now().UTC()))
			})
			c.log.Warn("worktree creation failed, continuing without isolation",
				zap.String("workstream_id", id), zap.Error(err))
		} else {
			c.withEntry(id, func(e *entry) {
				e.ws.WorktreePath = wc.Path
				e.ws.BranchName = wc.BranchName
			})
		}
	}

	if err := c.connectWorkstream(ctx, id); err != nil {
		c.setState(id, model.StateError, fmt.Sprintf("connect failed: %v", err))
		return nil, fmt.Errorf("connect workstream: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workstreams[id].ws, nil
}

// connectWorkstream opens the transport session and drives the ACP handshake.
func (c *Coordinator) connectWorkstream(ctx context.Context, id string) error {
	client := transport.NewClient(c.cfg.ServerBaseURL, c.log)

	client.OnMessage(func(e *protocol.Envelope) {
		c.handleProtocolEvent(id, e)
	})
	client.OnError(func(err error) {
		c.setState(id, model.StateError, fmt.Sprintf("transport error: %v", err))
	})
	client.RegisterRequestHandler(protocol.MethodRequestPermission, func(ctx context.Context, reqID any, method string, params json.RawMessage) (any, error) {
		return c.handlePermissionRequest(ctx, id, reqID, params)
	})

	if _, err := client.Connect(ctx); err != nil {
		return err
	}

	if _, err := client.SendRequest(ctx, protocol.MethodInitialize, map[string]any{
		"protocolVersion": "2025-01-01",
		"clientInfo":      map[string]string{"name": "workstream-coordinator", "version": "1.0.0"},
	}); err != nil {
		client.Disconnect()
		return fmt.Errorf("initialize: %w", err)
	}

	cwd := c.cfg.RepoPath
	c.withEntry(id, func(e *entry) {
		if e.ws.WorktreePath != "" {
			cwd = e.ws.WorktreePath
		}
	})

	result, err := client.SendRequest(ctx, protocol.MethodSessionNew, map[string]any{
		"cwd":        cwd,
		"mcpServers": []any{},
	})
	if err != nil {
		client.Disconnect()
		return fmt.Errorf("session/new: %w", err)
	}

	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := unmarshalResult(result, &body); err != nil {
		client.Disconnect()
		return fmt.Errorf("decode session/new result: %w", err)
	}

	c.withEntry(id, func(e *entry) {
		e.client = client
		e.ws.SessionID = body.SessionID
		e.ws.State = model.StateRunning
		e.ws.Activity = "Idle - awaiting next instruction"
	})

	c.emit(Event{WorkstreamID: id, Kind: EventStateChanged, Payload: model.StateRunning})
	return nil
}

// withEntry runs fn with the named workstream's lock held, if it exists.
func (c *Coordinator) withEntry(id string, fn func(e *entry)) {
	c.mu.RLock()
	e, ok := c.workstreams[id]
	c.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

// withEntryErr is withEntry with an error return, for call sites that need
// to surface "not found" distinctly.
func (c *Coordinator) withEntryErr(id string, fn func(e *entry) error) error {
	c.mu.RLock()
	e, ok := c.workstreams[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workstream %q not found", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e)
}

func (c *Coordinator) setState(id string, state model.State, activity string) {
	c.withEntry(id, func(e *entry) {
		e.ws.State = state
		e.ws.Activity = activity
		e.ws.LastActivity = time.Now().UTC()
	})
	c.emit(Event{WorkstreamID: id, Kind: EventStateChanged, Payload: state})
}

// unmarshalResult decodes a json.RawMessage result into out, treating an
// empty/nil result as a no-op rather than an error.
func unmarshalResult(result json.RawMessage, out any) error {
	if len(result) == 0 {
		return nil
	}
	return json.Unmarshal(result, out)
}
