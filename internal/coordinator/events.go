package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opslane/workstream-coordinator/internal/model"
	"go.uber.org/zap"
)

// EventKind classifies an observer event emitted by the coordinator.
type EventKind string

const (
	EventWorkstreamCreated   EventKind = "workstream_created"
	EventStateChanged        EventKind = "state_changed"
	EventMessage             EventKind = "message"
	EventToolCall            EventKind = "tool_call"
	EventToolUpdate          EventKind = "tool_update"
	EventPermissionRequested EventKind = "permission_requested"
	EventPermissionResolved  EventKind = "permission_resolved"
	EventNotification        EventKind = "notification"
	EventWorkstreamRemoved   EventKind = "workstream_removed"
)

// Event is the payload delivered to observers and, optionally, the audit
// sink and external event bus. Payload's concrete type depends on Kind.
type Event struct {
	WorkstreamID string    `json:"workstream_id"`
	Kind         EventKind `json:"kind"`
	Timestamp    time.Time `json:"timestamp"`
	Payload      any       `json:"payload,omitempty"`
}

// ObserverFunc receives events synchronously, in the order their triggering
// inbound messages were processed, for the workstream named by the first argument.
type ObserverFunc func(workstreamID string, event Event)

// Unsubscribe removes a previously registered observer.
type Unsubscribe func()

// AuditSink is the optional durable audit-log sink (domain-stack addition).
// Implementations must not block the caller; slow sinks should buffer or
// drop internally rather than stall event delivery to in-process observers.
type AuditSink interface {
	Record(ctx context.Context, event Event)
}

// ExternalBus is the optional external event-bus forwarder (domain-stack
// addition). Implementations must not block the caller.
type ExternalBus interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subscribe registers an observer and returns a handle to deregister it.
func (c *Coordinator) Subscribe(fn ObserverFunc) Unsubscribe {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	token := c.nextObserverToken
	c.nextObserverToken++
	c.observers[token] = fn
	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, token)
	}
}

// emit fans an event out to every registered observer, then fire-and-forgets
// it to the audit sink and external bus if configured. Callers invoke it after
// releasing the workstream's lock; per-workstream ordering holds because each
// transport client hands inbound notifications over one at a time from its
// single stream goroutine.
func (c *Coordinator) emit(event Event) {
	event.Timestamp = time.Now().UTC()

	c.obsMu.RLock()
	observers := make([]ObserverFunc, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.RUnlock()

	for _, fn := range observers {
		fn(event.WorkstreamID, event)
	}

	if c.audit != nil {
		go c.audit.Record(context.Background(), event)
	}
	if c.bus != nil {
		go func() {
			data, err := json.Marshal(event)
			if err != nil {
				c.log.Warn("failed to marshal event for external bus", zap.Error(err))
				return
			}
			if err := c.bus.Publish(context.Background(), "workstream.events", data); err != nil {
				c.log.Warn("failed to publish event to external bus", zap.Error(err))
			}
		}()
	}
}

func newNotification(kind model.NotificationKind, workstreamID, title, body string, at time.Time) model.Notification {
	return model.Notification{
		ID:           generateID(),
		Kind:         kind,
		Title:        title,
		Body:         body,
		Timestamp:    at,
		WorkstreamID: workstreamID,
	}
}
