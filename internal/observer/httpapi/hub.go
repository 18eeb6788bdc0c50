// Package httpapi fronts the coordinator with a gin-routed HTTP API and a
// gorilla/websocket event bridge, per SPEC_FULL.md §4.5's optional second
// observer surface.
package httpapi

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/opslane/workstream-coordinator/internal/coordinator"
	"go.uber.org/zap"

	"github.com/opslane/workstream-coordinator/internal/common/logger"
)

// wsClient is one connected browser/UI socket subscribed to a single
// workstream's events.
type wsClient struct {
	id           string
	conn         *websocket.Conn
	workstreamID string
	send         chan []byte
}

// Hub fans coordinator events out to per-workstream sets of WebSocket
// clients. One Hub serves every workstream; clients are bucketed by the
// workstream id they subscribed to at connect time.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]bool // workstreamID -> clients

	log *logger.Logger
}

// NewHub creates a Hub and subscribes it to coord's event stream.
func NewHub(coord *coordinator.Coordinator, log *logger.Logger) *Hub {
	h := &Hub{
		clients: make(map[string]map[*wsClient]bool),
		log:     log.WithFields(zap.String("component", "ws_hub")),
	}
	coord.Subscribe(h.onEvent)
	return h
}

func (h *Hub) onEvent(workstreamID string, event coordinator.Event) {
	h.mu.RLock()
	clients := h.clients[workstreamID]
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to marshal event for websocket clients", zap.Error(err))
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
		default:
			h.removeClient(client)
			close(client.send)
		}
	}
}

func (h *Hub) addClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.workstreamID] == nil {
		h.clients[client.workstreamID] = make(map[*wsClient]bool)
	}
	h.clients[client.workstreamID][client] = true
}

func (h *Hub) removeClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[client.workstreamID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, client.workstreamID)
		}
	}
}
