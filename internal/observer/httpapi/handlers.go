package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opslane/workstream-coordinator/internal/common/errors"
	"github.com/opslane/workstream-coordinator/internal/common/logger"
	"github.com/opslane/workstream-coordinator/internal/coordinator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler contains the HTTP handlers fronting the coordinator.
type Handler struct {
	coord *coordinator.Coordinator
	hub   *Hub
	log   *logger.Logger
}

// NewHandler creates a new API handler bound to coord and hub.
func NewHandler(coord *coordinator.Coordinator, hub *Hub, log *logger.Logger) *Handler {
	return &Handler{coord: coord, hub: hub, log: log}
}

// ListWorkstreams returns every tracked workstream.
// GET /workstreams
func (h *Handler) ListWorkstreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workstreams": h.coord.GetAllWorkstreams()})
}

// GetWorkstream returns one workstream by id.
// GET /workstreams/:id
func (h *Handler) GetWorkstream(c *gin.Context) {
	id := c.Param("id")
	ws, err := h.coord.GetWorkstream(id)
	if err != nil {
		appErr := errors.NotFound("workstream", id)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, ws)
}

// CreateWorkstream creates a new workstream and starts its session.
// POST /workstreams
func (h *Handler) CreateWorkstream(c *gin.Context) {
	var req CreateWorkstreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	ws, err := h.coord.CreateWorkstream(c.Request.Context(), req.Name, req.Task)
	if err != nil {
		h.log.Error("failed to create workstream", zap.Error(err))
		appErr := errors.InternalError("failed to create workstream", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.coord.StartTask(c.Request.Context(), ws.ID); err != nil {
		h.log.Error("failed to start task", zap.String("workstream_id", ws.ID), zap.Error(err))
	}

	c.JSON(http.StatusCreated, ws)
}

// SendPrompt sends an operator prompt to a running workstream.
// POST /workstreams/:id/prompt
func (h *Handler) SendPrompt(c *gin.Context) {
	id := c.Param("id")
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.coord.SendPrompt(c.Request.Context(), id, req.Text); err != nil {
		appErr := errors.InternalError("failed to send prompt", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Status(http.StatusAccepted)
}

// RespondToPermission resolves a pending permission request.
// POST /workstreams/:id/permission
func (h *Handler) RespondToPermission(c *gin.Context) {
	id := c.Param("id")
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.coord.RespondToPermission(id, req.OptionID); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// PauseWorkstream pauses a running workstream.
// POST /workstreams/:id/pause
func (h *Handler) PauseWorkstream(c *gin.Context) {
	id := c.Param("id")
	if err := h.coord.PauseWorkstream(id); err != nil {
		appErr := errors.NotFound("workstream", id)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResumeWorkstream resumes a paused workstream.
// POST /workstreams/:id/resume
func (h *Handler) ResumeWorkstream(c *gin.Context) {
	id := c.Param("id")
	if err := h.coord.ResumeWorkstream(id); err != nil {
		appErr := errors.NotFound("workstream", id)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// StopWorkstream disconnects and removes a workstream.
// POST /workstreams/:id/stop
func (h *Handler) StopWorkstream(c *gin.Context) {
	id := c.Param("id")
	var req StopRequest
	_ = c.ShouldBindJSON(&req) // cleanup defaults to false if the body is empty

	if err := h.coord.StopWorkstream(c.Request.Context(), id, req.Cleanup); err != nil {
		appErr := errors.InternalError("failed to stop workstream", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetDiff returns the unified diff of a workstream's working copy.
// GET /workstreams/:id/diff
func (h *Handler) GetDiff(c *gin.Context) {
	id := c.Param("id")
	diff, err := h.coord.GetWorkstreamDiff(c.Request.Context(), id)
	if err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}

// CommitChanges commits the working copy's staged changes.
// POST /workstreams/:id/commit
func (h *Handler) CommitChanges(c *gin.Context) {
	id := c.Param("id")
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	committed, err := h.coord.CommitWorkstreamChanges(c.Request.Context(), id, req.Message)
	if err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"committed": committed})
}

// StreamEvents upgrades to a WebSocket and streams events for one workstream.
// GET /workstreams/:id/events
func (h *Handler) StreamEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.coord.GetWorkstream(id); err != nil {
		appErr := errors.NotFound("workstream", id)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("failed to upgrade websocket connection", zap.String("workstream_id", id), zap.Error(err))
		return
	}

	client := &wsClient{
		id:           generateClientID(),
		conn:         conn,
		workstreamID: id,
		send:         make(chan []byte, 64),
	}
	h.hub.addClient(client)

	go writePump(client, h.hub)
	readPump(client, h.hub)
}
