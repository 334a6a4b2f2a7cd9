// Package httpapi implements the room REST surface: the read/write HTTP
// endpoints used by the session-manager to create rooms ahead of a kiosk
// connecting, and by operators/dashboards to inspect live room state.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scribear/relay/internal/v1/room"
	"github.com/scribear/relay/internal/v1/types"
)

// RoomsHandler serves the /rooms REST surface.
type RoomsHandler struct {
	manager *room.Manager
}

// NewRoomsHandler builds a RoomsHandler.
func NewRoomsHandler(manager *room.Manager) *RoomsHandler {
	return &RoomsHandler{manager: manager}
}

type createRoomRequest struct {
	SessionID           types.SessionID                   `json:"sessionId" binding:"required"`
	TranscriptionConfig *types.TranscriptionSessionConfig `json:"transcriptionConfig"`
}

// Create handles POST /rooms. Returns 201 with the room's config (defaulted
// if the caller omitted transcriptionConfig), or 409 if sessionId already
// has a room.
func (h *RoomsHandler) Create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cfg := types.DefaultTranscriptionSessionConfig()
	if req.TranscriptionConfig != nil {
		cfg = *req.TranscriptionConfig
	}

	r, err := h.manager.CreateRoom(req.SessionID, cfg)
	if err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, r.Info())
}

// List handles GET /rooms.
func (h *RoomsHandler) List(c *gin.Context) {
	rooms := h.manager.ListRooms()
	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// Get handles GET /rooms/:sessionId.
func (h *RoomsHandler) Get(c *gin.Context) {
	sessionID := types.SessionID(c.Param("sessionId"))

	r := h.manager.GetRoom(sessionID)
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	c.JSON(http.StatusOK, r.Info())
}
