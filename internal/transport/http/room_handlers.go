package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat/internal/core"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub *core.Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		hub: hub,
		log: logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	CreatedAt string `json:"created_at"`
}

// CreateRoom handles room creation. The caller becomes the owner.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	owner, ok := identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.hub.Registry().CreateRoom(c.Request.Context(), owner, req.Name)
	if err != nil {
		if errors.Is(err, core.ErrBadRequest) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Str("room_name", req.Name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_name", room.Name).Int64("room_id", room.ID).Str("owner", owner).Msg("room created")
	c.JSON(http.StatusCreated, roomResponse(room))
}

// ListRooms lists the rooms owned by the caller.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	owner, ok := identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	rooms, err := h.hub.Registry().ListRoomsFor(c.Request.Context(), owner)
	if err != nil {
		h.log.Error().Err(err).Str("owner", owner).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, roomResponses(rooms))
}

// History returns the persisted log of a room, oldest first.
// GET /api/rooms/:id/messages
func (h *RoomHandlers) History(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	messages, err := h.hub.History(c.Request.Context(), roomID)
	if err != nil {
		h.log.Error().Err(err).Int64("room_id", roomID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, eventMessages(messages))
}

