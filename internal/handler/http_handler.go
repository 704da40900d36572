package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/internal/relay"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/middleware"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/response"
)

const defaultRecentEvents = 20

// Handler serves the rooms API.
type Handler struct {
	rooms          *relay.Registry
	authMiddleware *middleware.AuthMiddleware
}

func NewHandler(rooms *relay.Registry, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		rooms:          rooms,
		authMiddleware: authMiddleware,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		rooms := api.Group("/rooms")
		{
			rooms.GET("", h.ListRooms)
			rooms.GET("/:id", h.GetRoom)

			// Admin only
			rooms.DELETE("/:id", h.authMiddleware.RequireRole("admin"), h.CloseRoom)
		}
	}
}

// ListRooms lists the rooms this node is relaying.
func (h *Handler) ListRooms(c *gin.Context) {
	rooms := h.rooms.Snapshot()
	response.Success(c, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

type getRoomQuery struct {
	Recent *int `form:"recent" binding:"omitempty,min=0,max=1000"`
}

// GetRoom describes one room along with its most recent events.
func (h *Handler) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	id, err := domain.ParseBroadcasterID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var q getRoomQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	limit := defaultRecentEvents
	if q.Recent != nil {
		limit = *q.Recent
	}

	room, ok := h.rooms.Lookup(id)
	if !ok {
		response.NotFound(c, "room not found")
		return
	}

	info := room.Info()
	if limit > 0 {
		recent, err := room.Recent(ctx, limit)
		switch {
		case errors.Is(err, domain.ErrRoomClosing):
			// Finished between Lookup and Recent; report what we have.
		case err != nil:
			l.Error().Err(err).Str(log.FieldRoomID, string(id)).Msg("failed to read recent events")
			response.InternalError(c, "failed to read recent events")
			return
		default:
			info.Recent = recent
		}
	}

	response.Success(c, info)
}

// CloseRoom force-closes a room. Its viewers get a ROOM_CLOSED error.
func (h *Handler) CloseRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	id, err := domain.ParseBroadcasterID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	found, err := h.rooms.Close(ctx, id, domain.ErrRoomClosedByOperator)
	if !found {
		response.NotFound(c, "room not found")
		return
	}
	if err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, string(id)).Msg("failed to close room")
		response.InternalError(c, "failed to close room")
		return
	}

	l.Info().
		Str(log.FieldRoomID, string(id)).
		Str(log.FieldUserID, middleware.GetUserID(c)).
		Msg("room closed by operator")
	response.Success(c, gin.H{"id": id, "closed": true})
}

// RoomCount reports the rooms currently relaying or tearing down.
func (h *Handler) RoomCount() int {
	return h.rooms.Len()
}
