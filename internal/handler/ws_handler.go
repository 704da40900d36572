package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/internal/hub"
	"github.com/weiawesome/wes-io-live/live-relay/internal/service"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub     *hub.Hub
	service service.RelayService
}

func NewWSHandler(h *hub.Hub, svc service.RelayService) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.hub.Config())

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleMessage, h.handleClose)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := context.Background()
	l := log.L()

	switch base.Type {
	case domain.MsgTypeWatch, domain.MsgTypeLegacyConnect:
		var msg domain.WatchMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid watch message"))
			return
		}
		if err := h.service.HandleWatch(ctx, client, msg.RoomName()); err != nil {
			l.Warn().Err(err).Str(log.FieldClientID, client.ID()).Msg("watch failed")
		}

	case domain.MsgTypeLeave, domain.MsgTypeLegacyDisconnect:
		if err := h.service.HandleLeave(ctx, client); err != nil {
			l.Warn().Err(err).Str(log.FieldClientID, client.ID()).Msg("leave failed")
		}

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

func (h *WSHandler) handleClose(client *hub.Client) {
	if err := h.service.HandleDisconnect(context.Background(), client); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldClientID, client.ID()).Msg("disconnect cleanup failed")
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}

// ClientCount reports the open viewer connections.
func (h *WSHandler) ClientCount() int {
	return h.hub.ClientCount()
}
