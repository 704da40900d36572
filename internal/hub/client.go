package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/live-relay/internal/config"
	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
)

// Client is one viewer websocket connection. It is the relay.Subscriber a
// Room delivers frames to.
type Client struct {
	id      string
	Hub     *Hub
	Conn    *websocket.Conn
	Session *domain.Session
	config  config.WebSocketConfig

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBufferSize
	if size <= 0 {
		size = 256
	}
	return &Client{
		id:      id,
		Hub:     hub,
		Conn:    conn,
		Session: domain.NewSession(id),
		config:  cfg,
		send:    make(chan []byte, size),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Deliver queues frame for the write pump without blocking.
func (c *Client) Deliver(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrTransportClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return domain.ErrSubscriberBackpressure
	}
}

// Outbound is the queue the write pump drains.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Attached records the room that accepted this client.
func (c *Client) Attached(ref domain.RoomRef) {
	c.Session.JoinRoom(ref)
}

// Detached clears the session's room if it still points at ref. A client
// dropped for falling behind is disconnected.
func (c *Client) Detached(ref domain.RoomRef, cause error) {
	c.Session.LeaveRoomIf(ref)

	l := log.L()
	l.Info().
		Str(log.FieldClientID, c.id).
		Str(log.FieldRoomID, string(ref.ID)).
		Str(log.FieldRoomInstance, ref.Instance).
		AnErr(log.FieldReason, cause).
		Msg("client detached from room")

	if errors.Is(cause, domain.ErrSubscriberBackpressure) {
		c.Close()
	}
}

// SendMessage marshals message and queues it. A full queue drops it.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	if err := c.Deliver(data); err != nil && !errors.Is(err, domain.ErrSubscriberBackpressure) {
		return err
	}
	return nil
}

// Close closes the send queue; the write pump then closes the connection.
// It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads control messages until the connection fails, then
// unregisters the client and calls onClose.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
		if onClose != nil {
			onClose(c)
		}
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldClientID, c.id).Msg("websocket read error")
			}
			break
		}

		c.Session.UpdateActivity()

		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Outbound():
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
