package domain

import "encoding/json"

// WebSocket message types from client.
const (
	MsgTypeWatch = "watch"
	MsgTypeLeave = "leave"

	// Aliases sent by older overlay clients.
	MsgTypeLegacyConnect    = "connect"
	MsgTypeLegacyDisconnect = "disconnect"
)

// WebSocket message types to client.
const (
	MsgTypeConnected = "connected"
	MsgTypeEvent     = "event"
	MsgTypeError     = "error"
)

// Error codes
const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeInvalidRoom       = "INVALID_ROOM"
	ErrCodeRoomClosing       = "ROOM_CLOSING"
	ErrCodeUpstreamExhausted = "UPSTREAM_EXHAUSTED"
	ErrCodeRoomClosed        = "ROOM_CLOSED"
	ErrCodeRelayShutdown     = "RELAY_SHUTDOWN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

// WatchMessage asks the relay to subscribe to a broadcaster's room.
// Username is the field the legacy connect message used.
type WatchMessage struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Username string `json:"username,omitempty"`
}

// RoomName returns the requested room, preferring the current field.
func (m *WatchMessage) RoomName() string {
	if m.Room != "" {
		return m.Room
	}
	return m.Username
}

// Server -> Client messages

type ConnectedMessage struct {
	Type string        `json:"type"`
	Room BroadcasterID `json:"room"`
}

type EventMessage struct {
	Type string        `json:"type"`
	Room BroadcasterID `json:"room"`
	Data Event         `json:"data"`
}

type ErrorMessage struct {
	Type      string        `json:"type"`
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Room      BroadcasterID `json:"room,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// NewRelayErrorMessage builds the error frame for a relay error.
func NewRelayErrorMessage(room BroadcasterID, err error) *ErrorMessage {
	return &ErrorMessage{
		Type:      MsgTypeError,
		Code:      ErrorCode(err),
		Message:   err.Error(),
		Room:      room,
		Retryable: IsRetryable(err),
	}
}

// EncodeConnected serializes the connected frame for room.
func EncodeConnected(room BroadcasterID) ([]byte, error) {
	return json.Marshal(&ConnectedMessage{Type: MsgTypeConnected, Room: room})
}

// EncodeEvent serializes the event frame for room.
func EncodeEvent(room BroadcasterID, ev Event) ([]byte, error) {
	return json.Marshal(&EventMessage{Type: MsgTypeEvent, Room: room, Data: ev})
}

// EncodeError serializes the error frame for a relay error.
func EncodeError(room BroadcasterID, err error) ([]byte, error) {
	return json.Marshal(NewRelayErrorMessage(room, err))
}
