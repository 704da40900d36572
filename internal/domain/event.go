package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BroadcasterID identifies one upstream live session, e.g. a username.
type BroadcasterID string

const maxBroadcasterIDLen = 64

// ParseBroadcasterID validates a room id received from a client.
func ParseBroadcasterID(raw string) (BroadcasterID, error) {
	id := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	if id == "" {
		return "", fmt.Errorf("%w: room is required", ErrInvalidControlMessage)
	}
	if len(id) > maxBroadcasterIDLen {
		return "", fmt.Errorf("%w: room must be at most %d characters", ErrInvalidControlMessage, maxBroadcasterIDLen)
	}
	if strings.ContainsAny(id, " \t\r\n:/") {
		return "", fmt.Errorf("%w: room contains invalid characters", ErrInvalidControlMessage)
	}
	return BroadcasterID(id), nil
}

func (id BroadcasterID) String() string { return string(id) }

// EventKind is the type of an upstream live event.
type EventKind string

const (
	KindJoin   EventKind = "join"
	KindLike   EventKind = "like"
	KindFollow EventKind = "follow"
	KindShare  EventKind = "share"
	KindChat   EventKind = "chat"
	KindGift   EventKind = "gift"
)

// EventKinds lists every kind in a stable order.
var EventKinds = []EventKind{KindJoin, KindLike, KindFollow, KindShare, KindChat, KindGift}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is one notification from an upstream live session. Events are
// values: the relay never mutates one after it has been created.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// ChatPayload carries the comment of a chat event.
type ChatPayload struct {
	Comment string `json:"comment"`
}

// GiftPayload describes a gift event.
type GiftPayload struct {
	GiftID      int    `json:"gift_id,omitempty"`
	GiftName    string `json:"gift_name"`
	RepeatCount int    `json:"repeat_count"`
}

// LikePayload carries the number of likes batched in one like event.
type LikePayload struct {
	LikeCount int `json:"like_count"`
}

// NewEvent builds an event stamped at ts. payload may be nil for kinds
// without kind-specific fields.
func NewEvent(kind EventKind, actor string, payload any, ts time.Time) (Event, error) {
	ev := Event{
		Kind:      kind,
		Actor:     actor,
		Timestamp: ts.UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Clone returns a copy that shares no memory with e.
func (e Event) Clone() Event {
	if e.Payload != nil {
		e.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return e
}
