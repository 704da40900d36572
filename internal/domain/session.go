package domain

import (
	"sync"
	"time"
)

// RoomRef names one Room object: the broadcaster id plus the instance id of
// the Room that served it. A later Room for the same broadcaster has a
// different instance.
type RoomRef struct {
	ID       BroadcasterID
	Instance string
}

// IsZero reports whether the ref names no room.
func (r RoomRef) IsZero() bool { return r.ID == "" }

// Session is the relay-side state of one downstream viewer connection.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
	room         RoomRef
	mu           sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// JoinRoom records ref as the current room.
func (s *Session) JoinRoom(ref RoomRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = ref
	s.LastActiveAt = time.Now()
}

// LeaveRoomIf clears the current room only if it is ref. It reports whether
// the session was cleared.
func (s *Session) LeaveRoomIf(ref RoomRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != ref {
		return false
	}
	s.room = RoomRef{}
	return true
}

// CurrentRoom returns the room the session is subscribed to, if any.
func (s *Session) CurrentRoom() RoomRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
