package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming conventions for relayed live events.
const (
	// Owner relay -> follower relays
	ChannelRoomEvents = "live:room:%s:events"
)

// Event types carried on the room event channels.
const (
	EventLive = "live_event"
)

// RoomEventsChannel returns the channel name for a room's mirrored events.
func RoomEventsChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomEvents, roomID)
}

// channelToTopicAndKey converts a Redis-style channel to a Kafka topic and message key.
//
//	"live:room:alice:events" → topic: "live-events", key: "alice"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	// Expected format: {prefix}:room:{roomID}:{suffix}
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "room" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0] + "-" + strings.ReplaceAll(parts[3], "_", "-"), parts[2], nil
}
