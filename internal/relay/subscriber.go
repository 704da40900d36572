package relay

import "github.com/weiawesome/wes-io-live/live-relay/internal/domain"

// Subscriber is a downstream consumer attached to a Room.
type Subscriber interface {
	// ID identifies the subscriber within a room.
	ID() string

	// Deliver queues an encoded frame without blocking. It returns
	// domain.ErrSubscriberBackpressure when the queue is full and
	// domain.ErrTransportClosed when the connection is gone; either makes
	// the room drop the subscriber.
	Deliver(frame []byte) error

	// Attached tells the subscriber which room instance accepted it. It runs
	// on the room loop before any frame is delivered, so it is always ordered
	// before the matching Detached.
	Attached(ref domain.RoomRef)

	// Detached tells the subscriber the room removed it. It is not called for
	// a voluntary Unsubscribe. Attached and Detached must not block or call
	// back into the room.
	Detached(ref domain.RoomRef, cause error)
}
