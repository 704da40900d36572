package ownership

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Lookup when nobody owns the room.
var ErrNotFound = errors.New("room has no owner")

// Registry records which relay node holds the upstream connection for a
// room. Claims expire unless the holder's heartbeat keeps refreshing them.
type Registry interface {
	// Claim takes ownership of roomID if nobody holds it and returns the
	// current owner, which is this node when claimed is true.
	Claim(ctx context.Context, roomID string) (owner string, claimed bool, err error)
	// Lost returns a channel closed once this node no longer owns roomID.
	Lost(roomID string) <-chan struct{}
	Release(ctx context.Context, roomID string) error
	Lookup(ctx context.Context, roomID string) (string, error)
	// Self is the value this node writes into the claims it holds.
	Self() string
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}
