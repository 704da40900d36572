package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/live-relay/internal/hub"
)

type RelayService interface {
	HandleWatch(ctx context.Context, client *hub.Client, room string) error
	HandleLeave(ctx context.Context, client *hub.Client) error
	HandleDisconnect(ctx context.Context, client *hub.Client) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
