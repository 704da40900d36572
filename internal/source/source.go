package source

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
)

// LiveSource is one connection to a broadcaster's live session.
//
// Connect blocks until the session is established, fails, or ctx is done.
// After a successful Connect, Events yields events until the session ends,
// at which point the channel is closed. Disconnect releases the session and
// is called at most once, never concurrently with Connect.
type LiveSource interface {
	Connect(ctx context.Context) error
	Events() <-chan domain.Event
	Disconnect(ctx context.Context) error
}

// Factory builds a fresh LiveSource for each connect attempt.
type Factory interface {
	New(id domain.BroadcasterID) LiveSource
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(id domain.BroadcasterID) LiveSource

func (f FactoryFunc) New(id domain.BroadcasterID) LiveSource { return f(id) }

const (
	DriverMock      = "mock"
	DriverWebSocket = "websocket"
)

// NewFactory returns the factory for the configured driver.
func NewFactory(cfg Config) (Factory, error) {
	switch cfg.Driver {
	case DriverMock, "":
		mock := cfg.Mock
		return FactoryFunc(func(id domain.BroadcasterID) LiveSource {
			return NewMockSource(id, mock)
		}), nil
	case DriverWebSocket:
		if cfg.URL == "" {
			return nil, fmt.Errorf("source.url is required for the %s driver", DriverWebSocket)
		}
		ws := cfg
		return FactoryFunc(func(id domain.BroadcasterID) LiveSource {
			return NewWebSocketSource(id, ws)
		}), nil
	default:
		return nil, fmt.Errorf("unsupported source driver: %s", cfg.Driver)
	}
}
