package relay

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-relay/internal/source"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
)

// Registry maps broadcaster IDs to their live Room. The map is the only
// state shared between callers; room methods are always called outside mu.
type Registry struct {
	cfg     Config
	factory source.Factory
	metrics *metrics.Metrics

	mu     sync.Mutex
	rooms  map[domain.BroadcasterID]*Room
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, factory source.Factory, m *metrics.Metrics) *Registry {
	return &Registry{
		cfg:     cfg,
		factory: factory,
		metrics: m,
		rooms:   make(map[domain.BroadcasterID]*Room),
	}
}

// GetOrCreate returns the room for id, creating it if absent.
func (g *Registry) GetOrCreate(id domain.BroadcasterID) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, domain.ErrRegistryClosed
	}
	if room, ok := g.rooms[id]; ok {
		return room, nil
	}

	room := newRoom(id, g.cfg, g.factory, g.metrics, g.roomClosed)
	g.rooms[id] = room
	g.metrics.RoomOpened()
	l := log.L()
	l.Debug().
		Str(log.FieldRoomID, string(id)).
		Str(log.FieldRoomInstance, room.Instance()).
		Msg("room created")
	return room, nil
}

// Subscribe attaches sub to the room for id, creating the room if needed.
// A room that is tearing down rejects with domain.ErrRoomClosing.
func (g *Registry) Subscribe(ctx context.Context, id domain.BroadcasterID, sub Subscriber) (*Room, error) {
	room, err := g.GetOrCreate(id)
	if err != nil {
		return nil, err
	}
	if err := room.Subscribe(ctx, sub); err != nil {
		if !errors.Is(err, domain.ErrRoomClosing) {
			// Don't strand a room this call created but never subscribed to.
			_, _ = room.CloseIfEmpty(context.WithoutCancel(ctx))
		}
		return nil, err
	}
	return room, nil
}

// Unsubscribe detaches subID from the room identified by ref. It is a no-op
// when the current room for ref.ID is a different instance.
func (g *Registry) Unsubscribe(ctx context.Context, ref domain.RoomRef, subID string) error {
	room, ok := g.Lookup(ref.ID)
	if !ok || room.Instance() != ref.Instance {
		return nil
	}
	_, err := room.Unsubscribe(ctx, subID)
	return err
}

// RemoveIfEmpty closes the room for id if it has no subscribers.
func (g *Registry) RemoveIfEmpty(ctx context.Context, id domain.BroadcasterID) (bool, error) {
	room, ok := g.Lookup(id)
	if !ok {
		return false, nil
	}
	return room.CloseIfEmpty(ctx)
}

// Close force-closes the room for id, sending cause to its subscribers. It
// waits until the room has finished tearing down or ctx is done. The bool
// reports whether the room existed, even when err is set.
func (g *Registry) Close(ctx context.Context, id domain.BroadcasterID, cause error) (bool, error) {
	room, ok := g.Lookup(id)
	if !ok {
		return false, nil
	}
	if err := room.Close(ctx, cause); err != nil {
		return true, err
	}
	select {
	case <-room.Done():
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (g *Registry) Lookup(id domain.BroadcasterID) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	return room, ok
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Snapshot describes every room, ordered by ID.
func (g *Registry) Snapshot() []RoomInfo {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Shutdown closes every room with domain.ErrRelayShutdown and waits for
// all of them to finish. Later GetOrCreate calls fail.
func (g *Registry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	l := log.L()
	l.Info().Int("rooms", len(rooms)).Msg("shutting down room registry")

	eg, ctx := errgroup.WithContext(ctx)
	for _, room := range rooms {
		eg.Go(func() error {
			if err := room.Close(ctx, domain.ErrRelayShutdown); err != nil {
				return err
			}
			select {
			case <-room.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return eg.Wait()
}

// roomClosed runs on the room's loop once it reaches StateClosed.
func (g *Registry) roomClosed(room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if current, ok := g.rooms[room.ID()]; ok && current == room {
		delete(g.rooms, room.ID())
		g.metrics.RoomClosed()
	}
}
