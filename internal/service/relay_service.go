package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/internal/hub"
	"github.com/weiawesome/wes-io-live/live-relay/internal/ownership"
	"github.com/weiawesome/wes-io-live/live-relay/internal/relay"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/pubsub"
)

type relayService struct {
	hub   *hub.Hub
	rooms *relay.Registry

	// Set only in cluster mode.
	owners ownership.Registry
	bus    pubsub.PubSub
}

// NewRelayService wires viewer connections to rooms. owners and bus may be
// nil when the node runs on its own.
func NewRelayService(h *hub.Hub, rooms *relay.Registry, owners ownership.Registry, bus pubsub.PubSub) RelayService {
	return &relayService{
		hub:    h,
		rooms:  rooms,
		owners: owners,
		bus:    bus,
	}
}

func (s *relayService) HandleWatch(ctx context.Context, c *hub.Client, room string) error {
	id, err := domain.ParseBroadcasterID(room)
	if err != nil {
		return c.SendMessage(domain.NewRelayErrorMessage("", err))
	}

	if cur := c.Session.CurrentRoom(); !cur.IsZero() {
		if s.watching(cur, id) {
			return nil
		}
		if err := s.leave(ctx, c, cur); err != nil {
			return err
		}
	}

	if _, err := s.rooms.Subscribe(ctx, id, c); err != nil {
		l := log.L()
		l.Warn().
			Err(err).
			Str(log.FieldClientID, c.ID()).
			Str(log.FieldRoomID, string(id)).
			Msg("watch rejected")
		return c.SendMessage(domain.NewRelayErrorMessage(id, err))
	}

	l := log.L()
	l.Info().
		Str(log.FieldClientID, c.ID()).
		Str(log.FieldRoomID, string(id)).
		Msg("client watching room")
	return nil
}

// watching reports whether cur is the live instance of room id.
func (s *relayService) watching(cur domain.RoomRef, id domain.BroadcasterID) bool {
	if cur.ID != id {
		return false
	}
	room, ok := s.rooms.Lookup(id)
	return ok && room.Instance() == cur.Instance && !room.State().Terminal()
}

func (s *relayService) HandleLeave(ctx context.Context, c *hub.Client) error {
	cur := c.Session.CurrentRoom()
	if cur.IsZero() {
		return nil
	}
	return s.leave(ctx, c, cur)
}

func (s *relayService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	cur := c.Session.CurrentRoom()
	if cur.IsZero() {
		return nil
	}
	return s.leave(ctx, c, cur)
}

func (s *relayService) leave(ctx context.Context, c *hub.Client, ref domain.RoomRef) error {
	if err := s.rooms.Unsubscribe(ctx, ref, c.ID()); err != nil {
		return fmt.Errorf("unsubscribe from %s: %w", ref.ID, err)
	}
	c.Session.LeaveRoomIf(ref)

	l := log.L()
	l.Info().
		Str(log.FieldClientID, c.ID()).
		Str(log.FieldRoomID, string(ref.ID)).
		Str(log.FieldRoomInstance, ref.Instance).
		Msg("client left room")
	return nil
}

func (s *relayService) Start(ctx context.Context) error {
	if s.owners != nil {
		if err := s.owners.StartHeartbeat(ctx); err != nil {
			return fmt.Errorf("failed to start ownership heartbeat: %w", err)
		}
	}
	l := log.L()
	l.Info().Bool("cluster", s.owners != nil).Msg("relay service started")
	return nil
}

// Stop closes every room, which tells subscribers the relay is going away,
// then drops the connections and releases cluster state.
func (s *relayService) Stop(ctx context.Context) error {
	var errs []error
	if err := s.rooms.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("room shutdown: %w", err))
	}
	s.hub.Stop()

	if s.owners != nil {
		s.owners.StopHeartbeat()
		if err := s.owners.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ownership close: %w", err))
		}
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}

	l := log.L()
	l.Info().Msg("relay service stopped")
	return errors.Join(errs...)
}
