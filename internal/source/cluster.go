package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-relay/internal/ownership"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/pubsub"
)

const (
	roleOwner    = "owner"
	roleFollower = "follower"
)

// ClusterFactory makes relay nodes share one upstream per broadcaster. The
// node holding the ownership claim connects upstream and mirrors every event
// onto the room's pub/sub channel; every other node follows that channel.
type ClusterFactory struct {
	upstream   Factory
	owners     ownership.Registry
	bus        pubsub.PubSub
	metrics    *metrics.Metrics
	ownerCheck time.Duration
}

// NewClusterFactory wraps upstream. Followers poll the owner claim every
// ownerCheck and drop once it is gone so their room can take over.
func NewClusterFactory(upstream Factory, owners ownership.Registry, bus pubsub.PubSub, m *metrics.Metrics, ownerCheck time.Duration) *ClusterFactory {
	if ownerCheck <= 0 {
		ownerCheck = 5 * time.Second
	}
	return &ClusterFactory{
		upstream:   upstream,
		owners:     owners,
		bus:        bus,
		metrics:    m,
		ownerCheck: ownerCheck,
	}
}

func (f *ClusterFactory) New(id domain.BroadcasterID) LiveSource {
	return &clusterSource{
		f:       f,
		id:      id,
		channel: pubsub.RoomEventsChannel(string(id)),
		events:  make(chan domain.Event, 64),
		done:    make(chan struct{}),
		logger: log.L().With().
			Str(log.FieldRoomID, string(id)).
			Str(log.FieldInstanceID, f.owners.Self()).
			Logger(),
	}
}

type clusterSource struct {
	f       *ClusterFactory
	id      domain.BroadcasterID
	channel string
	logger  zerolog.Logger

	role   string
	inner  LiveSource
	cancel context.CancelFunc
	events chan domain.Event
	done   chan struct{}
}

func (s *clusterSource) Connect(ctx context.Context) error {
	owner, claimed, err := s.f.owners.Claim(ctx, string(s.id))
	if err != nil {
		return err
	}
	if claimed {
		return s.connectOwner(ctx)
	}
	return s.connectFollower(ctx, owner)
}

func (s *clusterSource) connectOwner(ctx context.Context) error {
	inner := s.f.upstream.New(s.id)
	if err := inner.Connect(ctx); err != nil {
		s.release()
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.role = roleOwner
	s.inner = inner
	s.cancel = cancel
	go s.ownerPump(pumpCtx, inner.Events(), s.f.owners.Lost(string(s.id)))

	s.logger.Info().Str(log.FieldChannel, s.channel).Msg("relaying upstream as owner")
	return nil
}

func (s *clusterSource) connectFollower(ctx context.Context, owner string) error {
	// The subscription outlives Connect, so it must not inherit its deadline.
	pumpCtx, cancel := context.WithCancel(context.Background())
	in, err := s.f.bus.Subscribe(pumpCtx, s.channel)
	if err != nil {
		cancel()
		return fmt.Errorf("follow %s owned by %s: %w", s.id, owner, err)
	}

	// The owner may have left between Claim and Subscribe.
	if _, err := s.f.owners.Lookup(ctx, string(s.id)); err != nil {
		cancel()
		_ = s.f.bus.Unsubscribe(context.WithoutCancel(ctx), s.channel)
		return fmt.Errorf("follow %s: owner %s: %w", s.id, owner, err)
	}

	s.role = roleFollower
	s.cancel = cancel
	go s.followerPump(pumpCtx, in)

	s.logger.Info().Str(log.FieldOwner, owner).Str(log.FieldChannel, s.channel).Msg("following owner relay")
	return nil
}

func (s *clusterSource) Events() <-chan domain.Event { return s.events }

func (s *clusterSource) Disconnect(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	switch s.role {
	case roleOwner:
		err := s.inner.Disconnect(ctx)
		if relErr := s.f.owners.Release(ctx, string(s.id)); relErr != nil {
			err = errors.Join(err, relErr)
		}
		return err
	default:
		return s.f.bus.Unsubscribe(ctx, s.channel)
	}
}

func (s *clusterSource) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.f.owners.Release(ctx, string(s.id)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to release room ownership")
	}
}

func (s *clusterSource) ownerPump(ctx context.Context, in <-chan domain.Event, lost <-chan struct{}) {
	defer close(s.done)
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-lost:
			s.logger.Warn().Msg("room ownership lost, dropping upstream")
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			s.mirror(ctx, ev)
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *clusterSource) mirror(ctx context.Context, ev domain.Event) {
	msg, err := pubsub.NewEvent(pubsub.EventLive, string(s.id), ev)
	if err == nil {
		msg.Origin = s.f.owners.Self()
		err = s.f.bus.Publish(ctx, s.channel, msg)
	}
	if err != nil {
		s.f.metrics.MirrorFailure()
		s.logger.Warn().Err(err).Str(log.FieldChannel, s.channel).Msg("failed to mirror event")
	}
}

func (s *clusterSource) followerPump(ctx context.Context, in <-chan *pubsub.Event) {
	defer close(s.done)
	defer close(s.events)

	ticker := time.NewTicker(s.f.ownerCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-in:
			if !ok {
				s.logger.Warn().Msg("owner channel closed")
				return
			}
			if msg.Type != pubsub.EventLive || msg.Origin == s.f.owners.Self() {
				continue
			}
			var ev domain.Event
			if err := msg.UnmarshalPayload(&ev); err != nil || !ev.Kind.Valid() {
				s.logger.Debug().Err(err).Msg("skipping mirrored event")
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, s.f.ownerCheck)
			_, err := s.f.owners.Lookup(checkCtx, string(s.id))
			cancel()
			if errors.Is(err, ownership.ErrNotFound) {
				s.logger.Info().Msg("owner relay gone, taking over")
				return
			}
			if err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("failed to check room owner")
			}
		}
	}
}
