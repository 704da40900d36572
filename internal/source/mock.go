package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
)

var mockUsernames = []string{
	"tiktok_user123",
	"dancequeen",
	"meme_lord",
	"viral_creator",
	"trending_now",
	"funtime_streamer",
	"social_star",
	"content_king",
}

var mockComments = []string{"hello!", "love this", "lol", "first time here", "🔥🔥🔥"}

var mockGifts = []string{"Rose", "TikTok", "Finger Heart", "Galaxy"}

// MockSource fabricates a live session: random viewers doing random things
// at a random interval. It is the default driver for local development.
type MockSource struct {
	id  domain.BroadcasterID
	cfg MockConfig
	rng *rand.Rand

	events   chan domain.Event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  bool
}

func NewMockSource(id domain.BroadcasterID, cfg MockConfig) *MockSource {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 2 * time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if len(cfg.Usernames) == 0 {
		cfg.Usernames = mockUsernames
	}
	return &MockSource{
		id:     id,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		events: make(chan domain.Event, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *MockSource) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate {
		return fmt.Errorf("mock upstream refused %s", s.id)
	}

	s.started = true
	go s.run()

	l := log.L()
	l.Debug().Str(log.FieldRoomID, string(s.id)).Msg("mock upstream connected")
	return nil
}

func (s *MockSource) Events() <-chan domain.Event { return s.events }

func (s *MockSource) Disconnect(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	if !s.started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MockSource) run() {
	defer close(s.done)
	defer close(s.events)

	timer := time.NewTimer(s.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
		}

		ev, err := s.randomEvent()
		if err != nil {
			l := log.L()
			l.Error().Err(err).Str(log.FieldRoomID, string(s.id)).Msg("failed to build mock event")
		} else {
			select {
			case s.events <- ev:
			case <-s.stop:
				return
			}
		}
		timer.Reset(s.nextInterval())
	}
}

func (s *MockSource) nextInterval() time.Duration {
	spread := s.cfg.MaxInterval - s.cfg.MinInterval
	if spread <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + time.Duration(s.rng.Int64N(int64(spread)))
}

func (s *MockSource) randomEvent() (domain.Event, error) {
	actor := s.cfg.Usernames[s.rng.IntN(len(s.cfg.Usernames))]
	kind := domain.EventKinds[s.rng.IntN(len(domain.EventKinds))]

	var payload any
	switch kind {
	case domain.KindChat:
		payload = domain.ChatPayload{Comment: mockComments[s.rng.IntN(len(mockComments))]}
	case domain.KindGift:
		i := s.rng.IntN(len(mockGifts))
		payload = domain.GiftPayload{GiftID: 5000 + i, GiftName: mockGifts[i], RepeatCount: 1 + s.rng.IntN(5)}
	case domain.KindLike:
		payload = domain.LikePayload{LikeCount: 1 + s.rng.IntN(15)}
	}
	return domain.NewEvent(kind, actor, payload, time.Now())
}
