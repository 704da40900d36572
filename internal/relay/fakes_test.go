package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/internal/source"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

var errUpstreamDown = errors.New("upstream down")

// fakeSource is a scriptable LiveSource.
type fakeSource struct {
	connectErr error
	// gate, when set, holds Connect until closed or ctx is done.
	gate chan struct{}
	// ignoreCtx makes a gated Connect wait for the gate only.
	ignoreCtx bool
	// disconnectGate, when set, holds Disconnect until closed.
	disconnectGate chan struct{}

	events      chan domain.Event
	closeEvents sync.Once

	connecting  atomic.Bool
	overlapped  atomic.Bool
	connects    atomic.Int32
	disconnects atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan domain.Event, 16)}
}

func (s *fakeSource) Connect(ctx context.Context) error {
	s.connecting.Store(true)
	defer s.connecting.Store(false)
	s.connects.Add(1)

	if s.gate != nil {
		if s.ignoreCtx {
			<-s.gate
		} else {
			select {
			case <-s.gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return s.connectErr
}

func (s *fakeSource) Events() <-chan domain.Event { return s.events }

func (s *fakeSource) Disconnect(context.Context) error {
	if s.connecting.Load() {
		s.overlapped.Store(true)
	}
	s.disconnects.Add(1)
	if s.disconnectGate != nil {
		<-s.disconnectGate
	}
	s.drop()
	return nil
}

func (s *fakeSource) emit(ev domain.Event) { s.events <- ev }

// drop ends the session as if the broadcaster went away.
func (s *fakeSource) drop() {
	s.closeEvents.Do(func() { close(s.events) })
}

// fakeFactory hands out sources built by plan, recording each one.
type fakeFactory struct {
	mu      sync.Mutex
	plan    func(n int) *fakeSource
	sources []*fakeSource
}

func newFakeFactory(plan func(n int) *fakeSource) *fakeFactory {
	if plan == nil {
		plan = func(int) *fakeSource { return newFakeSource() }
	}
	return &fakeFactory{plan: plan}
}

func (f *fakeFactory) New(domain.BroadcasterID) source.LiveSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.plan(len(f.sources))
	f.sources = append(f.sources, s)
	return s
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

func (f *fakeFactory) source(i int) *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[i]
}

func failing(int) *fakeSource {
	s := newFakeSource()
	s.connectErr = errUpstreamDown
	return s
}

type detachment struct {
	ref   domain.RoomRef
	cause error
}

// fakeSubscriber records frames and detach notifications.
type fakeSubscriber struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	full     bool
	attached []domain.RoomRef
	detached []detachment
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Deliver(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return domain.ErrSubscriberBackpressure
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSubscriber) Attached(ref domain.RoomRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, ref)
}

func (s *fakeSubscriber) attachments() []domain.RoomRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RoomRef(nil), s.attached...)
}

func (s *fakeSubscriber) Detached(ref domain.RoomRef, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = append(s.detached, detachment{ref: ref, cause: cause})
}

func (s *fakeSubscriber) setFull(full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = full
}

// messages decodes every frame received so far.
func (s *fakeSubscriber) messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.frames))
	for _, f := range s.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSubscriber) ofType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range s.messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSubscriber) detachments() []detachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]detachment(nil), s.detached...)
}

func testConfig() Config {
	return Config{
		MaxAttempts:       3,
		Backoff:           Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond},
		ConnectTimeout:    time.Second,
		DisconnectTimeout: time.Second,
		BacklogSize:       10,
	}
}

func waitState(t *testing.T, room *Room, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return room.State() == want }, waitFor, tick,
		"room never reached %s (now %s)", want, room.State())
}

func waitClosed(t *testing.T, room *Room) {
	t.Helper()
	select {
	case <-room.Done():
	case <-time.After(waitFor):
		t.Fatalf("room %s never closed (state %s)", room.ID(), room.State())
	}
}

func likeFrom(t *testing.T, actor string) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(domain.KindLike, actor, domain.LikePayload{LikeCount: 1}, time.Now())
	require.NoError(t, err)
	return ev
}
