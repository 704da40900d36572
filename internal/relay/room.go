package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-relay/internal/source"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
)

// Config holds the per-room relay settings.
type Config struct {
	MaxAttempts       int
	Backoff           Backoff
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	BacklogSize       int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		Backoff:           Backoff{Base: 500 * time.Millisecond, Cap: 30 * time.Second, Jitter: 0.2},
		ConnectTimeout:    15 * time.Second,
		DisconnectTimeout: 5 * time.Second,
		BacklogSize:       50,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = def.DisconnectTimeout
	}
	if c.BacklogSize < 0 {
		c.BacklogSize = 0
	}
	return c
}

// RoomInfo is a point-in-time view of a room.
type RoomInfo struct {
	ID          domain.BroadcasterID `json:"id"`
	Instance    string               `json:"instance"`
	State       State                `json:"state"`
	Subscribers int                  `json:"subscribers"`
	Attempts    int                  `json:"attempts"`
	CreatedAt   time.Time            `json:"created_at"`
	Recent      []domain.Event       `json:"recent,omitempty"`
}

type connectResult struct {
	src source.LiveSource
	err error
}

// Room relays one broadcaster's live session to its subscribers.
//
// All mutable state is owned by the goroutine started in newRoom; public
// methods hand closures to it over cmds. The upstream Connect runs on its own
// goroutine and the loop never calls Disconnect while it is in flight.
type Room struct {
	id        domain.BroadcasterID
	instance  string
	createdAt time.Time
	cfg       Config
	factory   source.Factory
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	onClosed  func(*Room)

	machine *fsm.FSM

	cmds     chan func()
	results  chan connectResult
	done     chan struct{}
	closing  atomic.Bool
	subCount atomic.Int32
	attempts atomic.Int32

	// Loop-owned.
	subs          map[string]Subscriber
	backlog       *Ring[domain.Event]
	failures      int
	dropStreak    int
	liveSince     time.Time
	relayed       bool
	upstream      source.LiveSource
	events        <-chan domain.Event
	connectCancel context.CancelFunc
	teardown      chan struct{}
	retryTimer    *time.Timer
	retryC        <-chan time.Time
	retryDelay    time.Duration
	finished      bool
}

func newRoom(id domain.BroadcasterID, cfg Config, factory source.Factory, m *metrics.Metrics, onClosed func(*Room)) *Room {
	cfg = cfg.withDefaults()
	instance := uuid.NewString()
	r := &Room{
		id:        id,
		instance:  instance,
		createdAt: time.Now(),
		cfg:       cfg,
		factory:   factory,
		metrics:   m,
		logger:    log.Room(string(id), instance),
		onClosed:  onClosed,
		cmds:      make(chan func()),
		results:   make(chan connectResult, 1),
		done:      make(chan struct{}),
		subs:      make(map[string]Subscriber),
		backlog:   NewRing[domain.Event](cfg.BacklogSize),
	}
	r.machine = newRoomFSM(r.entered)

	go r.run()
	return r
}

func (r *Room) ID() domain.BroadcasterID { return r.id }

// Instance distinguishes this Room from earlier or later rooms with the same ID.
func (r *Room) Instance() string { return r.instance }

func (r *Room) Ref() domain.RoomRef {
	return domain.RoomRef{ID: r.id, Instance: r.instance}
}

func (r *Room) State() State { return State(r.machine.Current()) }

func (r *Room) SubscriberCount() int { return int(r.subCount.Load()) }

// Done is closed once the room reaches StateClosed.
func (r *Room) Done() <-chan struct{} { return r.done }

// Info reports the room without waiting for its loop.
func (r *Room) Info() RoomInfo {
	return RoomInfo{
		ID:          r.id,
		Instance:    r.instance,
		State:       r.State(),
		Subscribers: r.SubscriberCount(),
		Attempts:    int(r.attempts.Load()),
		CreatedAt:   r.createdAt,
	}
}

// Subscribe adds sub. The first subscriber starts the upstream connect; a
// subscriber joining a live room is sent the connected frame at once.
// Subscribing twice with the same ID is a no-op.
func (r *Room) Subscribe(ctx context.Context, sub Subscriber) error {
	if r.closing.Load() {
		return domain.ErrRoomClosing
	}
	var err error
	if execErr := r.exec(ctx, func() { err = r.subscribe(sub) }); execErr != nil {
		return execErr
	}
	return err
}

// Unsubscribe removes the subscriber with the given ID and reports whether
// it was present. Removing the last subscriber closes the room.
func (r *Room) Unsubscribe(ctx context.Context, subID string) (bool, error) {
	var removed bool
	err := r.exec(ctx, func() { removed = r.unsubscribe(subID) })
	if errors.Is(err, domain.ErrRoomClosing) {
		return false, nil
	}
	return removed, err
}

// CloseIfEmpty closes the room if, when the loop checks, it has no
// subscribers.
func (r *Room) CloseIfEmpty(ctx context.Context) (bool, error) {
	var closed bool
	err := r.exec(ctx, func() {
		if len(r.subs) == 0 && !r.closing.Load() {
			r.beginClose(nil)
			closed = true
		}
	})
	if errors.Is(err, domain.ErrRoomClosing) {
		return false, nil
	}
	return closed, err
}

// Close tears the room down, sending cause to every subscriber before
// detaching it. It does not wait for StateClosed; use Done for that.
func (r *Room) Close(ctx context.Context, cause error) error {
	err := r.exec(ctx, func() { r.beginClose(cause) })
	if errors.Is(err, domain.ErrRoomClosing) {
		return nil
	}
	return err
}

// Recent returns up to n of the newest buffered events, oldest first.
func (r *Room) Recent(ctx context.Context, n int) ([]domain.Event, error) {
	var out []domain.Event
	if err := r.exec(ctx, func() { out = r.backlog.Last(n) }); err != nil {
		return nil, err
	}
	return out, nil
}

// exec runs fn on the room loop and waits for it to finish.
func (r *Room) exec(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case r.cmds <- func() { fn(); close(ran) }:
	case <-r.done:
		return domain.ErrRoomClosing
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

func (r *Room) run() {
	defer close(r.done)

	for !r.finished {
		select {
		case fn := <-r.cmds:
			fn()

		case res := <-r.results:
			r.handleConnectResult(res)

		case ev, ok := <-r.events:
			if !ok {
				r.handleDrop()
				continue
			}
			r.broadcast(ev)

		case <-r.teardown:
			r.teardown = nil
			if r.closing.Load() {
				r.finish()
			} else {
				r.scheduleRetry(r.retryDelay)
			}

		case <-r.retryC:
			r.retryTimer = nil
			r.retryC = nil
			r.transition(eventRetry)
			r.startConnect()
		}
	}
}

func (r *Room) subscribe(sub Subscriber) error {
	if r.closing.Load() {
		return domain.ErrRoomClosing
	}
	id := sub.ID()
	if _, ok := r.subs[id]; ok {
		return nil
	}

	r.subs[id] = sub
	r.subCount.Store(int32(len(r.subs)))
	r.metrics.SubscriberAdded()
	sub.Attached(r.Ref())

	switch r.State() {
	case StateIdle:
		r.transition(eventConnect)
		r.startConnect()
	case StateLive:
		if frame, err := domain.EncodeConnected(r.id); err == nil {
			if err := sub.Deliver(frame); err != nil {
				r.dropSubscriber(id, sub, err)
				r.closeIfDrained()
			}
		}
	}
	return nil
}

func (r *Room) unsubscribe(id string) bool {
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	r.subCount.Store(int32(len(r.subs)))
	r.metrics.SubscribersRemoved(1)

	r.closeIfDrained()
	return true
}

func (r *Room) closeIfDrained() {
	if len(r.subs) == 0 {
		r.beginClose(nil)
	}
}

func (r *Room) startConnect() {
	src := r.factory.New(r.id)
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ConnectTimeout)
	r.connectCancel = cancel
	r.metrics.ConnectAttempt()

	r.logger.Debug().Int(log.FieldAttempt, r.failures+1).Msg("connecting upstream")

	go func() {
		err := src.Connect(ctx)
		r.results <- connectResult{src: src, err: err}
	}()
}

func (r *Room) handleConnectResult(res connectResult) {
	r.connectCancel()
	r.connectCancel = nil

	if r.closing.Load() {
		if res.err == nil {
			r.upstream = res.src
		}
		r.releaseUpstream()
		return
	}

	if res.err == nil {
		r.upstream = res.src
		r.events = res.src.Events()
		r.failures = 0
		r.attempts.Store(0)
		r.liveSince = time.Now()
		r.relayed = false
		r.transition(eventEstablished)
		r.logger.Info().Int(log.FieldSubscribers, len(r.subs)).Msg("upstream connected")

		if frame, err := domain.EncodeConnected(r.id); err == nil {
			r.deliverAll(frame)
		}
		return
	}

	r.failures++
	r.attempts.Store(int32(r.failures))
	r.metrics.ConnectFailure()
	err := fmt.Errorf("%w: %v", domain.ErrUpstreamConnect, res.err)

	if r.failures >= r.cfg.MaxAttempts {
		// Viewers get the bare sentinel; the dial error stays in the log.
		r.logger.Warn().Err(err).Int(log.FieldAttempt, r.failures).Msg("upstream exhausted, closing room")
		r.beginClose(domain.ErrUpstreamExhausted)
		return
	}

	delay := r.cfg.Backoff.Delay(r.failures + r.dropStreak)
	r.logger.Warn().Err(err).
		Int(log.FieldAttempt, r.failures).
		Dur("retry_in", delay).
		Msg("upstream connect failed")
	r.transition(eventFail)
	r.scheduleRetry(delay)
}

// handleDrop schedules a reconnect after the live upstream went away. Drops
// back to back grow the delay; a connection that relayed an event or stayed
// up for Backoff.Cap starts the streak over.
func (r *Room) handleDrop() {
	r.events = nil
	if r.relayed || time.Since(r.liveSince) >= r.cfg.Backoff.Cap {
		r.dropStreak = 0
	}
	r.dropStreak++
	r.retryDelay = r.cfg.Backoff.Delay(r.dropStreak)
	r.logger.Warn().
		Int("drop_streak", r.dropStreak).
		Dur("retry_in", r.retryDelay).
		Msg("upstream dropped")
	r.transition(eventDrop)
	r.releaseUpstream()
}

// releaseUpstream disconnects the current upstream off the loop. The loop
// picks up again on the teardown channel.
func (r *Room) releaseUpstream() {
	src := r.upstream
	r.upstream = nil
	r.events = nil
	if src == nil {
		if r.closing.Load() {
			r.finish()
		} else {
			r.scheduleRetry(r.retryDelay)
		}
		return
	}

	done := make(chan struct{})
	r.teardown = done
	timeout := r.cfg.DisconnectTimeout
	logger := r.logger
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := src.Disconnect(ctx); err != nil {
			logger.Warn().Err(err).Msg("upstream disconnect failed")
		}
	}()
}

func (r *Room) scheduleRetry(d time.Duration) {
	r.retryTimer = time.NewTimer(d)
	r.retryC = r.retryTimer.C
}

func (r *Room) stopRetry() {
	if r.retryTimer != nil {
		r.retryTimer.Stop()
	}
	r.retryTimer = nil
	r.retryC = nil
}

func (r *Room) broadcast(ev domain.Event) {
	ev = ev.Clone()
	r.backlog.Push(ev)

	frame, err := domain.EncodeEvent(r.id, ev)
	if err != nil {
		r.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to encode event")
		return
	}
	r.metrics.EventRelayed(string(ev.Kind))
	r.relayed = true
	r.deliverAll(frame)
}

// deliverAll hands the same frame to every subscriber. Subscribers that
// cannot take it are dropped; if that empties the room it closes.
func (r *Room) deliverAll(frame []byte) {
	if len(r.subs) == 0 {
		return
	}
	for id, sub := range r.subs {
		if err := sub.Deliver(frame); err != nil {
			r.dropSubscriber(id, sub, err)
		}
	}
	r.closeIfDrained()
}

func (r *Room) dropSubscriber(id string, sub Subscriber, err error) {
	delete(r.subs, id)
	r.subCount.Store(int32(len(r.subs)))
	r.metrics.SubscribersRemoved(1)

	reason := "backpressure"
	cause := domain.ErrSubscriberBackpressure
	if errors.Is(err, domain.ErrTransportClosed) {
		reason = "transport_closed"
		cause = domain.ErrTransportClosed
	}
	r.metrics.SubscriberDropped(reason)
	r.logger.Info().Str(log.FieldClientID, id).Str(log.FieldReason, reason).Msg("dropped subscriber")

	sub.Detached(r.Ref(), cause)
}

func (r *Room) beginClose(cause error) {
	if r.closing.Load() {
		return
	}
	r.closing.Store(true)
	r.transition(eventClose)
	r.stopRetry()

	if cause != nil {
		r.logger.Warn().Err(cause).Int(log.FieldSubscribers, len(r.subs)).Msg("closing room")
	} else {
		r.logger.Info().Msg("closing room")
	}

	r.detachAll(cause)

	switch {
	case r.connectCancel != nil:
		// Finish once the in-flight connect reports back.
		r.connectCancel()
	case r.teardown != nil:
		// Finish once the pending disconnect returns.
	default:
		r.releaseUpstream()
	}
}

func (r *Room) detachAll(cause error) {
	if len(r.subs) == 0 {
		return
	}
	if cause == nil {
		cause = domain.ErrRoomClosing
	}

	frame, err := domain.EncodeError(r.id, cause)
	if err != nil {
		frame = nil
	}
	ref := r.Ref()
	n := len(r.subs)
	for id, sub := range r.subs {
		if frame != nil {
			_ = sub.Deliver(frame)
		}
		sub.Detached(ref, cause)
		delete(r.subs, id)
	}
	r.subCount.Store(0)
	r.metrics.SubscribersRemoved(n)
}

func (r *Room) finish() {
	r.transition(eventFinish)
	r.finished = true
	r.logger.Info().Msg("room closed")
	if r.onClosed != nil {
		r.onClosed(r)
	}
}

func (r *Room) transition(event string) {
	if err := r.machine.Event(context.Background(), event); err != nil {
		r.logger.Error().Err(err).Str("event", event).Str(log.FieldState, r.machine.Current()).Msg("invalid room transition")
	}
}

func (r *Room) entered(from, to State) {
	r.metrics.Transition(string(to))
	r.logger.Debug().Str(log.FieldFromState, string(from)).Str(log.FieldState, string(to)).Msg("room state changed")
}
