package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "live_relay"

// Metrics exposes Prometheus collectors that report relay activity. All
// methods are safe on a nil receiver so tests and tools can skip metrics.
type Metrics struct {
	roomsActive        prometheus.Gauge
	subscribers        prometheus.Gauge
	clients            prometheus.Gauge
	eventsRelayed      *prometheus.CounterVec
	connectAttempts    prometheus.Counter
	connectFailures    prometheus.Counter
	subscribersDropped *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	mirrorFailures     prometheus.Counter
}

// MustNew constructs Metrics registered with reg. Registration errors other
// than an identical collector already being present panic.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms currently held by the registry.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Subscribers currently attached to a room.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Open downstream websocket connections.",
		}),
		eventsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Upstream events broadcast to subscribers, by kind.",
		}, []string{"kind"}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connect_attempts_total",
			Help:      "Upstream connect attempts started.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connect_failures_total",
			Help:      "Upstream connect attempts that failed.",
		}),
		subscribersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers removed by a room rather than by leaving, by reason.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_transitions_total",
			Help:      "Room state machine transitions, by destination state.",
		}, []string{"state"}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_publish_failures_total",
			Help:      "Events the cluster owner failed to publish for follower relays.",
		}),
	}

	m.roomsActive = register(reg, m.roomsActive)
	m.subscribers = register(reg, m.subscribers)
	m.clients = register(reg, m.clients)
	m.eventsRelayed = register(reg, m.eventsRelayed)
	m.connectAttempts = register(reg, m.connectAttempts)
	m.connectFailures = register(reg, m.connectFailures)
	m.subscribersDropped = register(reg, m.subscribersDropped)
	m.transitions = register(reg, m.transitions)
	m.mirrorFailures = register(reg, m.mirrorFailures)

	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.roomsActive.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.roomsActive.Dec()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscribersRemoved(n int) {
	if m == nil || n == 0 {
		return
	}
	m.subscribers.Sub(float64(n))
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.clients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.clients.Dec()
}

// EventRelayed counts one broadcast pass for an event of the given kind.
func (m *Metrics) EventRelayed(kind string) {
	if m == nil {
		return
	}
	m.eventsRelayed.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) ConnectFailure() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

// SubscriberDropped counts a subscriber removed by its room.
func (m *Metrics) SubscriberDropped(reason string) {
	if m == nil {
		return
	}
	m.subscribersDropped.WithLabelValues(reason).Inc()
}

// Transition counts a room entering state.
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) MirrorFailure() {
	if m == nil {
		return
	}
	m.mirrorFailures.Inc()
}
