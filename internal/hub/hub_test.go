package hub

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/live-relay/internal/config"
	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/internal/metrics"
)

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBufferSize: 2,
	}
}

func startHub(t *testing.T) (*Hub, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := NewHub(testConfig(), metrics.MustNew(reg))
	go h.Run()
	t.Cleanup(h.Stop)
	return h, reg
}

func closedSend(t *testing.T, c *Client) {
	t.Helper()
	assert.ErrorIs(t, c.Deliver([]byte("x")), domain.ErrTransportClosed)
}

func TestHubRegisterUnregister(t *testing.T) {
	h, reg := startHub(t)
	c := NewClient("c1", h, nil, h.Config())

	h.Register(c)
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Unregister(c)
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	// A second unregister is harmless and waits out the first.
	h.Unregister(c)
	closedSend(t, c)

	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP live_relay_websocket_clients Open downstream websocket connections.
# TYPE live_relay_websocket_clients gauge
live_relay_websocket_clients 0
`), "live_relay_websocket_clients"))
}

func TestHubStopClosesClients(t *testing.T) {
	h, _ := startHub(t)
	a := NewClient("a", h, nil, h.Config())
	b := NewClient("b", h, nil, h.Config())
	h.Register(a)
	h.Register(b)

	h.Stop()
	assert.Equal(t, 0, h.ClientCount())
	closedSend(t, a)
	closedSend(t, b)

	late := NewClient("late", h, nil, h.Config())
	h.Register(late)
	closedSend(t, late)
	h.Unregister(late)
}

func TestClientDeliverBackpressure(t *testing.T) {
	c := NewClient("c1", nil, nil, testConfig())

	require.NoError(t, c.Deliver([]byte("1")))
	require.NoError(t, c.Deliver([]byte("2")))
	assert.ErrorIs(t, c.Deliver([]byte("3")), domain.ErrSubscriberBackpressure)

	assert.Equal(t, []byte("1"), <-c.send)
	require.NoError(t, c.Deliver([]byte("3")))
}

func TestClientSendMessageDropsWhenFull(t *testing.T) {
	c := NewClient("c1", nil, nil, testConfig())
	for i := 0; i < 3; i++ {
		assert.NoError(t, c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "nope")))
	}
	assert.Len(t, c.send, 2)

	c.Close()
	assert.ErrorIs(t, c.SendMessage(map[string]string{"type": "x"}), domain.ErrTransportClosed)
}

func TestClientAttachDetach(t *testing.T) {
	c := NewClient("c1", nil, nil, testConfig())
	first := domain.RoomRef{ID: "alice", Instance: "one"}
	second := domain.RoomRef{ID: "alice", Instance: "two"}

	c.Attached(first)
	assert.Equal(t, first, c.Session.CurrentRoom())

	c.Attached(second)
	c.Detached(first, domain.ErrUpstreamExhausted)
	assert.Equal(t, second, c.Session.CurrentRoom(), "stale detach keeps the newer room")

	c.Detached(second, domain.ErrUpstreamExhausted)
	assert.True(t, c.Session.CurrentRoom().IsZero())
	require.NoError(t, c.Deliver([]byte("still open")))
}

func TestClientDetachedForBackpressureCloses(t *testing.T) {
	c := NewClient("c1", nil, nil, testConfig())
	ref := domain.RoomRef{ID: "alice", Instance: "one"}
	c.Attached(ref)

	c.Detached(ref, domain.ErrSubscriberBackpressure)
	assert.True(t, c.Session.CurrentRoom().IsZero())
	closedSend(t, c)
	c.Close()
}
