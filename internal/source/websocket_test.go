package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
)

func TestDecodeUpstream(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		kind    domain.EventKind
		actor   string
		payload string
	}{
		{"member is join", `{"event":"member","data":{"nickname":"bob"}}`, domain.KindJoin, "bob", ""},
		{"flat layout", `{"type":"follow","uniqueId":"carol"}`, domain.KindFollow, "carol", ""},
		{"like count", `{"event":"like","data":{"nickname":"bob","likeCount":7}}`, domain.KindLike, "bob", `{"like_count":7}`},
		{"like defaults to one", `{"event":"like","data":{"username":"bob"}}`, domain.KindLike, "bob", `{"like_count":1}`},
		{"chat", `{"event":"chat","data":{"nickname":"dave","comment":"hi"}}`, domain.KindChat, "dave", `{"comment":"hi"}`},
		{"gift", `{"event":"gift","data":{"nickname":"erin","giftId":5655,"giftName":"Rose","repeatCount":3}}`, domain.KindGift, "erin", `{"gift_id":5655,"gift_name":"Rose","repeat_count":3}`},
		{"nickname wins", `{"event":"share","data":{"nickname":"Nick","uniqueId":"nick_1"}}`, domain.KindShare, "Nick", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeUpstream([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.actor, ev.Actor)
			if tt.payload == "" {
				assert.Empty(t, ev.Payload)
			} else {
				assert.JSONEq(t, tt.payload, string(ev.Payload))
			}
		})
	}
}

func TestDecodeUpstreamRejects(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{"event":"roomUser","data":{"viewerCount":10}}`,
		`{"event":"like","data":{}}`,
	} {
		_, err := decodeUpstream([]byte(frame))
		assert.Error(t, err, frame)
	}

	_, err := decodeUpstream([]byte(`{"event":"streamEnd"}`))
	assert.ErrorIs(t, err, errStreamEnded)
}

func TestDecodeUpstreamKeepsTimestamp(t *testing.T) {
	ev, err := decodeUpstream([]byte(`{"event":"follow","data":{"nickname":"bob","timestamp":1700000000123}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), ev.Timestamp)
}

func TestWebSocketSourceEndpoint(t *testing.T) {
	s := NewWebSocketSource("al ice", Config{URL: "ws://bridge/live/%s/events"})
	assert.Equal(t, "ws://bridge/live/al%20ice/events", s.Endpoint())

	s = NewWebSocketSource("alice", Config{URL: "ws://bridge/live/"})
	assert.Equal(t, "ws://bridge/live/alice", s.Endpoint())
}

// bridge is a fake webcast bridge that sends frames then waits.
func bridge(t *testing.T, frames []string, closeAfter bool) (*httptest.Server, chan string) {
	t.Helper()
	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		paths <- r.URL.Path

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if closeAfter {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, paths
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/live/%s"
}

func TestWebSocketSourceRelaysFrames(t *testing.T) {
	frames := []string{
		`{"event":"member","data":{"nickname":"bob"}}`,
		`{"event":"roomUser","data":{"viewerCount":3}}`,
		`{"event":"chat","data":{"nickname":"carol","comment":"hey"}}`,
	}
	srv, paths := bridge(t, frames, false)

	src := NewWebSocketSource("alice", Config{URL: wsURL(srv), HandshakeTimeout: time.Second})
	ctx := context.Background()
	require.NoError(t, src.Connect(ctx))
	assert.Equal(t, "/live/alice", <-paths)

	var got []domain.Event
	for len(got) < 2 {
		select {
		case ev, ok := <-src.Events():
			require.True(t, ok)
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for upstream events")
		}
	}
	assert.Equal(t, domain.KindJoin, got[0].Kind)
	assert.Equal(t, domain.KindChat, got[1].Kind)

	var chat domain.ChatPayload
	require.NoError(t, json.Unmarshal(got[1].Payload, &chat))
	assert.Equal(t, "hey", chat.Comment)

	require.NoError(t, src.Disconnect(ctx))
	_, open := <-src.Events()
	assert.False(t, open)
}

func TestWebSocketSourceClosesEventsWhenBridgeHangsUp(t *testing.T) {
	srv, _ := bridge(t, []string{`{"event":"like","data":{"nickname":"bob"}}`}, true)

	src := NewWebSocketSource("alice", Config{URL: wsURL(srv)})
	require.NoError(t, src.Connect(context.Background()))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-src.Events():
			if !ok {
				assert.NoError(t, src.Disconnect(context.Background()))
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}

func TestWebSocketSourceStreamEnd(t *testing.T) {
	srv, _ := bridge(t, []string{`{"event":"streamEnd"}`}, false)

	src := NewWebSocketSource("alice", Config{URL: wsURL(srv)})
	require.NoError(t, src.Connect(context.Background()))

	select {
	case _, ok := <-src.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream end did not close events")
	}
	assert.NoError(t, src.Disconnect(context.Background()))
}

func TestWebSocketSourceDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := NewWebSocketSource("alice", Config{URL: wsURL(srv)})
	err := src.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NoError(t, src.Disconnect(context.Background()))
}
