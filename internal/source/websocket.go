package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/live-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
)

// upstreamFrame is one message from a webcast bridge. Bridges disagree on
// whether the event name is "event" or "type" and whether fields are nested
// under "data", so both layouts are accepted.
type upstreamFrame struct {
	Event string          `json:"event"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	upstreamData
}

type upstreamData struct {
	Nickname    string `json:"nickname"`
	UniqueID    string `json:"uniqueId"`
	Username    string `json:"username"`
	Comment     string `json:"comment"`
	GiftID      int    `json:"giftId"`
	GiftName    string `json:"giftName"`
	RepeatCount int    `json:"repeatCount"`
	LikeCount   int    `json:"likeCount"`
	Timestamp   int64  `json:"timestamp"`
}

func (d upstreamData) actor() string {
	switch {
	case d.Nickname != "":
		return d.Nickname
	case d.UniqueID != "":
		return d.UniqueID
	default:
		return d.Username
	}
}

// Upstream event names; member is the webcast name for a viewer joining.
var upstreamKinds = map[string]domain.EventKind{
	"member": domain.KindJoin,
	"join":   domain.KindJoin,
	"like":   domain.KindLike,
	"follow": domain.KindFollow,
	"share":  domain.KindShare,
	"chat":   domain.KindChat,
	"gift":   domain.KindGift,
}

// Upstream event names that end the session.
var upstreamEnds = map[string]bool{
	"streamEnd":    true,
	"disconnected": true,
}

var errStreamEnded = errors.New("stream ended")

// WebSocketSource reads a broadcaster's events from a webcast bridge over a
// websocket.
type WebSocketSource struct {
	id  domain.BroadcasterID
	cfg Config

	conn      *websocket.Conn
	events    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketSource(id domain.BroadcasterID, cfg Config) *WebSocketSource {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	return &WebSocketSource{
		id:     id,
		cfg:    cfg,
		events: make(chan domain.Event, cfg.EventBuffer),
		done:   make(chan struct{}),
	}
}

// Endpoint returns the bridge URL for the broadcaster.
func (s *WebSocketSource) Endpoint() string {
	escaped := url.PathEscape(string(s.id))
	if strings.Contains(s.cfg.URL, "%s") {
		return fmt.Sprintf(s.cfg.URL, escaped)
	}
	return strings.TrimRight(s.cfg.URL, "/") + "/" + escaped
}

func (s *WebSocketSource) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, s.Endpoint(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial upstream %s: %w (status %d)", s.id, err, resp.StatusCode)
		}
		return fmt.Errorf("dial upstream %s: %w", s.id, err)
	}
	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}
	s.conn = conn

	go s.readPump()

	l := log.L()
	l.Info().Str(log.FieldRoomID, string(s.id)).Msg("upstream websocket connected")
	return nil
}

func (s *WebSocketSource) Events() <-chan domain.Event { return s.events }

func (s *WebSocketSource) Disconnect(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (s *WebSocketSource) readPump() {
	defer close(s.done)
	defer close(s.events)

	logger := log.L().With().Str(log.FieldRoomID, string(s.id)).Logger()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("upstream websocket closed unexpectedly")
			}
			return
		}

		ev, err := decodeUpstream(message)
		if errors.Is(err, errStreamEnded) {
			logger.Info().Msg("upstream stream ended")
			return
		}
		if err != nil {
			logger.Debug().Err(err).Msg("skipping upstream frame")
			continue
		}

		select {
		case s.events <- ev:
		default:
			logger.Warn().Str("kind", string(ev.Kind)).Msg("upstream event buffer full, dropping event")
		}
	}
}

// decodeUpstream maps a bridge frame to an Event.
func decodeUpstream(message []byte) (domain.Event, error) {
	var frame upstreamFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return domain.Event{}, fmt.Errorf("decode upstream frame: %w", err)
	}

	name := frame.Event
	if name == "" {
		name = frame.Type
	}
	if upstreamEnds[name] {
		return domain.Event{}, errStreamEnded
	}
	kind, ok := upstreamKinds[name]
	if !ok {
		return domain.Event{}, fmt.Errorf("unsupported upstream event %q", name)
	}

	data := frame.upstreamData
	if len(frame.Data) > 0 && string(frame.Data) != "null" {
		data = upstreamData{}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return domain.Event{}, fmt.Errorf("decode upstream %s data: %w", name, err)
		}
	}

	actor := data.actor()
	if actor == "" {
		return domain.Event{}, fmt.Errorf("upstream %s event has no actor", name)
	}

	ts := time.Now()
	if data.Timestamp > 0 {
		ts = time.UnixMilli(data.Timestamp)
	}

	var payload any
	switch kind {
	case domain.KindChat:
		payload = domain.ChatPayload{Comment: data.Comment}
	case domain.KindGift:
		repeat := data.RepeatCount
		if repeat < 1 {
			repeat = 1
		}
		payload = domain.GiftPayload{GiftID: data.GiftID, GiftName: data.GiftName, RepeatCount: repeat}
	case domain.KindLike:
		count := data.LikeCount
		if count < 1 {
			count = 1
		}
		payload = domain.LikePayload{LikeCount: count}
	}
	return domain.NewEvent(kind, actor, payload, ts)
}
