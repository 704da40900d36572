package hub

import (
	"sync"

	"github.com/weiawesome/wes-io-live/live-relay/internal/config"
	"github.com/weiawesome/wes-io-live/live-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
)

// Hub tracks the open viewer connections of this node. Room membership lives
// in the relay registry; the hub only owns connection lifetimes.
type Hub struct {
	clients    map[string]*Client // clientID -> client
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	config     config.WebSocketConfig
	metrics    *metrics.Metrics
}

func NewHub(cfg config.WebSocketConfig, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		config:     cfg,
		metrics:    m,
	}
}

// Config returns the websocket settings clients of this hub use.
func (h *Hub) Config() config.WebSocketConfig {
	return h.config
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID()] = client
			h.mu.Unlock()
			h.metrics.ClientConnected()
			l := log.L()
			l.Debug().Str(log.FieldClientID, client.ID()).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID()]
			delete(h.clients, client.ID())
			h.mu.Unlock()
			client.Close()
			if ok {
				h.metrics.ClientDisconnected()
				l := log.L()
				l.Debug().Str(log.FieldClientID, client.ID()).Msg("client unregistered")
			}

		case <-h.quit:
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			for _, client := range clients {
				client.Close()
				h.metrics.ClientDisconnected()
			}
			l := log.L()
			l.Info().Int("clients", len(clients)).Msg("hub stopped")
			return
		}
	}
}

// Register adds client to the hub. After Stop the client is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		client.Close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
		client.Close()
	}
}

// Stop closes every client and ends Run. It waits for Run to return.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
