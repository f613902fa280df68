package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
	"github.com/nerrad567/linkpulse/internal/infrastructure/logging"
)

// Hub tracks live-feed clients and the channels each one watches. Clients
// are indexed by channel so a click reaches only the watchers of its link.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	clients  map[*WSClient]map[string]struct{}
	channels map[string]map[*WSClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[*WSClient]map[string]struct{}),
		channels: make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client with no subscriptions.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = make(map[string]struct{})
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", c.identity.ID, "clients", n)
}

// Unregister removes a client and all its subscriptions. Only the call that
// actually removes the client closes its send channel.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	subs, existed := h.clients[c]
	if existed {
		for ch := range subs {
			h.dropLocked(c, ch)
		}
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "user_id", c.identity.ID, "clients", n)
	}
}

// Subscribe adds channels to a registered client.
func (h *Hub) Subscribe(c *WSClient, channels ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clients[c]
	if !ok {
		return
	}
	for _, ch := range channels {
		subs[ch] = struct{}{}
		watchers := h.channels[ch]
		if watchers == nil {
			watchers = make(map[*WSClient]struct{})
			h.channels[ch] = watchers
		}
		watchers[c] = struct{}{}
	}
}

// Unsubscribe removes channels from a client.
func (h *Hub) Unsubscribe(c *WSClient, channels ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clients[c]
	if !ok {
		return
	}
	for _, ch := range channels {
		delete(subs, ch)
		h.dropLocked(c, ch)
	}
}

// dropLocked removes c from a channel's watchers. h.mu must be held.
func (h *Hub) dropLocked(c *WSClient, ch string) {
	watchers := h.channels[ch]
	delete(watchers, c)
	if len(watchers) == 0 {
		delete(h.channels, ch)
	}
}

// Broadcast sends an event to every client watching channel. Slow clients
// whose buffers are full miss the event.
func (h *Hub) Broadcast(channel, eventType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	watchers := make([]*WSClient, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		watchers = append(watchers, c)
	}
	h.mu.RUnlock()

	for _, c := range watchers {
		c.trySend(data)
	}
	if len(watchers) > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", len(watchers))
	}
}

// IsSubscribed reports whether c watches channel.
func (h *Hub) IsSubscribed(c *WSClient, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c][channel]
	return ok
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ChannelCount returns the number of channels with at least one watcher.
func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// closeAll disconnects every client so their write pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
	h.clients = make(map[*WSClient]map[string]struct{})
	h.channels = make(map[string]map[*WSClient]struct{})
}
