package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
	"github.com/nerrad567/linkpulse/internal/infrastructure/mqtt"
	"github.com/nerrad567/linkpulse/internal/link"
)

// Message types exchanged with live-feed clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// EventLinkClicked is the event type of a relayed click.
	EventLinkClicked = "link.clicked"
)

const (
	// linkChannelPrefix prefixes the per-link channel name: link:<id>.
	linkChannelPrefix = "link:"

	wsSendBufferSize = 256

	// channelCheckTimeout bounds the access check made per requested channel.
	channelCheckTimeout = 5 * time.Second
)

// WSMessage is the envelope of every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// ChannelAuthorizer decides whether a client may subscribe to a channel.
type ChannelAuthorizer func(ctx context.Context, identity auth.Identity, channel string) error

// WSClient is one live-feed connection. Its subscriptions live in the hub.
type WSClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	identity  auth.Identity
	authorize ChannelAuthorizer
}

func newWSClient(hub *Hub, conn *websocket.Conn, identity auth.Identity, authorize ChannelAuthorizer) *WSClient {
	return &WSClient{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		identity:  identity,
		authorize: authorize,
	}
}

// checkWebSocketOrigin admits clients that send no Origin (non-browser
// callers), same-host pages and the origins listed for CORS.
func (s *Server) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.isAllowedOrigin(origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// linkChannel returns the channel carrying clicks on link id.
func linkChannel(linkID string) string {
	return linkChannelPrefix + linkID
}

// subscribeClickFeed relays click events published by any instance to the
// clients watching the clicked link. Without MQTT the feed stays silent.
func (s *Server) subscribeClickFeed() error {
	if s.mqtt == nil {
		return nil
	}
	topic := mqtt.Topics{}.AllLinkClicks()
	s.logger.Info("relaying click events to live feed", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, s.relayClick)
}

// relayClick broadcasts one MQTT click message to the link's channel.
// Malformed messages are logged and dropped.
func (s *Server) relayClick(topic string, payload []byte) error {
	linkID, ok := mqtt.LinkIDFromClickTopic(topic)
	if !ok {
		s.logger.Warn("ignoring click on unexpected topic", "topic", topic)
		return nil
	}

	var event link.ClickEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn("dropping unparseable click event", "topic", topic, "error", err)
		return nil
	}
	if event.LinkID == "" {
		event.LinkID = linkID
	}

	s.hub.Broadcast(linkChannel(linkID), EventLinkClicked, event)
	return nil
}

// authorizeChannel admits link:<id> channels for callers who may read the link.
func (s *Server) authorizeChannel(ctx context.Context, identity auth.Identity, channel string) error {
	linkID, ok := strings.CutPrefix(channel, linkChannelPrefix)
	if !ok || linkID == "" {
		return link.ErrLinkNotFound
	}
	if err := auth.Authorize(&identity, auth.PermLinkRead); err != nil {
		return err
	}
	return s.links.CheckAccess(ctx, identity, linkID)
}

// handleWebSocket upgrades a request carrying a ticket from
// POST /auth/ws-ticket. Each ticket opens one connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	identity, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn, identity, s.authorizeChannel)
	s.hub.Register(c)
	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

// keepalive returns how long a connection may stay silent.
func keepalive(cfg config.WebSocketConfig) time.Duration {
	return time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
}

// readPump dispatches inbound frames until the connection fails.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	idle := keepalive(cfg)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user_id", c.identity.ID, "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings stay alive by sending frames.
		_ = extend()
		c.handleMessage(data)
	}
}

// writePump drains the send buffer and pings on an interval. It exits when
// the hub closes the buffer or a write fails.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, open := <-c.send:
			if !open {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// parseChannels reads the channel list of a subscribe or unsubscribe payload.
func parseChannels(payload any) ([]string, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, false
	}
	return sub.Channels, true
}

// handleSubscribe subscribes to the channels the client may read and
// reports the rest as rejected.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, ok := parseChannels(msg.Payload)
	if !ok {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	accepted := make([]string, 0, len(channels))
	rejected := make([]string, 0)
	for _, ch := range channels {
		if c.mayWatch(ch) {
			accepted = append(accepted, ch)
		} else {
			rejected = append(rejected, ch)
		}
	}
	c.hub.Subscribe(c, accepted...)

	c.hub.logger.Debug("websocket client subscribed",
		"user_id", c.identity.ID,
		"channels", accepted,
		"rejected", len(rejected),
	)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": accepted,
		"rejected":   rejected,
	})
}

func (c *WSClient) mayWatch(channel string) bool {
	if c.authorize == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), channelCheckTimeout)
	defer cancel()
	return c.authorize(ctx, c.identity, channel) == nil
}

func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, ok := parseChannels(msg.Payload)
	if !ok {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}
	c.hub.Unsubscribe(c, channels...)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

// trySend queues data without blocking. Frames for a full buffer are
// dropped, and a buffer closed mid-broadcast is tolerated.
func (c *WSClient) trySend(data []byte) {
	defer func() { _ = recover() }()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
