package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
	"github.com/nerrad567/linkpulse/internal/infrastructure/logging"
	"github.com/nerrad567/linkpulse/internal/infrastructure/mqtt"
	"github.com/nerrad567/linkpulse/internal/link"
)

// newTestClient registers a connectionless client on hub.
func newTestClient(hub *Hub, identity auth.Identity, authorize ChannelAuthorizer) *WSClient {
	c := newWSClient(hub, nil, identity, authorize)
	hub.Register(c)
	return c
}

func readMessage(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return WSMessage{}
	}
}

func assertNoMessage(t *testing.T, c *WSClient) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message %s", data)
	default:
	}
}

func TestHub_BroadcastOnlyToSubscribers(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	watching := newTestClient(hub, auth.Identity{ID: "u1"}, nil)
	idle := newTestClient(hub, auth.Identity{ID: "u2"}, nil)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount() = %d, want 2", got)
	}

	watching.handleSubscribe(WSMessage{ID: "1", Payload: WSSubscribePayload{Channels: []string{"link:abc"}}})
	readMessage(t, watching)

	if !hub.IsSubscribed(watching, "link:abc") || hub.ChannelCount() != 1 {
		t.Fatalf("subscription not indexed: channels = %d", hub.ChannelCount())
	}
	hub.Broadcast("link:abc", EventLinkClicked, map[string]int{"clickCount": 3})

	msg := readMessage(t, watching)
	if msg.Type != WSTypeEvent || msg.EventType != EventLinkClicked || msg.Channel != "link:abc" {
		t.Errorf("message = %+v", msg)
	}
	assertNoMessage(t, idle)

	watching.handleUnsubscribe(WSMessage{ID: "2", Payload: WSSubscribePayload{Channels: []string{"link:abc"}}})
	readMessage(t, watching)
	hub.Broadcast("link:abc", EventLinkClicked, nil)
	assertNoMessage(t, watching)
	if got := hub.ChannelCount(); got != 0 {
		t.Errorf("ChannelCount() after unsubscribe = %d, want 0", got)
	}

	hub.Unregister(idle)
	hub.Unregister(idle)
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() after unregister = %d, want 1", got)
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := newTestClient(hub, auth.Identity{ID: "u1"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	// A late broadcast to a closed client must not panic.
	c.trySend([]byte("late"))
}

func TestClient_Messages(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := newTestClient(hub, auth.Identity{ID: "u1"}, nil)

	tests := []struct {
		name     string
		input    string
		wantType string
	}{
		{"ping", `{"type":"ping","id":"p1"}`, WSTypePong},
		{"invalid json", `{`, WSTypeError},
		{"unknown type", `{"type":"dance"}`, WSTypeError},
		{"bad subscribe payload", `{"type":"subscribe","payload":{"channels":"link:x"}}`, WSTypeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.handleMessage([]byte(tt.input))
			if msg := readMessage(t, c); msg.Type != tt.wantType {
				t.Errorf("type = %q, want %q", msg.Type, tt.wantType)
			}
		})
	}
}

func TestSubscribe_ChecksLinkAccess(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	owner := env.createUser(t, "owner@example.com", auth.RoleViewer, nil, 1)
	stranger := env.createUser(t, "stranger@example.com", auth.RoleViewer, nil, 0)
	created := env.createLink(t, env.login(t, "owner@example.com"))

	channels := []string{linkChannel(created.LinkID), "link:missing", "devices"}

	tests := []struct {
		name         string
		identity     auth.Identity
		wantAccepted int
	}{
		{"owner", owner.Identity(), 1},
		{"stranger", stranger.Identity(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(env.srv.hub, tt.identity, env.srv.authorizeChannel)
			c.handleSubscribe(WSMessage{ID: "s", Payload: WSSubscribePayload{Channels: channels}})

			msg := readMessage(t, c)
			payload, _ := msg.Payload.(map[string]any)
			subscribed, _ := payload["subscribed"].([]any)
			rejected, _ := payload["rejected"].([]any)
			if len(subscribed) != tt.wantAccepted {
				t.Errorf("subscribed = %v, want %d channels", subscribed, tt.wantAccepted)
			}
			if len(subscribed)+len(rejected) != len(channels) {
				t.Errorf("subscribed %v + rejected %v do not cover %v", subscribed, rejected, channels)
			}
		})
	}
}

func TestRelayClick(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	c := newTestClient(env.srv.hub, auth.Identity{ID: "u1"}, nil)
	c.handleSubscribe(WSMessage{Payload: WSSubscribePayload{Channels: []string{linkChannel("abc")}}})
	readMessage(t, c)

	topic := mqtt.Topics{}.LinkClicks("abc")
	if err := env.srv.relayClick(topic, []byte(`{"clickCount":4,"country":"India"}`)); err != nil {
		t.Fatalf("relayClick: %v", err)
	}
	msg := readMessage(t, c)
	payload, _ := msg.Payload.(map[string]any)
	if payload["linkId"] != "abc" || payload["clickCount"] != float64(4) {
		t.Errorf("payload = %v", payload)
	}

	// Malformed messages and foreign topics are dropped without error.
	if err := env.srv.relayClick(topic, []byte("not json")); err != nil {
		t.Errorf("relayClick(malformed) = %v", err)
	}
	if err := env.srv.relayClick("linkpulse/system/status", []byte(`{}`)); err != nil {
		t.Errorf("relayClick(foreign topic) = %v", err)
	}
	assertNoMessage(t, c)
}

func TestWebSocket_TicketRequired(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})

	for _, path := range []string{"/ws", "/ws?ticket=forged"} {
		w := env.do(t, http.MethodGet, path, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestWebSocket_LiveClicks(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	env.createUser(t, "owner@example.com", auth.RoleViewer, nil, 1)
	cookies := env.login(t, "owner@example.com")
	created := env.createLink(t, cookies)

	w := env.do(t, http.MethodPost, "/auth/ws-ticket", "", cookies...)
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	decodeBody(t, w, &ticket)

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?ticket=" + ticket.Ticket
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{linkChannel(created.LinkID)}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	event := link.ClickEvent{LinkID: created.LinkID, ClickCount: 1, Country: "India"}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := env.srv.relayClick(mqtt.Topics{}.LinkClicks(created.LinkID), payload); err != nil {
		t.Fatalf("relayClick: %v", err)
	}

	var got WSMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.EventType != EventLinkClicked || got.Channel != linkChannel(created.LinkID) {
		t.Errorf("event = %+v", got)
	}

	// Tickets are single-use.
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("second dial with the same ticket should fail")
	}
}

func TestCheckWebSocketOrigin(t *testing.T) {
	srv := &Server{cfg: config.APIConfig{CORS: config.CORSConfig{
		AllowedOrigins: []string{"https://app.example.com", "*"},
	}}}

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin", "", true},
		{"listed origin", "https://app.example.com", true},
		{"same host", "https://api.example.com", true},
		{"foreign origin", "https://evil.example.com", false},
		{"malformed origin", "://", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "https://api.example.com/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := srv.checkWebSocketOrigin(req); got != tt.want {
				t.Errorf("checkWebSocketOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, config.AppConfig{})
	env.srv.cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
	env.createUser(t, "origin@example.com", auth.RoleViewer, nil, 1)
	cookies := env.login(t, "origin@example.com")

	w := env.do(t, http.MethodPost, "/auth/ws-ticket", "", cookies...)
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	decodeBody(t, w, &ticket)

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?ticket=" + ticket.Ticket
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("dial from a foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}
