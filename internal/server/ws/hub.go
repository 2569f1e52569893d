// Package ws streams rendered ladder views and order events to browser
// clients over WebSocket.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	outboundSize   = 1024

	// ViewChannelPrefix prefixes the per-widget view channel.
	ViewChannelPrefix = "ladder:view:"
	// OrdersChannel carries order action events.
	OrdersChannel = "ladder:orders"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Envelope is the frame sent to clients and carried on the bus.
type Envelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type broadcastMsg struct {
	channel string
	data    []byte
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is sent by clients to change subscriptions, e.g.
// {"action":"subscribe","channels":["ladder:view:3f2a..."]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub fans rendered views out to WebSocket clients. With a SignalBus the
// views travel through Redis so every API node serves every widget;
// without one they are delivered in-process.
type Hub struct {
	clients    map[*client]bool
	latest     map[string][]byte // channel -> last frame, replayed on connect
	broadcast  chan broadcastMsg
	outbound   chan broadcastMsg
	register   chan *client
	unregister chan *client
	forget     chan string
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub. bus may be nil.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		latest:     make(map[string][]byte),
		broadcast:  make(chan broadcastMsg, 256),
		outbound:   make(chan broadcastMsg, outboundSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		forget:     make(chan string, 16),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// ViewChannel returns the channel name for a widget guid.
func ViewChannel(guid string) string {
	return ViewChannelPrefix + guid
}

// Publish implements the session's view sink. It never blocks the caller;
// when the outbound buffer is full the view is dropped and the next one
// supersedes it.
func (h *Hub) Publish(view domain.LadderView) {
	data, err := encodeEnvelope(ViewChannel(view.GUID), "view", view)
	if err != nil {
		h.logger.Error("ws: encode view failed",
			slog.String("guid", view.GUID),
			slog.String("error", err.Error()),
		)
		return
	}
	msg := broadcastMsg{channel: ViewChannel(view.GUID), data: data}

	target := h.broadcast
	if h.bus != nil {
		target = h.outbound
	}
	select {
	case target <- msg:
	default:
		h.logger.Warn("ws: view dropped, hub busy", slog.String("guid", view.GUID))
	}
}

// Forget drops the replay frame of a closed widget.
func (h *Hub) Forget(guid string) {
	select {
	case h.forget <- ViewChannel(guid):
	default:
	}
}

// Run drives the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.publishPump(ctx)
		go h.subscribe(ctx, ViewChannelPrefix+"*", "")
		go h.subscribe(ctx, OrdersChannel, "order_event")
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.replay(c)
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case ch := <-h.forget:
			delete(h.latest, ch)

		case msg := <-h.broadcast:
			if strings.HasPrefix(msg.channel, ViewChannelPrefix) {
				h.latest[msg.channel] = msg.data
			}
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					c.deliver(msg.data)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) replay(c *client) {
	for ch, data := range h.latest {
		if c.isSubscribed(ch) {
			c.deliver(data)
		}
	}
}

func (h *Hub) publishPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.outbound:
			if err := h.bus.Publish(ctx, msg.channel, msg.data); err != nil {
				h.logger.Warn("ws: bus publish failed",
					slog.String("channel", msg.channel),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// subscribe forwards bus messages into the hub. Payloads that are not
// envelopes are wrapped as msgType on channel.
func (h *Hub) subscribe(ctx context.Context, channel, msgType string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			msg, err := h.route(channel, msgType, data)
			if err != nil {
				h.logger.Warn("ws: malformed bus message",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) route(channel, msgType string, data []byte) (broadcastMsg, error) {
	if msgType == "" {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return broadcastMsg{}, err
		}
		return broadcastMsg{channel: env.Channel, data: data}, nil
	}
	wrapped, err := json.Marshal(Envelope{Channel: channel, Type: msgType, Payload: data})
	if err != nil {
		return broadcastMsg{}, err
	}
	return broadcastMsg{channel: channel, data: wrapped}, nil
}

func encodeEnvelope(channel, msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Channel: channel, Type: msgType, Payload: raw})
}

// HandleWS upgrades the request and registers the client. Clients start
// subscribed to the guids listed in ?guid=a,b or to every view and the
// order events when none are given.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: initialSubs(r.URL.Query().Get("guid")),
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

func initialSubs(guids string) map[string]bool {
	subs := make(map[string]bool)
	for _, g := range strings.Split(guids, ",") {
		if g = strings.TrimSpace(g); g != "" {
			subs[ViewChannel(g)] = true
		}
	}
	if len(subs) == 0 {
		subs[ViewChannelPrefix+"*"] = true
		subs[OrdersChannel] = true
	}
	return subs
}

func (c *client) deliver(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("ws: dropping message for slow client")
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// isSubscribed matches exact channels and trailing-* prefixes.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
