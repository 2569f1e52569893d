package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// FrameHandler receives the data payload of every frame for one
// subscription. It runs on the read goroutine and must not block.
type FrameHandler func(data json.RawMessage)

type wsSubscription struct {
	req     WSRequest
	handler FrameHandler
}

// WSClient is a WebSocket client for the terminal's real-time data API. It
// multiplexes any number of subscriptions over one connection, each
// identified by its guid, and restores all of them after a reconnect.
type WSClient struct {
	wsURL  string
	token  string
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	subs      map[string]wsSubscription

	// gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex

	hookMu       sync.RWMutex
	onDisconnect []func(error)
	onReconnect  []func()

	done chan struct{}
}

// NewWSClient creates a new WebSocket client. token is sent with every
// subscription request.
func NewWSClient(wsURL, token string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		token:  token,
		logger: logger.With(slog.String("component", "terminal_ws")),
		subs:   make(map[string]wsSubscription),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and restores every tracked
// subscription.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("terminal/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("terminal/ws: connect: %w", err)
	}

	w.conn = conn
	w.connected = true

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	for guid, sub := range w.subs {
		if err := w.send(conn, sub.req); err != nil {
			return fmt.Errorf("terminal/ws: restore subscription %s: %w", guid, err)
		}
	}

	w.logger.InfoContext(ctx, "terminal ws connected", slog.Int("subscriptions", len(w.subs)))
	return nil
}

// Start connects in the background-tolerant way used at start-up: when the
// first attempt fails the client keeps retrying with backoff and
// subscriptions made in the meantime are sent once connected.
func (w *WSClient) Start(ctx context.Context) {
	if err := w.Connect(ctx); err != nil {
		w.logger.WarnContext(ctx, "terminal ws initial connect failed", slog.String("error", err.Error()))
		go w.reconnect()
	}
}

// Connected reports whether the client currently holds a live connection.
func (w *WSClient) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Subscribe registers handler for req and sends the request. The request is
// tracked and re-sent after every reconnect; when the client is not connected
// it is sent on the next successful Connect. It returns the subscription guid.
func (w *WSClient) Subscribe(ctx context.Context, req WSRequest, handler FrameHandler) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", fmt.Errorf("terminal/ws: subscribe: %w", domain.ErrWSDisconnect)
	}

	req.GUID = uuid.NewString()
	req.Token = w.token
	w.subs[req.GUID] = wsSubscription{req: req, handler: handler}

	if w.connected {
		if err := w.send(w.conn, req); err != nil {
			// The subscription stays tracked and is restored on reconnect.
			w.logger.WarnContext(ctx, "subscribe send failed",
				slog.String("opcode", req.Opcode),
				slog.String("error", err.Error()),
			)
		}
	}
	return req.GUID, nil
}

// Unsubscribe stops the subscription with the given guid.
func (w *WSClient) Unsubscribe(ctx context.Context, guid string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.subs[guid]; !ok {
		return nil
	}
	delete(w.subs, guid)

	if !w.connected {
		return nil
	}
	if err := w.send(w.conn, WSRequest{Opcode: OpcodeUnsubscribe, GUID: guid, Token: w.token}); err != nil {
		return fmt.Errorf("terminal/ws: unsubscribe %s: %w", guid, err)
	}
	return nil
}

// OnDisconnect registers a hook called when the connection drops.
func (w *WSClient) OnDisconnect(fn func(error)) {
	w.hookMu.Lock()
	defer w.hookMu.Unlock()
	w.onDisconnect = append(w.onDisconnect, fn)
}

// OnReconnect registers a hook called after a dropped connection has been
// re-established.
func (w *WSClient) OnReconnect(fn func()) {
	w.hookMu.Lock()
	defer w.hookMu.Unlock()
	w.onReconnect = append(w.onReconnect, fn)
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.connected = false
	close(w.done)

	if w.conn != nil {
		w.writeMu.Lock()
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		w.writeMu.Unlock()
		return w.conn.Close()
	}

	return nil
}

// send writes a JSON request.
func (w *WSClient) send(conn *websocket.Conn, req WSRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames from conn until it fails, then reconnects.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()

			select {
			case <-w.done:
				return
			default:
			}

			w.mu.Lock()
			stale := w.conn != conn
			if !stale {
				w.connected = false
			}
			w.mu.Unlock()
			if stale {
				return
			}

			w.logger.Warn("terminal ws disconnected", slog.String("error", err.Error()))
			w.fireDisconnect(err)
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes a frame to the handler registered for its guid.
func (w *WSClient) handleMessage(raw []byte) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		w.logger.Debug("dropping unparseable frame", slog.String("error", err.Error()))
		return
	}

	if frame.HTTPCode != 0 && frame.HTTPCode != 200 {
		w.logger.Warn("subscription rejected",
			slog.String("guid", frame.GUID),
			slog.Int("http_code", frame.HTTPCode),
			slog.String("message", frame.Message),
		)
		return
	}
	if len(frame.Data) == 0 {
		return
	}

	w.mu.RLock()
	sub, ok := w.subs[frame.GUID]
	w.mu.RUnlock()
	if !ok {
		return
	}
	sub.handler(frame.Data)
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.hookMu.RLock()
			hooks := w.onReconnect
			w.hookMu.RUnlock()
			for _, fn := range hooks {
				fn()
			}
			return
		}

		w.logger.Warn("terminal ws reconnect failed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (w *WSClient) fireDisconnect(err error) {
	w.hookMu.RLock()
	hooks := w.onDisconnect
	w.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(err)
	}
}
