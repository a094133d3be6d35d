package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/probebench/internal/infrastructure/config"
	"github.com/nerrad567/probebench/internal/infrastructure/logging"
	"github.com/nerrad567/probebench/internal/stream"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WildcardChannel subscribes a client to every envelope.
	WildcardChannel = "*"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is a control message sent to or from a WebSocket client.
// Stream data is pushed as bare envelopes, not wrapped in WSMessage.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub relays broker envelopes to WebSocket clients by channel.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	broker  *stream.Broker
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	released      bool
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a hub that registers client interest with broker.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, broker *stream.Broker) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		broker:  broker,
		clients: make(map[*WSClient]struct{}),
	}
}

// Start taps the broker and relays every envelope in the background until
// ctx is cancelled, then disconnects all clients. The tap is in place when
// Start returns.
func (h *Hub) Start(ctx context.Context) {
	tap := h.broker.SubscribeAll(0)
	go h.run(ctx, tap)
}

func (h *Hub) run(ctx context.Context, tap *stream.Subscription) {
	defer func() {
		tap.Close()
		h.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-tap.C():
			if !ok {
				return
			}
			h.Relay(env)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client and releases its channel interest. Only the
// call that removes the client from the map closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
		client.release()
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Relay sends env to every client subscribed to env.Channel or to the
// wildcard channel.
func (h *Hub) Relay(env stream.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal envelope", "channel", env.Channel, "error", err)
		return
	}

	// Snapshot under the hub lock; client locks are taken afterwards.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.wants(env.Channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		client.release()
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	deadline := pingInterval(cfg) + pongWait(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(pingInterval(cfg))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	wait := pongWait(cfg)
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
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

func (c *WSClient) handleSubscribe(msg WSMessage) {
	sub, ok := c.parseChannels(msg)
	if !ok {
		return
	}

	added := make([]string, 0, len(sub.Channels))
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	for _, ch := range sub.Channels {
		if ch == "" {
			continue
		}
		if _, dup := c.subscriptions[ch]; dup {
			continue
		}
		c.subscriptions[ch] = struct{}{}
		added = append(added, ch)
	}
	c.mu.Unlock()

	for _, ch := range added {
		if ch == WildcardChannel {
			continue
		}
		//nolint:errcheck // Channel is non-empty
		c.hub.broker.RegisterStream(ch)
	}

	c.hub.logger.Info("websocket client subscribed", "channels", added)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": added,
	})
}

func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	sub, ok := c.parseChannels(msg)
	if !ok {
		return
	}

	removed := make([]string, 0, len(sub.Channels))
	c.mu.Lock()
	for _, ch := range sub.Channels {
		if _, had := c.subscriptions[ch]; had {
			delete(c.subscriptions, ch)
			removed = append(removed, ch)
		}
	}
	c.mu.Unlock()

	for _, ch := range removed {
		if ch == WildcardChannel {
			continue
		}
		//nolint:errcheck // Channel is non-empty
		c.hub.broker.UnregisterStream(ch)
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": removed,
	})
}

func (c *WSClient) parseChannels(msg WSMessage) (WSSubscribePayload, bool) {
	var sub WSSubscribePayload
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return sub, false
	}
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return sub, false
	}
	return sub, true
}

// release drops every subscription and the broker interest behind it.
func (c *WSClient) release() {
	c.mu.Lock()
	channels := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		channels = append(channels, ch)
	}
	c.subscriptions = make(map[string]struct{})
	c.released = true
	c.mu.Unlock()

	for _, ch := range channels {
		if ch == WildcardChannel {
			continue
		}
		//nolint:errcheck // Channel is non-empty
		c.hub.broker.UnregisterStream(ch)
	}
}

// trySend queues data without blocking. A full buffer drops the message
// and a closed channel is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subscriptions[channel]; ok {
		return true
	}
	_, all := c.subscriptions[WildcardChannel]
	return all
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}

func pingInterval(cfg config.WebSocketConfig) time.Duration {
	if cfg.PingInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.PingInterval) * time.Second
}

func pongWait(cfg config.WebSocketConfig) time.Duration {
	if cfg.PongTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.PongTimeout) * time.Second
}
