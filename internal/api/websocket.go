package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/grayrelay/internal/infrastructure/config"
	"github.com/nerrad567/grayrelay/internal/infrastructure/logging"
	"github.com/nerrad567/grayrelay/internal/registry"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeBroadcast   = "broadcast"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

var (
	errClientBufferFull = errors.New("websocket: client buffer full")
	errClientClosed     = errors.New("websocket: client closed")
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
// Channels are relay topics.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSBroadcastPayload is the payload of a client broadcast.
type WSBroadcastPayload struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// WSEvent is the payload of an event message: one relayed broadcast.
type WSEvent struct {
	Topic   string          `json:"topic"`
	From    string          `json:"from,omitempty"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// relayProxy is what the hub needs from the running relay.
type relayProxy interface {
	Subscribe(sub registry.Subscriber, topic string) error
	Unsubscribe(sub registry.Subscriber, topic string) error
	Broadcast(ctx context.Context, sender, topic string, payload []byte) error
}

// Hub manages WebSocket connections. Each client is a relay subscriber.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	resolve func() (relayProxy, bool)
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client. It implements
// registry.Subscriber.
type WSClient struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub. It has no relay until one is set by
// the server.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		resolve: func() (relayProxy, bool) { return nil, false },
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// newClient creates a client with a fresh subscriber ID.
func (h *Hub) newClient(conn *websocket.Conn) *WSClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSClient{
		id:            "ws-" + uuid.NewString(),
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client", client.id, "clients", h.ClientCount())
}

// Unregister removes a client from the hub and drops its relay subscriptions.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if !existed {
		return
	}
	client.cancel()
	client.dropSubscriptions()
	close(client.send)
	h.logger.Debug("websocket client disconnected", "client", client.id, "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.Unregister(client)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := s.hub.newClient(conn)
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// ID returns the client's subscriber ID.
func (c *WSClient) ID() string { return c.id }

// Deliver queues a relayed broadcast for the client. It never blocks: a slow
// client loses the message and the error is reported to the relay.
func (c *WSClient) Deliver(msg registry.Message) error {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		raw, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return err
		}
		payload = raw
	}

	event, err := json.Marshal(WSEvent{
		Topic:   msg.Topic,
		From:    msg.From,
		Origin:  msg.Origin,
		Payload: payload,
	})
	if err != nil {
		return err
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: msg.Topic,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   event,
	})
	if err != nil {
		return err
	}
	return c.trySend(data)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
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
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
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
	case WSTypeBroadcast:
		c.handleBroadcast(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe subscribes the client to each requested topic on the relay.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	relay, ok := c.hub.resolve()
	if !ok {
		c.sendError(msg.ID, "relay is not running")
		return
	}

	subscribed := make([]string, 0, len(sub.Channels))
	for _, topic := range sub.Channels {
		if err := relay.Subscribe(c, topic); err != nil {
			c.sendError(msg.ID, "subscribe "+topic+": "+err.Error())
			continue
		}
		c.mu.Lock()
		c.subscriptions[topic] = struct{}{}
		c.mu.Unlock()
		subscribed = append(subscribed, topic)
	}

	c.hub.logger.Info("websocket client subscribed", "client", c.id, "channels", subscribed)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": subscribed,
	})
}

// handleUnsubscribe removes the client from each requested topic.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	relay, ok := c.hub.resolve()
	for _, topic := range sub.Channels {
		if ok {
			//nolint:errcheck // Unsubscribing an unknown topic is not an error
			relay.Unsubscribe(c, topic)
		}
		c.mu.Lock()
		delete(c.subscriptions, topic)
		c.mu.Unlock()
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
	})
}

// handleBroadcast relays a payload from the client. The client is the
// sender, so its own subscriptions do not echo the message back.
func (c *WSClient) handleBroadcast(msg WSMessage) {
	var req WSBroadcastPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Topic == "" {
		c.sendError(msg.ID, "invalid broadcast payload")
		return
	}

	relay, ok := c.hub.resolve()
	if !ok {
		c.sendError(msg.ID, "relay is not running")
		return
	}

	if err := relay.Broadcast(c.ctx, c.id, req.Topic, req.Payload); err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"broadcast": req.Topic,
	})
}

// dropSubscriptions removes the client from every relay topic it joined.
func (c *WSClient) dropSubscriptions() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	c.subscriptions = make(map[string]struct{})
	c.mu.Unlock()

	relay, ok := c.hub.resolve()
	if !ok {
		return
	}
	for _, topic := range topics {
		//nolint:errcheck // Best-effort cleanup on disconnect
		relay.Unsubscribe(c, topic)
	}
}

// trySend queues data without blocking. It reports a full buffer and
// absorbs sends racing with a disconnect.
func (c *WSClient) trySend(data []byte) (err error) {
	defer func() {
		if recover() != nil {
			err = errClientClosed
		}
	}()

	select {
	case c.send <- data:
		return nil
	default:
		return errClientBufferFull
	}
}

// isSubscribed checks if the client is subscribed to a topic.
func (c *WSClient) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Payload = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	//nolint:errcheck // Responses to a slow or closed client are dropped
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
