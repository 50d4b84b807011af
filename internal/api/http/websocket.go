package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Size of the send buffer for each client.
	sendBufferSize = 256
)

// EventConnectionState is broadcast when the upstream channel changes state.
const EventConnectionState = "connection_state"

// SubscriptionMessage represents a subscription request from a client.
type SubscriptionMessage struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Events []string `json:"events"`
}

type outbound struct {
	event   string
	payload []byte
}

// Client represents a browser WebSocket connection.
type Client struct {
	hub *Hub

	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Subscribed events (if empty, receives all events).
	subscriptions map[string]bool
	mu            sync.RWMutex

	logger *zap.Logger
}

// Hub fans bot envelopes out to browser clients using the same
// {event, data, timestamp} frames the bot sends.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	// Protects clients.
	mu sync.RWMutex

	logger *zap.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// NewHub creates a new Hub instance.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.Named("hub"),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)

		case <-h.done:
			h.shutdown()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("Client unregistered", zap.Int("total_clients", len(h.clients)))
	}
}

// broadcastMessage sends a message to all subscribed clients. Clients whose
// buffer is full are dropped.
func (h *Hub) broadcastMessage(msg outbound) {
	var slow []*Client

	h.mu.RLock()
	for client := range h.clients {
		if !client.isSubscribed(msg.event) {
			continue
		}
		select {
		case client.send <- msg.payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Client send buffer full, disconnecting")
		h.remove(client)
	}
}

// Observe queues env for broadcast. It matches the
// realtime.WithEnvelopeObserver signature.
func (h *Hub) Observe(env realtime.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", zap.Error(err), zap.String("event", env.Event))
		return
	}
	h.enqueue(outbound{event: env.Event, payload: payload})
}

// BroadcastEvent broadcasts an event originating in this process.
func (h *Hub) BroadcastEvent(event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err), zap.String("event", event))
		return
	}
	h.Observe(realtime.Envelope{
		Event:     event,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// ObserveState broadcasts upstream channel state changes. It matches the
// realtime.WithStateObserver signature.
func (h *Hub) ObserveState(s realtime.State) {
	h.BroadcastEvent(EventConnectionState, map[string]string{"state": s.String()})
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", zap.String("event", msg.event))
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown gracefully shuts down the hub. It is safe to call more than once.
func (h *Hub) Shutdown() {
	h.doneOnce.Do(func() { close(h.done) })
}

// shutdown closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
}

// isSubscribed checks if the client is subscribed to the given event.
func (c *Client) isSubscribed(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// If no specific subscriptions, receive all events
	if len(c.subscriptions) == 0 {
		return true
	}

	return c.subscriptions[event]
}

// subscribe adds events to the client's subscriptions.
func (c *Client) subscribe(events []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscriptions == nil {
		c.subscriptions = make(map[string]bool)
	}

	for _, event := range events {
		c.subscriptions[event] = true
	}

	c.logger.Debug("Client subscribed to events", zap.Strings("events", events))
}

// unsubscribe removes events from the client's subscriptions.
func (c *Client) unsubscribe(events []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, event := range events {
		delete(c.subscriptions, event)
	}

	c.logger.Debug("Client unsubscribed from events", zap.Strings("events", events))
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			c.logger.Debug("Ignoring non-JSON message", zap.Int("size", len(message)))
			continue
		}

		switch subMsg.Action {
		case "subscribe":
			c.subscribe(subMsg.Events)
		case "unsubscribe":
			c.unsubscribe(subMsg.Events)
		default:
			c.logger.Debug("Unknown subscription action", zap.String("action", subMsg.Action))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection. Each
// envelope is sent as its own text frame.
func (c *Client) writePump() {
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
				// The hub closed the channel.
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

// upgrader is used to upgrade HTTP connections to WebSocket.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS handles websocket requests from the peer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
		logger:        h.logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
