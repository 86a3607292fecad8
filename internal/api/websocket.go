package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/domain"
)

// EventType names a WebSocket push message, grounded on the teacher's
// internal/api/websocket.go MessageType constants, retargeted from the
// backtest/signal domain to this engine's evaluation/order/trade/alert
// domain.
type EventType string

const (
	EventEvaluation  EventType = "evaluation_update"
	EventOrderUpdate EventType = "order_update"
	EventTradeUpdate EventType = "trade_update"
	EventPosition    EventType = "position_update"
	EventAlertRaised EventType = "alert_raised"
	EventHeartbeat   EventType = "heartbeat"
)

// WSMessage is one push frame sent to subscribed clients.
type WSMessage struct {
	Type      EventType       `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans out push messages to every connected Client, optionally scoped
// to the channels ("positions:<id>", "orders", "alerts", ...) a client has
// subscribed to. Modeled on the teacher's Hub exactly: register/unregister/
// broadcast channels drained by one goroutine (Run), heartbeat ticker, and
// a per-channel subscriber index.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	channels   map[string]map[*Client]bool
	mu         sync.RWMutex
}

// NewHub constructs a Hub. Callers must invoke Run in a goroutine.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		channels:   make(map[string]map[*Client]bool),
	}
}

// Run drains the hub's register/unregister/broadcast channels and sends a
// heartbeat to every client every 30s. Blocks; run it in a goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for channel := range client.subscriptions {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			h.publishAll(EventHeartbeat, nil)
		}
	}
}

// CloseAll closes every connected client's underlying connection, used by
// Server.Stop for a clean shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
}

func (h *Hub) unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

func (h *Hub) publishAll(eventType EventType, data interface{}) {
	msg, err := encodeMessage(eventType, "", data)
	if err != nil {
		h.logger.Error("encode broadcast message", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// PublishToChannel sends data to every client subscribed to channel.
func (h *Hub) PublishToChannel(channel string, eventType EventType, data interface{}) {
	msg, err := encodeMessage(eventType, channel, data)
	if err != nil {
		h.logger.Error("encode channel message", zap.Error(err), zap.String("channel", channel))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.channels[channel]; ok {
		for client := range clients {
			select {
			case client.send <- msg:
			default:
			}
		}
	}
}

// PublishEvent fans a domain.Event out to the "events", "events:<trace_id>",
// and, when present, "positions:<position_id>" channels. This is the bridge
// between internal/audit's durable append and the live WebSocket stream.
// No EventsRepo in this repo calls it on Append; callers publish explicitly
// through Server.Hub(), so the hub itself never needs to know about
// ports.EventsRepo.
func (h *Hub) PublishEvent(e domain.Event) {
	h.PublishToChannel("events", EventType(e.EventType), e)
	h.PublishToChannel("events:"+e.TraceID, EventType(e.EventType), e)
	if posID, ok := e.Payload["position_id"].(string); ok && posID != "" {
		h.PublishToChannel("positions:"+posID, EventType(e.EventType), e)
	}
}

func encodeMessage(eventType EventType, channel string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	msg := WSMessage{Type: eventType, Channel: channel, Data: raw, Timestamp: time.Now().UnixMilli()}
	return json.Marshal(msg)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades GET /ws to a WebSocket connection and registers
// the new Client with the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:            uuid.NewString(),
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}

		var msg struct {
			Type    string `json:"type"`
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.hub.subscribe(c, msg.Channel)
		case "unsubscribe":
			c.hub.unsubscribe(c, msg.Channel)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
