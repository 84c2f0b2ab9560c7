// Package events pushes refresh notifications to websocket subscribers.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types
const (
	Connected        = "connected"
	KnowledgeUpdated = "knowledge.updated"
	MarketRefreshing = "market.refreshing"
	MarketUpdated    = "market.updated"
	MarketStale      = "market.stale"
)

const (
	sendQueue  = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Event is one message on the stream
type Event struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub fans events out to every connected client
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool
}

// NewHub creates an empty Hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "events"),
		now:     time.Now,
		clients: make(map[*client]bool),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish encodes one event and queues it for every client. Clients whose
// queue is full miss the event.
func (h *Hub) Publish(eventType string, data any) {
	msg, err := json.Marshal(Event{Type: eventType, Timestamp: h.now().UnixMilli(), Data: data})
	if err != nil {
		h.logger.Error("encode event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client queue full, dropping event", "type", eventType, "client", c.id())
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendQueue), hub: h}
	hello, _ := json.Marshal(Event{Type: Connected, Timestamp: h.now().UnixMilli()})
	c.send <- hello

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	h.mu.Unlock()
	h.logger.Debug("client connected", "client", c.id())

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		h.logger.Debug("client disconnected", "client", c.id())
	}
}
