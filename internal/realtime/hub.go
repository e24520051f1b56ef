// Package realtime pushes account events to connected mobile clients over
// WebSocket. Every connection is bound to the authenticated account and only
// ever receives that account's events.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mbd888/securebank/internal/auth"
	"github.com/mbd888/securebank/internal/idgen"
	"github.com/mbd888/securebank/internal/metrics"
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // native mobile clients send no Origin
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Event is one message on the stream.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription narrows the event types a client receives. Empty means all.
type Subscription struct {
	EventTypes []string `json:"eventTypes"`
}

// Client is one WebSocket connection.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	accountID string
	send      chan []byte
	mu        sync.RWMutex
	sub       Subscription
}

func (c *Client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.sub.EventTypes) == 0 {
		return true
	}
	for _, t := range c.sub.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

type envelope struct {
	accountID string
	event     *Event
}

const (
	MaxClients           = 10000
	MaxClientsPerAccount = 5
)

// Hub routes events to the connections of the owning account.
type Hub struct {
	accounts   map[string]map[*Client]struct{}
	publish    chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	count      int
	logger     *slog.Logger
	done       chan struct{}
	maxClients int
	perAccount int

	totalEvents   atomic.Int64
	droppedEvents atomic.Int64
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		accounts:   make(map[string]map[*Client]struct{}),
		publish:    make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		perAccount: MaxClientsPerAccount,
	}
}

// Run is the hub loop. It returns, closing every connection, when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, set := range h.accounts {
				for c := range set {
					close(c.send)
				}
				delete(h.accounts, id)
			}
			h.count = 0
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			set := h.accounts[c.accountID]
			if set == nil {
				set = make(map[*Client]struct{})
				h.accounts[c.accountID] = set
			}
			set[c] = struct{}{}
			h.count++
			n := h.count
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "account_id", c.accountID, "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(c)
			n := h.count
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

		case env := <-h.publish:
			h.deliver(env)
		}
	}
}

func (h *Hub) removeLocked(c *Client) {
	set := h.accounts[c.accountID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.accounts, c.accountID)
	}
	close(c.send)
	h.count--
}

func (h *Hub) deliver(env envelope) {
	h.totalEvents.Add(1)
	data, err := json.Marshal(env.event)
	if err != nil {
		h.logger.Error("realtime: event not serializable", "type", env.event.Type, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.accounts[env.accountID] {
		if !c.wants(env.event.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			h.removeLocked(c)
		}
		h.mu.Unlock()
	}
}

// Publish queues an event for accountID's connections. It never blocks;
// when the queue is full the event is dropped.
func (h *Hub) Publish(accountID, eventType string, payload any) {
	env := envelope{accountID: accountID, event: &Event{
		ID:        idgen.WithPrefix(idgen.EventPrefix),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}}
	select {
	case h.publish <- env:
	default:
		h.droppedEvents.Add(1)
		h.logger.Warn("realtime: publish queue full, dropping event", "type", eventType)
	}
}

// Stats returns hub counters.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]any{
		"connectedClients":  h.count,
		"connectedAccounts": len(h.accounts),
		"totalEvents":       h.totalEvents.Load(),
		"droppedEvents":     h.droppedEvents.Load(),
	}
}

// ConnectedClients returns the number of open connections for accountID.
func (h *Hub) ConnectedClients(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.accounts[accountID])
}

// Handler serves GET /v1/ws for the authenticated account.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.Serve(c.Writer, c.Request, auth.AccountID(c))
	}
}

// Serve upgrades the request and binds the connection to accountID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, accountID string) {
	if accountID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	total, mine := h.count, len(h.accounts[accountID])
	h.mu.RUnlock()
	if total >= h.maxClients || mine >= h.perAccount {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		accountID: accountID,
		send:      make(chan []byte, 64),
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump accepts subscription updates and keeps the read deadline alive.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
