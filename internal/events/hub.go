package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "payledger_ws_connections",
	Help: "Currently open websocket connections",
})

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes events to the websocket connections of the affected account.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[uuid.UUID]map[*client]struct{}),
	}
}

// Publish queues ev on every connection of ev.AccountID. A connection whose
// buffer is full misses the event rather than stalling the caller.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[ev.AccountID] {
		h.enqueue(c, payload, ev.AccountID)
	}
	return nil
}

// Broadcast sends a system notice to every connected client.
func (h *Hub) Broadcast(message string) int {
	payload, _ := json.Marshal(Event{
		Type:       TypeSystemNotice,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	})
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for accountID, set := range h.clients {
		for c := range set {
			h.enqueue(c, payload, accountID)
			n++
		}
	}
	return n
}

func (h *Hub) enqueue(c *client, payload []byte, accountID uuid.UUID) {
	select {
	case c.send <- payload:
	default:
		publishFailures.WithLabelValues("websocket").Inc()
		h.logger.Warn("websocket buffer full, dropping event", zap.Stringer("account_id", accountID))
	}
}

// ConnectionCount returns the number of open connections for accountID.
func (h *Hub) ConnectionCount(accountID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

func (h *Hub) register(accountID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[accountID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[accountID] = set
	}
	set[c] = struct{}{}
	wsConnections.Inc()
}

func (h *Hub) unregister(accountID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[accountID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, accountID)
	}
	wsConnections.Dec()
}

// Serve registers conn for accountID and blocks until the peer goes away.
// Incoming messages are discarded; the read loop only services pongs and close frames.
func (h *Hub) Serve(accountID uuid.UUID, conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register(accountID, c)
	h.logger.Debug("websocket connected", zap.Stringer("account_id", accountID))

	done := make(chan struct{})
	go h.writePump(c, done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", zap.Stringer("account_id", accountID), zap.Error(err))
			}
			break
		}
	}

	h.unregister(accountID, c)
	<-done
	conn.Close()
	h.logger.Debug("websocket disconnected", zap.Stringer("account_id", accountID))
}

func (h *Hub) writePump(c *client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Unblock the read loop so Serve can unregister.
				c.conn.Close()
				drain(c.send)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				drain(c.send)
				return
			}
		}
	}
}

func drain(ch <-chan []byte) {
	for range ch {
	}
}
