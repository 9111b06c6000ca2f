// Package monitor streams live sale state to websocket subscribers. The hub
// fans one update stream out to every connected client; slow clients are
// dropped rather than allowed to stall the broadcast.
package monitor

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/observability"
)

const (
	// writeWait is the deadline for one outbound frame.
	writeWait = 10 * time.Second

	// pingInterval is the interval for sending ping frames. It must be
	// shorter than pongWait or healthy clients get dropped.
	pingInterval = 30 * time.Second

	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second

	// sendBufferSize bounds each client's outbound queue.
	sendBufferSize = 64
)

// Update is one monitor frame. Amounts are decimal strings; clients never
// need to do arithmetic on them.
type Update struct {
	Type      string `json:"type"` // "rebalance", "trade" or "finalization"
	SaleID    string `json:"sale_id"`
	Timestamp int64  `json:"timestamp"`

	Epoch     int64  `json:"epoch,omitempty"`
	Branch    string `json:"branch,omitempty"`
	TickLower int    `json:"tick_lower,omitempty"`
	TickUpper int    `json:"tick_upper,omitempty"`

	TokensSold string `json:"tokens_sold,omitempty"`
	Proceeds   string `json:"proceeds,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Hub fans updates out to connected clients.
type Hub struct {
	logger *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Run does not need to be called; the hub is driven
// entirely by Broadcast and ServeWS.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The monitor stream is read-only public data.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a monitor subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("monitor: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	observability.DefaultMetrics.MonitorClients.Set(float64(n))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast sends an update to every connected client. Clients whose queue
// is full are disconnected.
func (h *Hub) Broadcast(u *Update) {
	data, err := json.Marshal(u)
	if err != nil {
		h.logger.Printf("monitor: marshal update: %v", err)
		return
	}

	h.mu.RLock()
	var stalled []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.drop(c)
	}
	observability.DefaultMetrics.MonitorMessages.Inc()
}

// BroadcastRebalance publishes an applied rebalance.
func (h *Hub) BroadcastRebalance(rec *domain.RebalanceRecord) {
	h.Broadcast(&Update{
		Type:       "rebalance",
		SaleID:     rec.SaleID,
		Timestamp:  rec.Timestamp,
		Epoch:      rec.Epoch,
		Branch:     rec.Branch,
		TickLower:  rec.TickLower,
		TickUpper:  rec.TickUpper,
		TokensSold: rec.TotalTokensSold.String(),
		Proceeds:   rec.TotalProceeds.String(),
	})
}

// BroadcastFinalization publishes a sale's terminal record.
func (h *Hub) BroadcastFinalization(rec *domain.FinalizationRecord) {
	h.Broadcast(&Update{
		Type:      "finalization",
		SaleID:    rec.SaleID,
		Timestamp: rec.Timestamp,
		Reason:    rec.Reason,
		Proceeds:  rec.NumeraireBalance.String(),
	})
}

// Close disconnects every client and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
}

// drop removes a client and closes its connection. Safe to call twice.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		observability.DefaultMetrics.MonitorClients.Set(float64(n))
	}
}

// writeLoop drains the client's queue and keeps the connection alive with
// pings. One writer per connection: gorilla/websocket allows at most one
// concurrent writer.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readLoop consumes inbound frames so pongs and close frames are processed.
// Subscribers have nothing to say; any payload is discarded.
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
