package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth. A client
	// that falls this far behind is evicted rather than allowed to stall
	// ingestion.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var (
	clientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipepulse_ws_clients",
		Help: "Number of currently connected WebSocket clients",
	})
	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipepulse_ws_evictions_total",
		Help: "Clients evicted because their send buffer was full",
	})
	broadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipepulse_ws_broadcasts_total",
		Help: "Broadcast messages fanned out to clients",
	})
)

// Notice is the data portion of a build_ingested broadcast: enough for a
// dashboard to invalidate its view without re-fetching the full build.
type Notice struct {
	Pipeline string `json:"pipeline"`
	Repo     string `json:"repo"`
	Status   string `json:"status"`
	Provider string `json:"provider"`
}

// Message is the JSON envelope sent to clients on every broadcast.
type Message struct {
	Event string `json:"event"`
	Data  Notice `json:"data"`
}

// Hub manages WebSocket client connections and fans build notifications out
// to all of them. Registration, eviction, and broadcast are safe to call
// concurrently; a slow or dead client never blocks the caller of Broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client
// until it disconnects. Clients only receive; inbound frames are read solely
// to process control messages and detect the close.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Broadcast sends n to every currently-registered client. The message is
// marshalled once; delivery to each client is an independent non-blocking
// hand-off to its buffered send channel. A client whose buffer is full is
// evicted. Broadcast never returns an error and never blocks on a slow
// consumer.
func (h *Hub) Broadcast(n Notice) {
	data, err := json.Marshal(Message{Event: "build_ingested", Data: n})
	if err != nil {
		slog.Error("ws: marshal broadcast", "err", err)
		return
	}
	broadcastsTotal.Inc()

	// The read lock excludes unregister (which closes send channels) for the
	// duration of the fan-out; the channel sends themselves cannot block.
	h.mu.RLock()
	var dead []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		evictionsTotal.Inc()
		slog.Warn("ws: client send buffer full — evicting", "client", c.id)
		h.unregister(c)
	}
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	clientsGauge.Inc()
	slog.Debug("ws: client connected", "client", c.id)
}

// unregister removes a connection. Idempotent — removing a connection that
// is not present is a no-op.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		clientsGauge.Dec()
		slog.Debug("ws: client removed", "client", c.id)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	clientsGauge.Sub(float64(n))
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection, preserving per-client FIFO order. It also sends
// periodic ping frames. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client evicted).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
