package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
	"github.com/mikeyg42/posecapture/internal/recorder/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Event is one message on the events feed.
type Event struct {
	Type     string            `json:"type"`
	Artifact *storage.Artifact `json:"artifact,omitempty"`
}

// HubStats reports fan-out counters.
type HubStats struct {
	Clients   int    `json:"clients"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// Hub fans persisted artifacts out to websocket clients. It is a
// storage.Sink; publishing never blocks the caller. A client whose send
// buffer is full is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	buffer int
	logger recorderlog.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.send) }) }

// NewHub creates a hub with a per-client queue of buffer messages.
func NewHub(buffer int, logger recorderlog.Logger) *Hub {
	if buffer < 1 {
		buffer = 64
	}
	if logger == nil {
		logger = recorderlog.L()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		buffer:  buffer,
		logger:  logger.Named("event-hub"),
	}
}

// Persisted publishes a "persisted" event.
func (h *Hub) Persisted(_ context.Context, a storage.Artifact) error {
	return h.Publish(Event{Type: "persisted", Artifact: &a})
}

// Publish sends ev to every connected client without blocking.
func (h *Hub) Publish(ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			c.close()
			h.dropped.Add(1)
			h.logger.Warn("Dropping slow event client",
				recorderlog.String("remote", remoteAddr(c)))
		}
	}
	h.published.Add(1)
	return nil
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()
	return HubStats{Clients: n, Published: h.published.Load(), Dropped: h.dropped.Load()}
}

// Close disconnects every client; later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// ServeWS upgrades the request and streams events until the client goes
// away or is dropped.
func (h *Hub) ServeWS(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied
			h.logger.Debug("Websocket upgrade failed", recorderlog.Error(err))
			return
		}
		c := &client{conn: conn, send: make(chan []byte, h.buffer)}
		if !h.register(c) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		}
		h.logger.Debug("Event client connected", recorderlog.String("remote", conn.RemoteAddr().String()))

		go h.writePump(c)
		h.readPump(c)
	}
}

// readPump discards client messages; it only exists to process control
// frames and notice disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Event client read error", recorderlog.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func remoteAddr(c *client) string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}
