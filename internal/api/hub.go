// internal/api/hub.go
package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valpere/scraperotor/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub streams bus events to websocket clients. Every client owns a bus
// subscription, so a slow reader only delays itself.
type Hub struct {
	bus      *events.Bus
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type hubClient struct {
	conn *websocket.Conn
	sub  *events.Subscription
	once sync.Once
}

// NewHub creates a hub publishing from bus
func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the connection and streams events as JSON text frames.
// ?filter=task,health restricts the stream to categories or exact types.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filters []string
	if raw := r.URL.Query().Get("filter"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				filters = append(filters, f)
			}
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "event stream closed")
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		apiLogger.Warnf("failed to upgrade websocket: %v", err)
		return
	}

	c := &hubClient{conn: conn, sub: h.bus.Subscribe(filters...)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	apiLogger.WithFields(map[string]interface{}{
		"remote_addr": conn.RemoteAddr().String(),
		"filters":     filters,
	}).Info("event stream client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only detects the peer going away
func (h *Hub) readPump(c *hubClient) {
	defer h.wg.Done()
	defer h.drop(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				apiLogger.Debugf("unexpected websocket close: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	defer h.wg.Done()
	defer h.drop(c)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-c.sub.C():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
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

func (h *Hub) drop(c *hubClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
	if present {
		apiLogger.WithField("remote_addr", c.conn.RemoteAddr().String()).Info("event stream client disconnected")
	}
}

func (c *hubClient) close() {
	c.once.Do(func() {
		c.sub.Close()
		c.conn.Close()
	})
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their pumps to exit
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}
