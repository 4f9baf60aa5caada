package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/conneroisu/bang/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// UpdateMessage is sent to every connected browser.
type UpdateMessage struct {
	Type      string    `json:"type"`
	Paths     []string  `json:"paths,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one live-reload connection.
type Client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// Hub fans reload messages out to connected clients.
type Hub struct {
	logger         logging.Logger
	originPatterns []string

	clients      map[uuid.UUID]*Client
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *Client
	done         chan struct{}
	stopOnce     sync.Once
}

// NewHub creates a hub. originPatterns are host patterns accepted besides
// the request's own host.
func NewHub(logger logging.Logger, originPatterns ...string) *Hub {
	return &Hub{
		logger:         logger.WithComponent("websocket"),
		originPatterns: originPatterns,
		clients:        make(map[uuid.UUID]*Client),
		broadcast:      make(chan []byte),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client.id] = client
			count := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(ctx, "client connected", "client", client.id.String(), "total", count)

		case client := <-h.unregister:
			h.clientsMutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			count := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(ctx, "client disconnected", "client", client.id.String(), "total", count)

		case message := <-h.broadcast:
			h.clientsMutex.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow client
					delete(h.clients, id)
					close(client.send)
				}
			}
			h.clientsMutex.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.send)
	}
}

// Broadcast sends msg to every client. It returns false when the hub is not
// running.
func (h *Hub) Broadcast(ctx context.Context, msg UpdateMessage) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(ctx, err, "cannot encode update message")
		return false
	}
	select {
	case h.broadcast <- data:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 16),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writePump(ctx, client)
	h.readPump(ctx, client)
}

// readPump drains the connection until it closes. Browsers send nothing.
func (h *Hub) readPump(ctx context.Context, c *Client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				h.logger.Debug(ctx, "websocket read ended", "client", c.id.String(), "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(ctx context.Context, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(ctx, "websocket write failed", "client", c.id.String(), "error", err)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
