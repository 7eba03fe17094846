// Package events pushes registry changes to browsers over websockets so the
// file list can refresh without polling.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/PaulBabatuyi/FileVault/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Type string

const (
	FileUploaded Type = "file.uploaded"
	FileReplaced Type = "file.replaced"
	FileDeleted  Type = "file.deleted"
)

// FileSummary is the file part of an event, shaped like the upload response.
type FileSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Type       string `json:"type"`
	UploadDate string `json:"uploadDate"`
}

type Event struct {
	Type      Type        `json:"type"`
	File      FileSummary `json:"file"`
	Timestamp string      `json:"timestamp"`
}

// NewEvent builds an event for meta stamped with at.
func NewEvent(t Type, meta models.FileMetadata, at time.Time) Event {
	return Event{
		Type: t,
		File: FileSummary{
			ID:         meta.ID,
			Name:       meta.Name,
			Size:       meta.Size,
			Type:       meta.MimeType,
			UploadDate: meta.UploadedAt.UTC().Format(models.TimeLayout),
		},
		Timestamp: at.UTC().Format(models.TimeLayout),
	}
}

const (
	clientBuffer = 16
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = pingPeriod + 10*time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to every connected websocket client.
// A client whose buffer is full is disconnected instead of blocking Publish.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients reports how many websocket clients are connected.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers e to all clients without blocking.
func (h *Hub) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow event client", zap.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("event client connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// readPump discards client messages; it exists to notice disconnects and pongs.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

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
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}
