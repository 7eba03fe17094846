package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PaulBabatuyi/FileVault/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.Clients() > 0 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	first := dialHub(t, h)
	second := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	uploaded := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	meta := models.FileMetadata{ID: "abc", Name: "a.txt", MimeType: "text/plain", Size: 5, UploadedAt: uploaded}
	h.Publish(NewEvent(FileUploaded, meta, uploaded))

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var got Event
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, FileUploaded, got.Type)
		assert.Equal(t, "abc", got.File.ID)
		assert.Equal(t, "text/plain", got.File.Type)
		assert.Equal(t, "2024-01-02T03:04:05.006Z", got.File.UploadDate)
	}
}

func TestHubClientDisconnect(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	conn := dialHub(t, h)

	conn.Close()
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// publishing with nobody listening is a no-op
	h.Publish(NewEvent(FileDeleted, models.FileMetadata{ID: "x"}, time.Now()))
}

func TestHubClose(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	conn := dialHub(t, h)

	h.Close()
	assert.Equal(t, 0, h.Clients())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	c := &client{send: make(chan []byte, 1)}
	h.clients[c] = struct{}{}

	// a fake client with no conn: fill its buffer directly, then force the drop path
	c.send <- []byte("queued")
	h.mu.Lock()
	select {
	case c.send <- []byte("overflow"):
		t.Fatal("buffer should be full")
	default:
		h.removeLocked(c)
	}
	h.mu.Unlock()

	assert.Equal(t, 0, h.Clients())
	_, open := <-c.send
	assert.True(t, open, "queued message still readable")
	_, open = <-c.send
	assert.False(t, open)
}
