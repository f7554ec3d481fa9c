package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/citefetch/internal/models"
)

func TestHub(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Close()

	// Mock client
	client := &Client{
		hub:  hub,
		send: make(chan []byte, 1),
	}

	hub.register <- client
	assert.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	hub.BroadcastJSON(map[string]string{"msg": "hello"})
	select {
	case received := <-client.send:
		assert.JSONEq(t, `{"msg":"hello"}`, string(received))
	case <-time.After(1 * time.Second):
		t.Fatal("Client did not receive broadcast message in time")
	}

	hub.unregister <- client
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, time.Millisecond)
	_, open := <-client.send
	assert.False(t, open)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Close()

	client := &Client{hub: hub, send: make(chan []byte)}
	hub.register <- client
	hub.BroadcastJSON("ignored")
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, time.Millisecond)
}

func TestServeWsDeliversProgress(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	hub.BroadcastProgress(models.ProgressUpdate{RunID: "run-1", Message: "completed", Progress: 100, ItemID: 7})

	var got models.ProgressUpdate
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, int64(7), got.ItemID)
	assert.Equal(t, "completed", got.Message)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}
