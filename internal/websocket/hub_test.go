package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/approval"
)

func recvMessage(t *testing.T, ch chan []byte) Message {
	t.Helper()

	select {
	case data := <-ch:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestRegisterSendsWelcome(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte, 8), id: "t1"}
	hub.register <- client

	msg := recvMessage(t, client.send)
	assert.Equal(t, "welcome", msg.Type)

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestNotifyApprovalBroadcasts(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := &Client{hub: hub, send: make(chan []byte, 8), id: "a"}
	b := &Client{hub: hub, send: make(chan []byte, 8), id: "b"}
	hub.register <- a
	hub.register <- b
	recvMessage(t, a.send) // welcome
	recvMessage(t, b.send)

	hub.NotifyApproval("approval_requested", approval.Request{
		ID:        "req-1",
		UserID:    "alice",
		Operation: "Execute command: rm -rf temp/",
		Status:    approval.StatusPending,
	})

	for _, client := range []*Client{a, b} {
		msg := recvMessage(t, client.send)
		assert.Equal(t, "approval_requested", msg.Type)

		data, ok := msg.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "req-1", data["id"])
		assert.Equal(t, "alice", data["user_id"])
	}
}

func TestSlowClientDropped(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Capacity 1 fills with the welcome message; the next broadcast
	// cannot be delivered and evicts the client.
	client := &Client{hub: hub, send: make(chan []byte, 1), id: "slow"}
	hub.register <- client
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.NotifyApproval("approval_resolved", approval.Request{ID: "req-2"})

	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte, 8), id: "t2"}
	hub.register <- client
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.unregister <- client
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 10*time.Millisecond)

	// Channel is closed once the hub lets go.
	_, open := <-drain(client.send)
	assert.False(t, open)
}

// drain consumes buffered messages until the channel closes or goes quiet.
func drain(ch chan []byte) chan []byte {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				closed := make(chan []byte)
				close(closed)
				return closed
			}
		case <-time.After(100 * time.Millisecond):
			return ch
		}
	}
}

func TestEndToEnd(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMsg := func() Message {
		var msg Message
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	assert.Equal(t, "welcome", readMsg().Type)

	hub.NotifyApproval("approval_requested", approval.Request{ID: "req-3", UserID: "alice"})
	assert.Equal(t, "approval_requested", readMsg().Type)

	// Application-level ping gets a pong back.
	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, "pong", readMsg().Type)
}
