package telemetry

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketHandler_StreamsSnapshots(t *testing.T) {
	hub := NewHub()
	hub.Publish(Snapshot{Speed: 7})
	srv := httptest.NewServer(NewWebSocketHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Snapshot {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var s Snapshot
		require.NoError(t, json.Unmarshal(msg, &s))
		return s
	}

	// latest snapshot is replayed on connect
	assert.Equal(t, 7, read().Speed)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, time.Millisecond)
	hub.Publish(Snapshot{Speed: 8, Connected: true})
	s := read()
	assert.Equal(t, 8, s.Speed)
	assert.True(t, s.Connected)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
