package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagate/internal/notify"
)

func TestHubDeliversEnvelopes(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 8)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	err = hub.Broadcast(context.Background(), notify.EventMessageStatusUpdate, notify.StatusUpdate{
		SentMessageID: 10, MessageID: "wamid-1", DeliveryStatus: "READ", DeliveryStatusCode: 4,
	})
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		ID    string              `json:"id"`
		Event string              `json:"event"`
		Data  notify.StatusUpdate `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, notify.EventMessageStatusUpdate, got.Event)
	assert.Equal(t, int64(10), got.Data.SentMessageID)
	assert.Equal(t, "READ", got.Data.DeliveryStatus)
	assert.NotEmpty(t, got.ID)
}

func TestHubRemovesClosedObservers(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	// no observers left: broadcasting is still fine
	assert.NoError(t, hub.Broadcast(context.Background(), notify.EventNewMessage, map[string]string{"a": "b"}))
}
