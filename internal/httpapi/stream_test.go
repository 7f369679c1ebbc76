package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clinic/registration-service/internal/hub"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFiltersByDoctor(t *testing.T) {
	h := hub.New(zerolog.Nop())
	handler := NewHandler(fakeRegistry{}, fakeDoctors{}, Options{Hub: h, Logger: zerolog.Nop()}).Routes()
	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/visits/stream?doctor_id=doc-d"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Broadcast([]byte(`{"doctor_id":"doc-e"}`), "doc-e")
	h.Broadcast([]byte(`{"doctor_id":"doc-d"}`), "doc-d")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"doctor_id":"doc-d"}`, string(message))
}

func TestStreamResubscribe(t *testing.T) {
	h := hub.New(zerolog.Nop())
	handler := NewHandler(fakeRegistry{}, fakeDoctors{}, Options{Hub: h, Logger: zerolog.Nop()}).Routes()
	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/visits/stream?doctor_id=doc-d"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","doctor_id":"doc-e"}`)))

	// The subscription change is applied asynchronously; keep broadcasting
	// until the client observes a doc-e message.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	received := make(chan []byte, 1)
	go func() {
		_, message, err := conn.ReadMessage()
		if err == nil {
			received <- message
		}
	}()
	require.Eventually(t, func() bool {
		h.Broadcast([]byte(`{"doctor_id":"doc-e"}`), "doc-e")
		select {
		case message := <-received:
			return assert.JSONEq(t, `{"doctor_id":"doc-e"}`, string(message))
		default:
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
