package httpapi

import (
	"net/http"
	"strings"
	"time"

	"clinic/registration-service/internal/hub"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamSendBuffer = 256
	streamMaxMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Terminals sit on the clinic LAN and are not authenticated.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades to a websocket that receives visit.registered and
// visit.voided envelopes. ?doctor_id= narrows the feed; clients may change it
// later with {"action":"subscribe","doctor_id":"..."}.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &hub.Client{
		ID:           uuid.NewString(),
		TerminalID:   terminalFromContext(r.Context()).TerminalID,
		Send:         make(chan []byte, streamSendBuffer),
		Subscription: hub.Subscription{DoctorID: strings.TrimSpace(r.URL.Query().Get("doctor_id"))},
	}
	h.hub.Register(client)
	h.logger.Debug().Str("client_id", client.ID).Str("doctor_id", client.Subscription.DoctorID).Msg("stream client connected")

	go h.writePump(client, conn)
	go h.readPump(client, conn)
}

func (h *Handler) readPump(client *hub.Client, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		_ = conn.Close()
	}()

	conn.SetReadLimit(streamMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, ok := hub.ParseSubscribe(message)
		if !ok {
			continue
		}
		sub := hub.Subscription{DoctorID: msg.DoctorID}
		if msg.Action == "unsubscribe" {
			sub = hub.Subscription{}
		}
		h.hub.UpdateSubscription(client, sub)
	}
}

func (h *Handler) writePump(client *hub.Client, conn *websocket.Conn) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
