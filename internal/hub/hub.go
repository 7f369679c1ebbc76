package hub

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Subscription filters by doctor. An empty DoctorID receives every event.
type Subscription struct {
	DoctorID string
}

type Client struct {
	ID           string
	TerminalID   string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	DoctorID string `json:"doctor_id"`
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast never blocks; a client whose buffer is full misses the message.
func (h *Hub) Broadcast(payload []byte, doctorID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, doctorID) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("terminal_id", client.TerminalID).Msg("drop message for slow client")
		}
	}
}

func match(sub Subscription, doctorID string) bool {
	return sub.DoctorID == "" || sub.DoctorID == doctorID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	msg.DoctorID = strings.TrimSpace(msg.DoctorID)
	return msg, true
}
