package hub

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastHonoursDoctorFilter(t *testing.T) {
	h := New(zerolog.Nop())
	all := &Client{ID: "all", Send: make(chan []byte, 4)}
	doctorD := &Client{ID: "d", Send: make(chan []byte, 4), Subscription: Subscription{DoctorID: "doc-d"}}
	h.Register(all)
	h.Register(doctorD)

	h.Broadcast([]byte("one"), "doc-d")
	h.Broadcast([]byte("two"), "doc-e")

	assert.Len(t, all.Send, 2)
	require.Len(t, doctorD.Send, 1)
	assert.Equal(t, "one", string(<-doctorD.Send))
}

func TestBroadcastDropsForFullBuffer(t *testing.T) {
	h := New(zerolog.Nop())
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Broadcast([]byte("one"), "doc-d")
	h.Broadcast([]byte("two"), "doc-d")

	assert.Len(t, slow.Send, 1)
}

func TestUnregisterClosesOnce(t *testing.T) {
	h := New(zerolog.Nop())
	client := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(client)
	assert.Equal(t, 1, h.ClientCount())

	h.Unregister(client)
	assert.NotPanics(t, func() { h.Unregister(client) })
	assert.Equal(t, 0, h.ClientCount())

	_, open := <-client.Send
	assert.False(t, open)
}

func TestParseSubscribe(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		ok     bool
		doctor string
	}{
		{"subscribe", `{"action":"subscribe","doctor_id":" doc-d "}`, true, "doc-d"},
		{"unsubscribe", `{"action":"unsubscribe"}`, true, ""},
		{"unknown action", `{"action":"publish"}`, false, ""},
		{"not json", `subscribe`, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := ParseSubscribe([]byte(tc.input))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.doctor, msg.DoctorID)
		})
	}
}
