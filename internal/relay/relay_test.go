package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"
	"clinic/registration-service/internal/store/memory"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMessage struct {
	doctorID string
	envelope Envelope
}

type fakeHub struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (f *fakeHub) Broadcast(payload []byte, doctorID string) {
	var env Envelope
	_ = json.Unmarshal(payload, &env)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, recordedMessage{doctorID: doctorID, envelope: env})
}

func (f *fakeHub) snapshot() []recordedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedMessage(nil), f.messages...)
}

func insertVisit(t *testing.T, st *memory.Store, seq int64, doctorID string) models.Visit {
	t.Helper()
	visit, _, err := st.InsertVisit(context.Background(), models.Visit{
		OPDYear:     2025,
		OPDSequence: seq,
		OPDNumber:   fmt.Sprintf("%03d/25", seq),
		TokenNumber: int(seq),
		DoctorID:    doctorID,
		Phone:       "9876543210",
		PatientName: "Asha Rao",
		Status:      models.StatusActive,
		VisitType:   models.VisitTypeNew,
		VisitDate:   "2025-03-04",
	})
	require.NoError(t, err)
	return visit
}

func TestPollForwardsInOrderAndAdvances(t *testing.T) {
	st := memory.NewStore()
	hub := &fakeHub{}
	r := New(st, hub, Config{BatchSize: 2}, zerolog.Nop())
	ctx := context.Background()

	first := insertVisit(t, st, 1, "doc-d")
	insertVisit(t, st, 2, "doc-e")
	_, err := st.VoidVisit(ctx, store.VoidVisitInput{VisitID: first.VisitID, Reason: "left"})
	require.NoError(t, err)

	sent, err := r.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int64(2), r.Offset())

	sent, err = r.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	messages := hub.snapshot()
	require.Len(t, messages, 3)
	assert.Equal(t, store.EventVisitRegistered, messages[0].envelope.Type)
	assert.Equal(t, "doc-e", messages[1].doctorID)
	assert.Equal(t, store.EventVisitVoided, messages[2].envelope.Type)
	assert.Equal(t, first.VisitID, messages[2].envelope.VisitID)

	sent, err = r.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestSkipToLatestIgnoresBacklog(t *testing.T) {
	st := memory.NewStore()
	hub := &fakeHub{}
	r := New(st, hub, Config{}, zerolog.Nop())
	ctx := context.Background()

	insertVisit(t, st, 1, "doc-d")
	require.NoError(t, r.SkipToLatest(ctx))

	insertVisit(t, st, 2, "doc-d")
	sent, err := r.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, int64(2), hub.snapshot()[0].envelope.Seq)
}

type failingOutbox struct{}

func (failingOutbox) ListOutboxEvents(context.Context, int64, int) ([]store.OutboxEvent, error) {
	return nil, errors.New("db down")
}

func (failingOutbox) LatestOutboxSeq(context.Context) (int64, error) {
	return 7, nil
}

func TestRunStopsOnCancelAndSurvivesErrors(t *testing.T) {
	r := New(failingOutbox{}, &fakeHub{}, Config{PollInterval: 5 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	assert.Equal(t, int64(7), r.Offset())
}
