package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type testEnv struct {
	manager *Manager
	store   *memory.Store
	clock   *testClock
	metrics *Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.NewStore()
	ctx := context.Background()
	for _, doctor := range []models.Doctor{
		{DoctorID: "doc-d", Name: "Dr. Desai", Active: true},
		{DoctorID: "doc-e", Name: "Dr. Anand", Active: true},
		{DoctorID: "doc-x", Name: "Dr. Retired", Active: false},
	} {
		require.NoError(t, st.UpsertDoctor(ctx, doctor))
	}
	clock := &testClock{now: at(2025, 3, 4, 10, 0)}
	metrics := NewMetrics(prometheus.NewRegistry())
	manager := NewManager(st, st, st, Options{
		Location: ist,
		Clock:    clock.Now,
		Logger:   zerolog.Nop(),
		Metrics:  metrics,
	})
	return &testEnv{manager: manager, store: st, clock: clock, metrics: metrics}
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, ist)
}

func intPtr(value int) *int {
	return &value
}

func request(phone, name, doctorID string) RegisterRequest {
	return RegisterRequest{
		Phone:       phone,
		PatientName: name,
		Sex:         "female",
		Age:         intPtr(34),
		DoctorID:    doctorID,
		TerminalID:  "desk-1",
		StaffID:     "staff-1",
	}
}

func (e *testEnv) register(t *testing.T, req RegisterRequest, resolution *Resolution) models.Visit {
	t.Helper()
	visit, created, err := e.manager.RegisterVisit(context.Background(), req, resolution)
	require.NoError(t, err)
	require.True(t, created)
	return visit
}

func phoneFor(i int) string {
	return fmt.Sprintf("98000%05d", i)
}
