// Package relay forwards persisted visit events from the outbox to
// connected terminals.
package relay

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"clinic/registration-service/internal/store"

	"github.com/rs/zerolog"
)

type Broadcaster interface {
	Broadcast(payload []byte, doctorID string)
}

// Envelope is the message terminals receive.
type Envelope struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	VisitID   string          `json:"visit_id"`
	DoctorID  string          `json:"doctor_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

type Relay struct {
	outbox    store.OutboxReader
	hub       Broadcaster
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger
	offset    atomic.Int64
	running   atomic.Bool
}

func New(outbox store.OutboxReader, hub Broadcaster, cfg Config, logger zerolog.Logger) *Relay {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Relay{outbox: outbox, hub: hub, interval: interval, batchSize: batch, logger: logger}
}

// Offset is the last sequence forwarded.
func (r *Relay) Offset() int64 {
	return r.offset.Load()
}

// SkipToLatest moves the offset to the newest stored event so terminals only
// see events from now on.
func (r *Relay) SkipToLatest(ctx context.Context) error {
	latest, err := r.outbox.LatestOutboxSeq(ctx)
	if err != nil {
		return err
	}
	r.offset.Store(latest)
	return nil
}

// Poll forwards one batch and returns how many events were sent.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	if !r.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer r.running.Store(false)

	events, err := r.outbox.ListOutboxEvents(ctx, r.offset.Load(), r.batchSize)
	if err != nil {
		return 0, err
	}
	for _, event := range events {
		payload, err := json.Marshal(Envelope{
			Seq:       event.Seq,
			Type:      event.Type,
			VisitID:   event.VisitID,
			DoctorID:  event.DoctorID,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			r.logger.Error().Err(err).Int64("seq", event.Seq).Msg("encode outbox event")
		} else {
			r.hub.Broadcast(payload, event.DoctorID)
		}
		r.offset.Store(event.Seq)
	}
	return len(events), nil
}

// Run starts at the latest event and polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.SkipToLatest(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			sent, err := r.Poll(pollCtx)
			cancel()
			if err != nil {
				r.logger.Error().Err(err).Int64("offset", r.Offset()).Msg("relay poll failed")
				continue
			}
			if sent > 0 {
				r.logger.Debug().Int("sent", sent).Int64("offset", r.Offset()).Msg("relayed visit events")
			}
		}
	}
}
