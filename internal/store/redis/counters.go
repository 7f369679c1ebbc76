// Package redis implements the counter store on Redis INCR for deployments
// that keep visits in Postgres but want allocation off the primary.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	yearCounterKeyPrefix      = "registration:opd:"
	doctorDayCounterKeyPrefix = "registration:token:"

	// Day counters only matter while the day is open; the TTL is refreshed on
	// every increment so a busy day never loses its key.
	defaultDayCounterTTL = 72 * time.Hour
)

type Counters struct {
	client *redis.Client
	dayTTL time.Duration
}

type Option func(*Counters)

func WithDayCounterTTL(ttl time.Duration) Option {
	return func(c *Counters) {
		if ttl > 0 {
			c.dayTTL = ttl
		}
	}
}

func NewCounters(client *redis.Client, opts ...Option) *Counters {
	counters := &Counters{client: client, dayTTL: defaultDayCounterTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(counters)
		}
	}
	return counters
}

// IncrementYearCounter never expires its key: OPD sequences must not restart
// within a year.
func (c *Counters) IncrementYearCounter(ctx context.Context, year int) (int64, error) {
	next, err := c.client.Incr(ctx, yearCounterKey(year)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr year counter: %w", err)
	}
	return next, nil
}

func (c *Counters) IncrementDoctorDayCounter(ctx context.Context, doctorID, day string) (int64, error) {
	key := doctorDayCounterKey(doctorID, day)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.dayTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr doctor day counter: %w", err)
	}
	return incr.Val(), nil
}

func yearCounterKey(year int) string {
	return fmt.Sprintf("%s%d", yearCounterKeyPrefix, year)
}

func doctorDayCounterKey(doctorID, day string) string {
	return doctorDayCounterKeyPrefix + doctorID + ":" + day
}
