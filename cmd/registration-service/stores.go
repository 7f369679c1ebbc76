package main

import (
	"context"
	"fmt"

	"clinic/registration-service/internal/config"
	"clinic/registration-service/internal/models"
	"clinic/registration-service/internal/store"
	"clinic/registration-service/internal/store/memory"
	"clinic/registration-service/internal/store/postgres"
	redisstore "clinic/registration-service/internal/store/redis"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type visitBackend interface {
	store.VisitStore
	store.DoctorDirectory
	store.DoctorWriter
	store.OutboxReader
}

type stores struct {
	counters store.CounterStore
	backend  visitBackend
	closers  []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	out := &stores{}

	var pool *pgxpool.Pool
	if cfg.StoreDriver == config.DriverPostgres || cfg.CounterDriver == config.DriverPostgres {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		out.closers = append(out.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			out.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
	}

	var mem *memory.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem = memory.NewStore()
		out.backend = mem
		logger.Warn().Msg("using in-memory store; visits are lost on restart")
	default:
		out.backend = postgres.NewStore(pool)
	}

	switch cfg.CounterDriver {
	case config.DriverRedis:
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.closers = append(out.closers, func() { _ = client.Close() })
		out.counters = redisstore.NewCounters(client)
	case config.DriverMemory:
		out.counters = mem
	default:
		out.counters = postgres.NewStore(pool)
	}
	return out, nil
}

func seedDoctors(ctx context.Context, writer store.DoctorWriter, doctors map[string]string) error {
	for id, name := range doctors {
		if err := writer.UpsertDoctor(ctx, models.Doctor{DoctorID: id, Name: name, Active: true}); err != nil {
			return fmt.Errorf("seed doctor %s: %w", id, err)
		}
	}
	return nil
}
