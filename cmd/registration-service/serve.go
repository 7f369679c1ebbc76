package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinic/registration-service/internal/config"
	"clinic/registration-service/internal/httpapi"
	"clinic/registration-service/internal/hub"
	"clinic/registration-service/internal/logging"
	"clinic/registration-service/internal/registry"
	"clinic/registration-service/internal/relay"
	"clinic/registration-service/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "registration-service"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registration API, the event relay and the terminal stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	shutdownTracing := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	location, err := cfg.Location()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := seedDoctors(ctx, st.backend, cfg.Doctors()); err != nil {
		return err
	}

	manager := registry.NewManager(st.counters, st.backend, st.backend, registry.Options{
		Location: location,
		Logger:   logger,
		Metrics:  registry.NewMetrics(prometheus.DefaultRegisterer),
	})

	terminals := hub.New(logger)
	forwarder := relay.New(st.backend, terminals, relay.Config{
		PollInterval: cfg.RelayPollInterval(),
		BatchSize:    cfg.RelayBatchSize,
	}, logger)

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:       cfg.RateLimitPerMinute,
		IPBurst:           cfg.RateLimitBurst,
		TerminalPerMinute: cfg.TerminalRateLimitPerMin,
		TerminalBurst:     cfg.TerminalRateLimitBurst,
	})
	router := httpapi.NewHandler(manager, st.backend, httpapi.Options{
		Hub:     terminals,
		Limiter: limiter,
		Logger:  logger,
	}).Routes()
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(router, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", server.Addr).
			Str("store", cfg.StoreDriver).
			Str("counters", cfg.CounterDriver).
			Str("timezone", location.String()).
			Msg("registration-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return forwarder.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
