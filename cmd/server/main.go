package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/flagcore/flagcore/internal/api"
	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/config"
	"github.com/flagcore/flagcore/internal/coordinator"
	"github.com/flagcore/flagcore/internal/evaluation"
	"github.com/flagcore/flagcore/internal/store"
	"github.com/flagcore/flagcore/internal/telemetry"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("config validation failed")
	}

	ctx := context.Background()

	durable, err := store.NewDurable(ctx, cfg.StoreType, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("durable store init failed")
	}
	defer durable.Close()

	if pg, ok := durable.(*store.PostgresDurable); ok {
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("schema migration failed")
		}
	}

	// Warm the live cache and the replay window from durable state.
	records, err := durable.LoadAll(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("initial flag load failed")
	}
	cache := store.NewCache()
	cache.Warm(records)
	logger.Info().Int("flags", len(records)).Msg("cache warmed")

	feed := changelog.New(cfg.ChangelogRetain)

	coord := coordinator.New(durable, cache, feed, logger)
	coord.ForceRetries = cfg.CASMaxRetries

	evaluator := evaluation.New(cache, cfg.RolloutSalt)

	telemetry.Init()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Tail the durable change log so writes from other instances reach
	// the local cache and stream subscribers.
	follower := coordinator.NewFollower(durable, cache, feed, logger)
	follower.Interval = time.Duration(cfg.FollowIntervalMS) * time.Millisecond
	if err := follower.CatchUp(runCtx); err != nil {
		logger.Fatal().Err(err).Msg("change log catch-up failed")
	}
	go follower.Run(runCtx)

	srvAPI := api.NewServer(coord, evaluator, cache, feed, cfg.AdminAPIKey, cfg.RateLimitPerIP, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0, // SSE connections stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	logger.Info().Msg("stopped")
}
