package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/app"
	"github.com/dontdude/codebox/internal/config"
	"github.com/dontdude/codebox/internal/platform/web"
	"github.com/dontdude/codebox/internal/worker"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	logger := cfg.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Assemble the execution stack
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize compilation service")
	}

	// 3. Direct compilations go through a bounded pool
	pool := worker.NewPool(cfg.DirectConcurrency, a.Router, logger)
	pool.Start()

	// 4. Forward lifecycle events to WebSocket clients
	hub := web.NewHub(a.Queue, logger)
	if err := hub.Start(ctx, a.Broker); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to lifecycle events")
	}

	// 5. HTTP surface
	limiter := web.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.StartCleanup(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           web.NewRouter(web.NewHandler(a.Queue, pool, logger), hub, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// 6. Graceful shutdown; a second signal kills every sandbox immediately
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	go func() {
		<-stop
		logger.Warn().Msg("forced shutdown")
		a.Kill()
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	// Stop the queue from starting new sandboxes before sweeping the live ones.
	cancel()
	a.Shutdown(shutdownCtx)
	pool.Stop()
	logger.Info().Msg("server stopped")
}
