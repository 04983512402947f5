// cmd/api/main.go
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

	"github.com/briangreenhill/homeboard/cache"
	"github.com/briangreenhill/homeboard/internal/app"
	"github.com/briangreenhill/homeboard/internal/config"
	"github.com/briangreenhill/homeboard/internal/http/routes"
	"github.com/briangreenhill/homeboard/internal/metrics"
	"github.com/briangreenhill/homeboard/internal/quotes"
	"github.com/briangreenhill/homeboard/yahoo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}

	// Logger
	logger := app.NewLogger(cfg, os.Stdout, "api")
	logger.Info().Str("port", cfg.Port).Str("store", cfg.Store).Msg("starting app")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache store
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open cache store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("close cache store")
		}
	}()

	m := metrics.New()

	purger := cache.NewPurgeLoop(store, cfg.PurgeInterval, logger)
	purger.OnPurge(m.Purged)
	purger.Start(ctx)
	defer purger.Stop()

	// Sports
	coord, err := app.NewCoordinator(cfg, store, app.NewRegistry(cfg), m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build coordinator")
	}

	// Quotes
	yc := yahoo.New(
		yahoo.WithBaseURL(cfg.Quotes.BaseURL),
		yahoo.WithHTTPClient(&http.Client{Timeout: cfg.Quotes.Timeout}),
	)
	qs := quotes.NewService(yc, cfg.Quotes.Symbols,
		quotes.WithTTL(cfg.Quotes.TTL),
		quotes.WithFetchTimeout(cfg.Quotes.Timeout),
		quotes.WithObserver(m),
		quotes.WithLogger(logger.With().Str("component", "quotes").Logger()),
	)

	// Jobs
	var enq routes.Enqueuer
	if jobsClient := app.NewJobsClient(cfg); jobsClient != nil {
		defer func() {
			if err := jobsClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close asynq client")
			}
		}()
		enq = jobsClient
	} else {
		logger.Info().Str("store", cfg.Store).Msg("cache store is in-process, warm route disabled")
	}

	// Router / server
	s := routes.New(routes.ServerOptions{
		Coord:   coord,
		Quotes:  qs,
		Jobs:    enq,
		Metrics: m.Handler(),
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Strs("domains", coord.Domains()).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server error")
	}
}
