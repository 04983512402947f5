package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/homeboard/internal/app"
	"github.com/briangreenhill/homeboard/internal/config"
	"github.com/briangreenhill/homeboard/internal/coordinator"
	"github.com/briangreenhill/homeboard/internal/jobs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	logger := app.NewLogger(cfg, os.Stdout, "worker")

	if !app.SharedStore(cfg) {
		logger.Fatal().Str("store", cfg.Store).Msg("the worker needs a shared cache store (file, sqlite or postgres)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open cache store")
	}
	defer func() { _ = store.Close() }()

	reg := app.NewRegistry(cfg)
	coord, err := app.NewCoordinator(cfg, store, reg, coordinator.NoopMetrics{}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build coordinator")
	}
	loc, _ := cfg.Location()

	redis := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency:    4,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueMaintenance: 10,
			"default":             5,
		},
		Logger: asynqLogger{logger.With().Str("component", "asynq").Logger()},
	})
	mux := asynq.NewServeMux()
	h := &jobs.Handlers{Coord: coord, Store: store, Logger: logger.With().Str("component", "jobs").Logger()}
	h.Register(mux)

	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{Location: loc})
	if err := jobs.RegisterPeriodic(scheduler, reg.List(), cfg.PurgeInterval, cfg.WarmInterval); err != nil {
		logger.Fatal().Err(err).Msg("register periodic tasks")
	}

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().
		Dur("purge_every", cfg.PurgeInterval).
		Dur("warm_every", cfg.WarmInterval).
		Strs("domains", reg.List()).
		Msg("worker running")

	<-ctx.Done()
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker stopped")
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
