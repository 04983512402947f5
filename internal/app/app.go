// Package app builds the components shared by the api and worker binaries
// from a loaded Config.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/homeboard/cache"
	"github.com/briangreenhill/homeboard/espn"
	"github.com/briangreenhill/homeboard/internal/config"
	"github.com/briangreenhill/homeboard/internal/coordinator"
	"github.com/briangreenhill/homeboard/sources"
)

// NewLogger returns the process logger at the configured level.
func NewLogger(cfg config.Config, w io.Writer, component string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).Level(cfg.Level()).With().Timestamp().Str("app", component).Logger()
}

// OpenStore opens the configured cache backend.
func OpenStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	opts := []cache.Option{cache.WithRetention(cfg.Retention)}
	switch cfg.Store {
	case config.StoreMemory:
		return cache.NewMemoryStore(cfg.PurgeInterval, opts...), nil
	case config.StoreFile:
		return cache.NewFileStore(cfg.FileDir, opts...)
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return cache.NewSQLite(cfg.SQLitePath, opts...)
	case config.StorePostgres:
		return cache.NewPostgres(ctx, cfg.DatabaseURL, opts...)
	default:
		return nil, fmt.Errorf("unknown cache store %q", cfg.Store)
	}
}

// SharedStore reports whether the configured cache store can be read by
// more than one process. The worker only helps the api when it is.
func SharedStore(cfg config.Config) bool {
	return cfg.Store != config.StoreMemory
}

// NewJobsClient returns the asynq client behind the api's warm route, or
// nil when the store is in-process and a worker could not fill it.
func NewJobsClient(cfg config.Config) *asynq.Client {
	if !SharedStore(cfg) {
		return nil
	}
	return asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
}

// NewRegistry builds the scoreboard and standings fetchers for the
// configured sports.
func NewRegistry(cfg config.Config) *sources.Registry {
	client := espn.New(espn.WithBaseURL(cfg.ESPN.BaseURL), espn.WithTimeout(cfg.ESPN.Timeout))
	return sources.NewRegistry(espn.Fetchers(client, cfg.Sports)...)
}

// NewCoordinator wires the coordinator with the configured timezone and
// single-flight setting.
func NewCoordinator(cfg config.Config, store cache.Store, reg *sources.Registry, m coordinator.Metrics, logger zerolog.Logger) (*coordinator.Coordinator, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	opts := []coordinator.Option{
		coordinator.WithLocation(loc),
		coordinator.WithMetrics(m),
		coordinator.WithLogger(logger.With().Str("component", "coordinator").Logger()),
	}
	if cfg.SingleFlight {
		opts = append(opts, coordinator.WithSingleFlight(), coordinator.WithSharedFetchTimeout(cfg.ESPN.Timeout))
	}
	return coordinator.New(store, reg, opts...), nil
}
