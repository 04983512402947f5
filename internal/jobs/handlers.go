package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/homeboard/cache"
	"github.com/briangreenhill/homeboard/internal/coordinator"
	"github.com/briangreenhill/homeboard/sources"
)

// Handlers runs the background cache tasks.
type Handlers struct {
	Coord  *coordinator.Coordinator
	Store  cache.Purger
	Logger zerolog.Logger
	// OnPurge, when set, receives the number of purged entries.
	OnPurge func(removed int64)
}

// Register wires the task handlers into mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskPurgeCache, h.HandlePurge)
	mux.HandleFunc(TaskWarmDomain, h.HandleWarm)
}

func (h *Handlers) HandlePurge(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	n, err := h.Store.Purge(ctx)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("[purge] failed")
		return err
	}
	if h.OnPurge != nil {
		h.OnPurge(n)
	}
	h.Logger.Info().Int64("removed", n).Dur("duration", time.Since(start)).Msg("[purge] done")
	return nil
}

func (h *Handlers) HandleWarm(ctx context.Context, t *asynq.Task) error {
	var p WarmPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.Logger.Error().Err(err).Msg("[warm] bad payload")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	start := time.Now()
	res, err := h.Coord.ReadThrough(ctx, p.Domain, p.Date)
	log := h.Logger.With().Str("domain", p.Domain).Str("date", p.Date).Dur("duration", time.Since(start)).Logger()
	if err != nil {
		if !isRetryable(err) {
			log.Warn().Err(err).Msg("[warm] permanent error (dropping job)")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		log.Warn().Err(err).Msg("[warm] retryable error")
		return err
	}
	log.Info().Bool("cached", res.Cached).Str("key", res.Key).Msg("[warm] done")
	return nil
}

// isRetryable reports whether a failed warm is worth another attempt:
// transport failures, rate limits, 5xx responses and store outages.
func isRetryable(err error) bool {
	if errors.Is(err, coordinator.ErrUnsupportedDomain) || errors.Is(err, coordinator.ErrInvalidDate) {
		return false
	}
	var ue *sources.UpstreamError
	if errors.As(err, &ue) {
		switch {
		case ue.StatusCode == 0:
			return true
		case ue.StatusCode == http.StatusTooManyRequests:
			return true
		case ue.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return errors.Is(err, cache.ErrUnavailable)
}
