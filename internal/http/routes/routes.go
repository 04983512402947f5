package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/homeboard/internal/coordinator"
	appmw "github.com/briangreenhill/homeboard/internal/http/middleware"
	"github.com/briangreenhill/homeboard/internal/jobs"
	"github.com/briangreenhill/homeboard/internal/quotes"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	Router  *chi.Mux
	Coord   *coordinator.Coordinator
	Quotes  *quotes.Service
	Jobs    Enqueuer
	Metrics http.Handler
}

type ServerOptions struct {
	Coord   *coordinator.Coordinator
	Quotes  *quotes.Service
	Jobs    Enqueuer     // optional; enables POST /cache/{domain}/warm
	Metrics http.Handler // optional; served at /metrics
	Logger  zerolog.Logger
	Timeout time.Duration
}

// CacheResponse is the body of the /cache endpoints.
type CacheResponse struct {
	Data        json.RawMessage `json:"data"`
	Cached      bool            `json:"cached"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Date        string          `json:"date"`
	Refreshed   bool            `json:"refreshed,omitempty"`
}

func New(opts ServerOptions) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(opts.Timeout))

	s := &Server{Router: r, Coord: opts.Coord, Quotes: opts.Quotes, Jobs: opts.Jobs, Metrics: opts.Metrics}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Get("/quotes", s.handleQuotes)
	r.Get("/cache", s.handleDomains)
	r.Route("/cache/{domain}", func(cr chi.Router) {
		cr.Use(appmw.RequireDomain(s.Coord.Supports))
		cr.Get("/", s.handleReadThrough)
		cr.Post("/refresh", s.handleRefresh)
		if s.Jobs != nil {
			cr.Post("/warm", s.handleWarm)
		}
	})

	return s
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"domains": s.Coord.Domains(),
		"today":   s.Coord.Today(),
	})
}

func (s *Server) handleReadThrough(w http.ResponseWriter, r *http.Request) {
	res, err := s.Coord.ReadThrough(r.Context(), appmw.Domain(r.Context()), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toResponse(res))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.Coord.ForceRefresh(r.Context(), appmw.Domain(r.Context()), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Str("domain", res.Domain).Str("date", res.Key).Msg("cache line refreshed")
	writeJSON(w, r, http.StatusOK, toResponse(res))
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	domain := appmw.Domain(r.Context())
	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			writeError(w, r, coordinator.ErrInvalidDate)
			return
		}
	}

	task, err := jobs.NewWarmTask(domain, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := s.Jobs.EnqueueContext(r.Context(), task)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("domain", domain).Msg("[asynq] enqueue failed")
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": "Failed to enqueue warm task"})
		return
	}
	hlog.FromRequest(r).Info().Str("id", info.ID).Str("queue", info.Queue).Msg("[asynq] enqueued warm task")
	writeJSON(w, r, http.StatusAccepted, map[string]string{"id": info.ID, "queue": info.Queue})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	q, cached, err := s.Quotes.Get(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("fetch quotes failed")
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch quotes"})
		return
	}
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, r, http.StatusOK, q)
}

func toResponse(res coordinator.Result) CacheResponse {
	return CacheResponse{
		Data:        res.Payload,
		Cached:      res.Cached,
		LastUpdated: res.AsOf.UTC(),
		Date:        res.Key,
		Refreshed:   res.Refreshed,
	}
}

// writeError maps coordinator errors to a status and a generic body. The
// underlying error is only logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, coordinator.ErrUnsupportedDomain):
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "Invalid sport"})
	case errors.Is(err, coordinator.ErrInvalidDate):
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "Invalid date, expected YYYY-MM-DD"})
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("cache request failed")
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch data"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
	}
}
