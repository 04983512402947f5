// Package coordinator implements the per-day read-through policy that sits
// between the HTTP handlers, the cache store and the upstream fetchers.
//
// A cache line is keyed by (domain, date). Once written it is served for the
// rest of that calendar day; a new day starts a new line. Entries only
// disappear when they pass the store's retention ceiling or are replaced by
// a forced refresh.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/homeboard/cache"
	"github.com/briangreenhill/homeboard/sources"
)

var (
	// ErrUnsupportedDomain is returned for domain tags outside the registry.
	ErrUnsupportedDomain = errors.New("unsupported domain")
	// ErrInvalidDate is returned when a caller-supplied key is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date key")

	errInvalidPayload = errors.New("payload is not valid JSON")
)

// Result is the outcome of a read-through or refresh.
type Result struct {
	Domain    string
	Key       string
	Payload   json.RawMessage
	Cached    bool
	Refreshed bool
	AsOf      time.Time
}

type Coordinator struct {
	store    cache.Store
	registry *sources.Registry
	loc      *time.Location
	now      func() time.Time
	metrics  Metrics
	logger   zerolog.Logger
	sf       *singleflight.Group
	// bounds a shared fetch, which outlives any single caller's context
	sharedTimeout time.Duration
}

// DefaultSharedFetchTimeout bounds a single-flight fetch.
const DefaultSharedFetchTimeout = 30 * time.Second

type Option func(*Coordinator)

// WithLocation sets the reference timezone used to derive today's key.
func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithSingleFlight collapses concurrent misses for the same (domain, key)
// into a single upstream fetch.
func WithSingleFlight() Option {
	return func(c *Coordinator) { c.sf = &singleflight.Group{} }
}

// WithSharedFetchTimeout bounds fetches started under single-flight.
func WithSharedFetchTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.sharedTimeout = d
		}
	}
}

func New(store cache.Store, registry *sources.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		registry: registry,
		loc:      time.UTC,
		now:      time.Now,
		metrics:  NoopMetrics{},
		logger:   zerolog.Nop(),

		sharedTimeout: DefaultSharedFetchTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Today returns the current date key in the reference timezone.
func (c *Coordinator) Today() string {
	return c.now().In(c.loc).Format(time.DateOnly)
}

// Domains lists the supported domain tags.
func (c *Coordinator) Domains() []string {
	return c.registry.List()
}

// Supports reports whether domain has a fetcher.
func (c *Coordinator) Supports(domain string) bool {
	return c.registry.Supports(domain)
}

// ReadThrough returns the cached line for (domain, dateKey), fetching and
// storing it on a miss. An empty dateKey means today.
func (c *Coordinator) ReadThrough(ctx context.Context, domain, dateKey string) (Result, error) {
	f, key, err := c.resolve(domain, dateKey)
	if err != nil {
		return Result{}, err
	}

	e, ok, err := c.store.Get(ctx, domain, key)
	if err != nil {
		return Result{}, err
	}
	if ok {
		c.metrics.Hit(domain)
		return Result{Domain: domain, Key: key, Payload: e.Payload, Cached: true, AsOf: e.WrittenAt}, nil
	}

	c.metrics.Miss(domain)
	e, err = c.fill(ctx, f, key)
	if err != nil {
		return Result{}, err
	}
	return Result{Domain: domain, Key: key, Payload: e.Payload, AsOf: e.WrittenAt}, nil
}

// ForceRefresh drops any existing line for (domain, dateKey) and fetches it
// again unconditionally. If the fetch fails the line stays empty.
func (c *Coordinator) ForceRefresh(ctx context.Context, domain, dateKey string) (Result, error) {
	f, key, err := c.resolve(domain, dateKey)
	if err != nil {
		return Result{}, err
	}

	c.metrics.Refresh(domain)
	if _, err := c.store.Delete(ctx, domain, key); err != nil {
		return Result{}, err
	}

	e, err := c.fetchAndStore(ctx, f, key)
	if err != nil {
		return Result{}, err
	}
	return Result{Domain: domain, Key: key, Payload: e.Payload, Refreshed: true, AsOf: e.WrittenAt}, nil
}

func (c *Coordinator) resolve(domain, dateKey string) (sources.Fetcher, string, error) {
	f, ok := c.registry.Get(domain)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedDomain, domain)
	}
	if dateKey == "" {
		return f, c.Today(), nil
	}
	if _, err := time.ParseInLocation(time.DateOnly, dateKey, c.loc); err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidDate, dateKey)
	}
	return f, dateKey, nil
}

// fill fetches a missing line. Under single-flight the fetch runs detached
// from the caller that started it, so one caller going away does not fail
// the others; each caller still stops waiting when its own ctx is done.
func (c *Coordinator) fill(ctx context.Context, f sources.Fetcher, key string) (*cache.Entry, error) {
	if c.sf == nil {
		return c.fetchAndStore(ctx, f, key)
	}
	ch := c.sf.DoChan(f.Domain()+"|"+key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sharedTimeout)
		defer cancel()
		return c.fetchAndStore(fctx, f, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug().Str("domain", f.Domain()).Str("key", key).Msg("joined in-flight fetch")
		}
		return res.Val.(*cache.Entry), nil
	}
}

// fetchAndStore makes exactly one upstream call and writes the payload. No
// store lock is held while the fetch is in flight.
func (c *Coordinator) fetchAndStore(ctx context.Context, f sources.Fetcher, key string) (*cache.Entry, error) {
	domain := f.Domain()
	start := c.now()

	payload, err := f.Fetch(ctx, key)
	if err == nil && !json.Valid(payload) {
		err = errInvalidPayload
	}
	if err != nil {
		c.metrics.FetchError(domain)
		if !errors.Is(err, sources.ErrUpstreamUnavailable) {
			err = &sources.UpstreamError{Domain: domain, Err: err}
		}
		return nil, err
	}

	e, err := c.store.Put(ctx, domain, key, payload)
	if err != nil {
		c.metrics.FetchError(domain)
		return nil, err
	}
	c.logger.Debug().
		Str("domain", domain).
		Str("key", key).
		Dur("took", c.now().Sub(start)).
		Int("bytes", len(payload)).
		Msg("cache line filled")
	return e, nil
}
