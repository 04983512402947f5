// Package quotes holds the in-process quote cache served at /quotes.
package quotes

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/homeboard/yahoo"
)

// DefaultTTL is how long a fetched quote list is served without refetching.
const DefaultTTL = 5 * time.Minute

// DefaultFetchTimeout bounds an upstream fetch shared by concurrent callers.
const DefaultFetchTimeout = 30 * time.Second

const (
	freshKey = "quotes"
	lastKey  = "quotes:last"
)

// Where a response came from, as reported to Observer.
const (
	SourceUpstream = "upstream"
	SourceCache    = "cache"
	SourceStale    = "stale"
)

// Fetcher is the upstream the service reads through to.
type Fetcher interface {
	Quotes(ctx context.Context, symbols []string) ([]yahoo.Quote, error)
}

// Observer is told where every successful response came from.
type Observer interface {
	QuoteServed(source string)
}

type noopObserver struct{}

func (noopObserver) QuoteServed(string) {}

// Service is a TTL cache over a quote Fetcher. It is built once at startup
// and shared by the handlers.
type Service struct {
	fetcher  Fetcher
	symbols  []string
	ttl      time.Duration
	timeout  time.Duration
	cache    *gocache.Cache
	sf       singleflight.Group
	observer Observer
	logger   zerolog.Logger
}

type Option func(*Service)

func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithFetchTimeout bounds the shared upstream fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(fetcher Fetcher, symbols []string, opts ...Option) *Service {
	s := &Service{
		fetcher:  fetcher,
		symbols:  symbols,
		ttl:      DefaultTTL,
		timeout:  DefaultFetchTimeout,
		observer: noopObserver{},
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.cache = gocache.New(s.ttl, 2*s.ttl)
	return s
}

// Symbols returns the configured ticker symbols.
func (s *Service) Symbols() []string { return s.symbols }

// Get returns the quote list and whether it was served from cache. When the
// upstream fails and an earlier list exists, that list is returned as cached.
func (s *Service) Get(ctx context.Context) ([]yahoo.Quote, bool, error) {
	if v, ok := s.cache.Get(freshKey); ok {
		s.observer.QuoteServed(SourceCache)
		return v.([]yahoo.Quote), true, nil
	}

	// The fetch is shared, so it must not die with whichever caller started it.
	ch := s.sf.DoChan(freshKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		q, err := s.fetcher.Quotes(fctx, s.symbols)
		if err != nil {
			return nil, err
		}
		if q == nil {
			q = []yahoo.Quote{}
		}
		s.cache.SetDefault(freshKey, q)
		s.cache.Set(lastKey, q, gocache.NoExpiration)
		return q, nil
	})

	var (
		v   any
		err error
	)
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		v, err = res.Val, res.Err
	}
	if err == nil {
		s.observer.QuoteServed(SourceUpstream)
		return v.([]yahoo.Quote), false, nil
	}

	if last, ok := s.cache.Get(lastKey); ok {
		s.logger.Warn().Err(err).Msg("quote fetch failed, serving last good list")
		s.observer.QuoteServed(SourceStale)
		return last.([]yahoo.Quote), true, nil
	}
	return nil, false, err
}

// Invalidate drops the fresh list so the next Get refetches. The last good
// list is kept for fallback.
func (s *Service) Invalidate() {
	s.cache.Delete(freshKey)
}
