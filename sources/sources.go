// Package sources defines the common interface for upstream data fetchers
// and the fixed table that maps a domain tag to its fetcher.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// ErrUpstreamUnavailable matches every fetch failure via errors.Is.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Fetcher retrieves fresh data for one domain from its upstream source.
// Implementations are stateless, make exactly one outbound call per Fetch
// and never retry.
type Fetcher interface {
	// Domain returns the domain tag served by this fetcher (e.g., "nhl")
	Domain() string

	// Fetch returns the upstream payload for the given YYYY-MM-DD date.
	// Fetchers whose data is not date-scoped ignore dateKey.
	Fetch(ctx context.Context, dateKey string) (json.RawMessage, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc struct {
	Name string
	Fn   func(ctx context.Context, dateKey string) (json.RawMessage, error)
}

// Domain implements Fetcher.
func (f FetcherFunc) Domain() string { return f.Name }

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, dateKey string) (json.RawMessage, error) {
	return f.Fn(ctx, dateKey)
}

// UpstreamError describes a failed upstream call.
type UpstreamError struct {
	Domain     string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream status %d %s: %v", e.Domain, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
	}
	return fmt.Sprintf("%s: upstream unavailable: %v", e.Domain, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is reports ErrUpstreamUnavailable as matching.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// Registry manages the fixed set of supported domains. It is populated at
// startup and only read afterwards.
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry creates a registry holding the given fetchers.
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: make(map[string]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		r.Register(f)
	}
	return r
}

// Register adds a fetcher, replacing any fetcher for the same domain.
func (r *Registry) Register(f Fetcher) {
	r.fetchers[f.Domain()] = f
}

// Get retrieves the fetcher for a domain
func (r *Registry) Get(domain string) (Fetcher, bool) {
	f, ok := r.fetchers[domain]
	return f, ok
}

// Supports reports whether domain is in the table.
func (r *Registry) Supports(domain string) bool {
	_, ok := r.fetchers[domain]
	return ok
}

// List returns all registered domains in sorted order
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
