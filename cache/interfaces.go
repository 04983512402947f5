// Package cache provides the durable key-value store behind the dashboard's
// read-through cache. Entries are keyed by (domain, key), hold the upstream
// payload verbatim and are treated as absent once they are older than the
// store's retention ceiling.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultRetention is how long an entry survives before it is treated as
// absent and becomes eligible for purging.
const DefaultRetention = 7 * 24 * time.Hour

// ErrUnavailable wraps every failure of the underlying storage backend.
var ErrUnavailable = errors.New("cache store unavailable")

// Entry represents a cached upstream payload with metadata
type Entry struct {
	Domain    string          `json:"domain"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	WrittenAt time.Time       `json:"written_at"`
}

// Reader looks up entries.
type Reader interface {
	// Get returns the entry for (domain, key). Entries older than the
	// retention ceiling are reported as absent.
	Get(ctx context.Context, domain, key string) (*Entry, bool, error)
}

// Writer stores and removes entries.
type Writer interface {
	// Put upserts the payload, replacing any existing entry and resetting
	// its write time.
	Put(ctx context.Context, domain, key string, payload json.RawMessage) (*Entry, error)

	// Delete removes the entry and reports whether anything was removed.
	Delete(ctx context.Context, domain, key string) (bool, error)
}

// Purger physically removes entries past the retention ceiling.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Store is the main interface that combines all cache operations
type Store interface {
	Reader
	Writer
	Purger
	Close() error
}

// options shared by every backend.
type options struct {
	retention time.Duration
	now       func() time.Time
}

// Option configures a Store.
type Option func(*options)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithClock sets the time source used for write stamps and retention checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{retention: DefaultRetention, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// expired reports whether an entry written at t is past the retention ceiling.
func (o options) expired(t time.Time) bool {
	return o.now().Sub(t) > o.retention
}

func (o options) cutoff() time.Time {
	return o.now().Add(-o.retention)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
