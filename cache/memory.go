package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps entries in process memory. go-cache's janitor removes
// entries once the retention ceiling has passed.
type MemoryStore struct {
	opts  options
	items *gocache.Cache

	// serialises Put/Delete so Delete can report what it removed
	mu sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store. cleanup is the janitor interval;
// zero disables the janitor and leaves purging to Purge.
func NewMemoryStore(cleanup time.Duration, opts ...Option) *MemoryStore {
	o := newOptions(opts)
	if cleanup <= 0 {
		cleanup = -1
	}
	return &MemoryStore{
		opts:  o,
		items: gocache.New(o.retention, cleanup),
	}
}

// Get implements Reader.
func (m *MemoryStore) Get(_ context.Context, domain, key string) (*Entry, bool, error) {
	v, found := m.items.Get(compositeKey(domain, key))
	if !found {
		return nil, false, nil
	}
	e := v.(Entry)
	if m.opts.expired(e.WrittenAt) {
		return nil, false, nil
	}
	return &e, true, nil
}

// Put implements Writer.
func (m *MemoryStore) Put(_ context.Context, domain, key string, payload json.RawMessage) (*Entry, error) {
	e := Entry{
		Domain:    domain,
		Key:       key,
		Payload:   append(json.RawMessage(nil), payload...),
		WrittenAt: m.opts.now(),
	}
	m.mu.Lock()
	m.items.Set(compositeKey(domain, key), e, gocache.DefaultExpiration)
	m.mu.Unlock()
	return &e, nil
}

// Delete implements Writer.
func (m *MemoryStore) Delete(_ context.Context, domain, key string) (bool, error) {
	k := compositeKey(domain, key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.items.Get(k); !found {
		return false, nil
	}
	m.items.Delete(k)
	return true, nil
}

// Purge implements Purger.
func (m *MemoryStore) Purge(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, item := range m.items.Items() {
		e, ok := item.Object.(Entry)
		if !ok || m.opts.expired(e.WrittenAt) {
			m.items.Delete(k)
			n++
		}
	}
	m.items.DeleteExpired()
	return n, nil
}

// Len returns the number of physically present entries, expired or not.
func (m *MemoryStore) Len() int {
	return m.items.ItemCount()
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.items.Flush()
	return nil
}
