package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/homeboard/cache"
	"github.com/briangreenhill/homeboard/sources"
)

type fakeFetcher struct {
	domain string
	calls  atomic.Int32
	mu     sync.Mutex
	body   string
	err    error
	gate   chan struct{} // when set, Fetch blocks until closed
}

func (f *fakeFetcher) Domain() string { return f.domain }

func (f *fakeFetcher) Fetch(ctx context.Context, dateKey string) (json.RawMessage, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.body != "" {
		return json.RawMessage(f.body), nil
	}
	return json.RawMessage(fmt.Sprintf(`{"date":%q,"call":%d}`, dateKey, n)), nil
}

func (f *fakeFetcher) set(body string, err error) {
	f.mu.Lock()
	f.body, f.err = body, err
	f.mu.Unlock()
}

type countingMetrics struct {
	mu                          sync.Mutex
	hits, misses, errs, refresh int
}

func (m *countingMetrics) Hit(string)        { m.add(&m.hits) }
func (m *countingMetrics) Miss(string)       { m.add(&m.misses) }
func (m *countingMetrics) FetchError(string) { m.add(&m.errs) }
func (m *countingMetrics) Refresh(string)    { m.add(&m.refresh) }

func (m *countingMetrics) add(n *int) {
	m.mu.Lock()
	*n++
	m.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	coord   *Coordinator
	store   *cache.MemoryStore
	nhl     *fakeFetcher
	clock   *clock
	metrics *countingMetrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2024-03-10 14:00 UTC is 10:00 in New York.
	clk := &clock{now: time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStore(0, cache.WithClock(clk.Now))
	nhl := &fakeFetcher{domain: "nhl"}
	m := &countingMetrics{}

	base := []Option{WithLocation(ny), WithClock(clk.Now), WithMetrics(m)}
	c := New(store, sources.NewRegistry(nhl, &fakeFetcher{domain: "nba"}), append(base, opts...)...)
	return &fixture{coord: c, store: store, nhl: nhl, clock: clk, metrics: m}
}

func TestReadThrough_MissThenHit(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.coord.ReadThrough(ctx, "nhl", "")
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.False(t, first.Refreshed)
	require.Equal(t, "2024-03-10", first.Key)
	require.Equal(t, int32(1), fx.nhl.calls.Load())

	// stored under today's key
	e, ok, err := fx.store.Get(ctx, "nhl", "2024-03-10")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, string(first.Payload), string(e.Payload))

	fx.clock.Advance(6 * time.Hour)
	second, err := fx.coord.ReadThrough(ctx, "nhl", "")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.JSONEq(t, string(first.Payload), string(second.Payload))
	require.True(t, second.AsOf.Equal(first.AsOf))
	require.Equal(t, int32(1), fx.nhl.calls.Load(), "no second upstream call")

	require.Equal(t, 1, fx.metrics.hits)
	require.Equal(t, 1, fx.metrics.misses)
}

func TestReadThrough_ExplicitDatesAreIndependent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	for _, key := range []string{"2024-03-08", "2024-03-09", "2024-03-08"} {
		_, err := fx.coord.ReadThrough(ctx, "nhl", key)
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), fx.nhl.calls.Load())
}

func TestReadThrough_NewDayStartsNewLine(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.coord.ReadThrough(ctx, "nhl", "")
	require.NoError(t, err)

	// 03:59 UTC next day is still 2024-03-10 in New York
	fx.clock.Advance(13*time.Hour + 59*time.Minute)
	r, err := fx.coord.ReadThrough(ctx, "nhl", "")
	require.NoError(t, err)
	require.True(t, r.Cached)
	require.Equal(t, "2024-03-10", r.Key)

	fx.clock.Advance(2 * time.Minute)
	r, err = fx.coord.ReadThrough(ctx, "nhl", "")
	require.NoError(t, err)
	require.False(t, r.Cached)
	require.Equal(t, "2024-03-11", r.Key)
	require.Equal(t, int32(2), fx.nhl.calls.Load())
}

func TestReadThrough_UnsupportedDomain(t *testing.T) {
	store := &failingStore{}
	c := New(store, sources.NewRegistry(&fakeFetcher{domain: "nhl"}))

	_, err := c.ReadThrough(context.Background(), "cricket", "")
	require.ErrorIs(t, err, ErrUnsupportedDomain)
	_, err = c.ForceRefresh(context.Background(), "cricket", "")
	require.ErrorIs(t, err, ErrUnsupportedDomain)
	require.Zero(t, store.calls.Load(), "no store access for unknown domains")
}

func TestReadThrough_InvalidDate(t *testing.T) {
	fx := newFixture(t)
	for _, key := range []string{"today", "2024-13-01", "03/10/2024", "2024-3-1"} {
		_, err := fx.coord.ReadThrough(context.Background(), "nhl", key)
		require.ErrorIs(t, err, ErrInvalidDate, key)
	}
	require.Zero(t, fx.nhl.calls.Load())
}

func TestReadThrough_FetchFailureWritesNothing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.nhl.set("", &sources.UpstreamError{Domain: "nhl", StatusCode: 503, Err: errors.New("unavailable")})

	_, err := fx.coord.ReadThrough(ctx, "nhl", "")
	require.ErrorIs(t, err, sources.ErrUpstreamUnavailable)
	var ue *sources.UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, 503, ue.StatusCode)
	require.Equal(t, 0, fx.store.Len())
	require.Equal(t, 1, fx.metrics.errs)

	// next call tries again
	fx.nhl.set("", nil)
	r, err := fx.coord.ReadThrough(ctx, "nhl", "")
	require.NoError(t, err)
	require.False(t, r.Cached)
	require.Equal(t, int32(2), fx.nhl.calls.Load())
}

func TestReadThrough_PlainFetchErrorsBecomeUpstreamErrors(t *testing.T) {
	fx := newFixture(t)
	fx.nhl.set("", context.DeadlineExceeded)

	_, err := fx.coord.ReadThrough(context.Background(), "nhl", "")
	require.ErrorIs(t, err, sources.ErrUpstreamUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadThrough_InvalidJSONIsNotCached(t *testing.T) {
	fx := newFixture(t)
	fx.nhl.set("<html>", nil)

	_, err := fx.coord.ReadThrough(context.Background(), "nhl", "")
	require.ErrorIs(t, err, sources.ErrUpstreamUnavailable)
	require.Equal(t, 0, fx.store.Len())

	// semantically empty but valid JSON is cached as-is
	fx.nhl.set(`{}`, nil)
	r, err := fx.coord.ReadThrough(context.Background(), "nhl", "")
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(r.Payload))
	require.Equal(t, 1, fx.store.Len())
}

func TestReadThrough_StoreFailure(t *testing.T) {
	store := &failingStore{}
	f := &fakeFetcher{domain: "nhl"}
	c := New(store, sources.NewRegistry(f))

	_, err := c.ReadThrough(context.Background(), "nhl", "2024-03-10")
	require.ErrorIs(t, err, cache.ErrUnavailable)
	require.Zero(t, f.calls.Load())
}

func TestReadThrough_RetentionExpiredLineIsRefetched(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.coord.ReadThrough(ctx, "nhl", "2024-03-01")
	require.NoError(t, err)

	fx.clock.Advance(cache.DefaultRetention + time.Hour)
	r, err := fx.coord.ReadThrough(ctx, "nhl", "2024-03-01")
	require.NoError(t, err)
	require.False(t, r.Cached)
	require.Equal(t, int32(2), fx.nhl.calls.Load())
}

func TestForceRefresh_ReplacesLine(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.nhl.set(`{"v":1}`, nil)
	_, err := fx.coord.ReadThrough(ctx, "nhl", "")
	require.NoError(t, err)

	fx.clock.Advance(time.Hour)
	fx.nhl.set(`{"v":2}`, nil)
	r, err := fx.coord.ForceRefresh(ctx, "nhl", "")
	require.NoError(t, err)
	require.True(t, r.Refreshed)
	require.False(t, r.Cached)
	require.JSONEq(t, `{"v":2}`, string(r.Payload))
	require.True(t, r.AsOf.Equal(fx.clock.Now()))

	e, ok, err := fx.store.Get(ctx, "nhl", "2024-03-10")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"v":2}`, string(e.Payload))

	after, err := fx.coord.ReadThrough(ctx, "nhl", "")
	require.NoError(t, err)
	require.True(t, after.Cached)
	require.JSONEq(t, `{"v":2}`, string(after.Payload))
	require.Equal(t, int32(2), fx.nhl.calls.Load())
	require.Equal(t, 1, fx.metrics.refresh)
}

func TestForceRefresh_FailureLeavesLineEmpty(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.coord.ReadThrough(ctx, "nhl", "")
	require.NoError(t, err)

	fx.nhl.set("", errors.New("connection reset"))
	_, err = fx.coord.ForceRefresh(ctx, "nhl", "")
	require.ErrorIs(t, err, sources.ErrUpstreamUnavailable)

	_, ok, err := fx.store.Get(ctx, "nhl", "2024-03-10")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadThrough_ConcurrentMisses(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		wantCalls func(t *testing.T, calls int32)
	}{
		{
			name: "without single flight",
			wantCalls: func(t *testing.T, calls int32) {
				require.GreaterOrEqual(t, calls, int32(1))
			},
		},
		{
			name: "with single flight",
			opts: []Option{WithSingleFlight()},
			wantCalls: func(t *testing.T, calls int32) {
				require.Equal(t, int32(1), calls)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, tt.opts...)
			fx.nhl.gate = make(chan struct{})

			const n = 10
			var wg sync.WaitGroup
			results := make([]Result, n)
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = fx.coord.ReadThrough(context.Background(), "nhl", "2024-03-10")
				}(i)
			}
			require.Eventually(t, func() bool { return fx.nhl.calls.Load() >= 1 }, time.Second, time.Millisecond)
			time.Sleep(20 * time.Millisecond)
			close(fx.nhl.gate)
			wg.Wait()

			for i := 0; i < n; i++ {
				require.NoError(t, errs[i])
				require.NotEmpty(t, results[i].Payload)
			}
			tt.wantCalls(t, fx.nhl.calls.Load())
			require.Equal(t, 1, fx.store.Len(), "one line per (domain, key)")
		})
	}
}

func TestReadThrough_CancelledCallerDoesNotFailJoinedCallers(t *testing.T) {
	fx := newFixture(t, WithSingleFlight())
	fx.nhl.gate = make(chan struct{})

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	var (
		wg         sync.WaitGroup
		errA, errB error
		resB       Result
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errA = fx.coord.ReadThrough(ctxA, "nhl", "2024-03-10")
	}()
	require.Eventually(t, func() bool { return fx.nhl.calls.Load() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		resB, errB = fx.coord.ReadThrough(context.Background(), "nhl", "2024-03-10")
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	time.Sleep(20 * time.Millisecond)
	close(fx.nhl.gate)
	wg.Wait()

	require.ErrorIs(t, errA, context.Canceled)
	require.NoError(t, errB)
	require.JSONEq(t, `{"date":"2024-03-10","call":1}`, string(resB.Payload))
	require.Equal(t, int32(1), fx.nhl.calls.Load())

	_, ok, err := fx.store.Get(context.Background(), "nhl", "2024-03-10")
	require.NoError(t, err)
	require.True(t, ok, "the shared fetch still fills the line")
}

func TestReadThrough_SharedFetchTimeout(t *testing.T) {
	fx := newFixture(t, WithSingleFlight(), WithSharedFetchTimeout(20*time.Millisecond))
	fx.nhl.gate = make(chan struct{})
	defer close(fx.nhl.gate)

	_, err := fx.coord.ReadThrough(context.Background(), "nhl", "2024-03-10")
	require.ErrorIs(t, err, sources.ErrUpstreamUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestToday(t *testing.T) {
	fx := newFixture(t)
	require.Equal(t, "2024-03-10", fx.coord.Today())

	utc := New(fx.store, sources.NewRegistry(), WithClock(func() time.Time {
		return time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC)
	}))
	require.Equal(t, "2024-03-11", utc.Today())
	fx.clock.Advance(12 * time.Hour) // 2024-03-11 02:00 UTC
	require.Equal(t, "2024-03-10", fx.coord.Today(), "still the 10th in New York")
}

// failingStore reports every operation as unavailable.
type failingStore struct {
	calls atomic.Int32
}

func (s *failingStore) fail() error {
	s.calls.Add(1)
	return fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
}

func (s *failingStore) Get(context.Context, string, string) (*cache.Entry, bool, error) {
	return nil, false, s.fail()
}

func (s *failingStore) Put(context.Context, string, string, json.RawMessage) (*cache.Entry, error) {
	return nil, s.fail()
}

func (s *failingStore) Delete(context.Context, string, string) (bool, error) {
	return false, s.fail()
}

func (s *failingStore) Purge(context.Context) (int64, error) { return 0, s.fail() }
func (s *failingStore) Close() error                         { return nil }
