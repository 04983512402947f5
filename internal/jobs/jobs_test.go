package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/homeboard/cache"
	"github.com/briangreenhill/homeboard/internal/coordinator"
	"github.com/briangreenhill/homeboard/sources"
)

func newHandlers(t *testing.T, fetch func(ctx context.Context, dateKey string) (json.RawMessage, error)) (*Handlers, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore(0)
	reg := sources.NewRegistry(sources.FetcherFunc{Name: "nhl", Fn: fetch})
	coord := coordinator.New(store, reg, coordinator.WithClock(func() time.Time {
		return time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	}))
	return &Handlers{Coord: coord, Store: store, Logger: zerolog.Nop()}, store
}

func TestNewWarmTask(t *testing.T) {
	task, err := NewWarmTask("nba-standings", "2024-03-10")
	require.NoError(t, err)
	require.Equal(t, TaskWarmDomain, task.Type())

	var p WarmPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	require.Equal(t, WarmPayload{Domain: "nba-standings", Date: "2024-03-10"}, p)

	require.Equal(t, TaskPurgeCache, NewPurgeTask().Type())
}

func TestHandleWarm_FillsTodaysLine(t *testing.T) {
	h, store := newHandlers(t, func(ctx context.Context, dateKey string) (json.RawMessage, error) {
		return json.RawMessage(`{"date":"` + dateKey + `"}`), nil
	})
	task, err := NewWarmTask("nhl", "")
	require.NoError(t, err)

	require.NoError(t, h.HandleWarm(context.Background(), task))

	e, ok, err := store.Get(context.Background(), "nhl", "2024-03-10")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"date":"2024-03-10"}`, string(e.Payload))
}

func TestHandleWarm_Errors(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		fetchErr  error
		wantRetry bool
	}{
		{"bad payload", []byte("{"), nil, false},
		{"unknown domain", []byte(`{"domain":"cricket"}`), nil, false},
		{"bad date", []byte(`{"domain":"nhl","date":"yesterday"}`), nil, false},
		{"upstream 503", []byte(`{"domain":"nhl"}`), &sources.UpstreamError{Domain: "nhl", StatusCode: 503, Err: errors.New("down")}, true},
		{"upstream 429", []byte(`{"domain":"nhl"}`), &sources.UpstreamError{Domain: "nhl", StatusCode: 429, Err: errors.New("slow")}, true},
		{"upstream 404", []byte(`{"domain":"nhl"}`), &sources.UpstreamError{Domain: "nhl", StatusCode: 404, Err: errors.New("gone")}, false},
		{"transport", []byte(`{"domain":"nhl"}`), errors.New("dial tcp: connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHandlers(t, func(context.Context, string) (json.RawMessage, error) {
				if tt.fetchErr != nil {
					return nil, tt.fetchErr
				}
				return json.RawMessage(`{}`), nil
			})
			err := h.HandleWarm(context.Background(), asynq.NewTask(TaskWarmDomain, tt.payload))
			require.Error(t, err)
			require.Equal(t, !tt.wantRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandlePurge(t *testing.T) {
	h, store := newHandlers(t, nil)
	var reported int64 = -1
	h.OnPurge = func(n int64) { reported = n }

	_, err := store.Put(context.Background(), "nhl", "2024-03-01", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, h.HandlePurge(context.Background(), NewPurgeTask()))
	require.Equal(t, int64(0), reported, "fresh entries survive")
	require.Equal(t, 1, store.Len())
}

func TestIsRetryable_StoreOutage(t *testing.T) {
	require.True(t, isRetryable(fmt.Errorf("%w: connection refused", cache.ErrUnavailable)))
	require.False(t, isRetryable(errors.New("something else")))
}

type fakeRegistrar struct {
	specs []string
	types []string
}

func (f *fakeRegistrar) Register(cronspec string, task *asynq.Task, _ ...asynq.Option) (string, error) {
	f.specs = append(f.specs, cronspec)
	f.types = append(f.types, task.Type())
	return fmt.Sprintf("entry-%d", len(f.specs)), nil
}

func TestRegisterPeriodic(t *testing.T) {
	r := &fakeRegistrar{}
	require.NoError(t, RegisterPeriodic(r, []string{"nhl", "nhl-standings"}, time.Hour, 30*time.Minute))
	require.Equal(t, []string{"@every 1h0m0s", "@every 30m0s", "@every 30m0s"}, r.specs)
	require.Equal(t, []string{TaskPurgeCache, TaskWarmDomain, TaskWarmDomain}, r.types)

	r = &fakeRegistrar{}
	require.NoError(t, RegisterPeriodic(r, []string{"nhl"}, time.Hour, 0))
	require.Equal(t, []string{TaskPurgeCache}, r.types)

	require.Error(t, RegisterPeriodic(&fakeRegistrar{}, nil, 0, 0))
}
