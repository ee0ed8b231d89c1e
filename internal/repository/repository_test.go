package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-places/internal/idgen"
	"github.com/i474232898/weather-places/internal/observability"
	"github.com/i474232898/weather-places/internal/store"
	"github.com/i474232898/weather-places/internal/weather"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeFetcher resolves any city to itself and stamps a temperature. Hooks
// override the default behavior per test.
type fakeFetcher struct {
	requests *weather.RequestQueue

	mu        sync.Mutex
	searchFn  func(ctx context.Context, city, country string, target weather.Place) weather.Result
	refreshFn func(ctx context.Context, target weather.Place) weather.Result
	started   chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{requests: weather.NewRequestQueue()}
}

func (f *fakeFetcher) Search(ctx context.Context, city, country string, target weather.Place) weather.Result {
	ctx, release := f.requests.Track(ctx)
	defer release()
	f.signal()

	f.mu.Lock()
	fn := f.searchFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, city, country, target)
	}
	p := target.Clone()
	p.Geolocation = weather.Geolocation{City: city, Country: country}
	p.CurrentWeather = &weather.CurrentWeather{Time: testNow, TemperatureC: 20}
	return weather.Success(p)
}

func (f *fakeFetcher) Refresh(ctx context.Context, target weather.Place) weather.Result {
	ctx, release := f.requests.Track(ctx)
	defer release()
	f.signal()

	f.mu.Lock()
	fn := f.refreshFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, target)
	}
	p := target.Clone()
	p.CurrentWeather = &weather.CurrentWeather{Time: testNow, TemperatureC: 42}
	return weather.Success(p)
}

func (f *fakeFetcher) CancelAll() int {
	return f.requests.CancelAll()
}

func (f *fakeFetcher) signal() {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
}

// blockUntilCancelled makes every call wait for its context.
func blockUntilCancelled(ctx context.Context) weather.Result {
	<-ctx.Done()
	return weather.Failure(weather.NewFetchError(weather.StatusNoAnswer, weather.StagePrimary, ctx.Err()))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	repo    *Repository
	store   *store.MemoryStore
	fetcher *fakeFetcher
	metrics *observability.Metrics
}

func newFixture(t *testing.T, seeded int, opts ...Option) *fixture {
	t.Helper()
	weather.SetClock(clockwork.NewFakeClockAt(testNow))
	t.Cleanup(func() { weather.SetClock(nil) })

	s := store.NewMemoryStore()
	for i := 0; i < seeded; i++ {
		_, err := s.Insert(context.Background(), weather.Place{
			ID:             int64(i + 1),
			Geolocation:    weather.Geolocation{City: fmt.Sprintf("city-%d", i), Country: "FR"},
			CurrentWeather: &weather.CurrentWeather{TemperatureC: 1},
		})
		require.NoError(t, err)
	}

	f := newFakeFetcher()
	m := observability.NewMetricsForTesting()
	base := []Option{
		WithLogger(discardLogger()),
		WithMetrics(m),
		WithWorkers(4, 64),
		WithIDGenerator(idgen.NewWithSource(rand.NewPCG(1, 2))),
	}
	r, err := New(context.Background(), s, f, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Shutdown(time.Second) })

	return &fixture{repo: r, store: s, fetcher: f, metrics: m}
}

func await(t *testing.T, ch <-chan weather.Result) weather.Result {
	t.Helper()
	select {
	case res, ok := <-ch:
		require.True(t, ok, "result channel closed without a result")
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
		return weather.Result{}
	}
}

func drain(t *testing.T, ch <-chan weather.Result) []weather.Result {
	t.Helper()
	var out []weather.Result
	timeout := time.After(5 * time.Second)
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, res)
		case <-timeout:
			t.Fatal("timed out draining results")
			return out
		}
	}
}

func nextEvent(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return ChangeEvent{}
	}
}

// assertConsistent checks that cache and store agree and orders are dense.
func assertConsistent(t *testing.T, fx *fixture) {
	t.Helper()
	cached := fx.repo.Places()
	stored, err := fx.store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, len(stored))
	for i := range cached {
		require.Equal(t, i, cached[i].Order)
		require.Equal(t, stored[i].ID, cached[i].ID, "position %d", i)
	}
}

func TestFindAndAdd_Success(t *testing.T) {
	fx := newFixture(t, 0)
	events := fx.repo.Events(context.Background())

	res := await(t, fx.repo.FindAndAdd(" Paris ", "fr"))
	require.Equal(t, weather.OutcomeSuccess, res.Outcome, "err: %v", res.Err)
	require.NotNil(t, res.Place)
	assert.NotZero(t, res.Place.ID)
	assert.Equal(t, 0, res.Place.Order)
	assert.Equal(t, "Paris", res.Place.Geolocation.City)
	assert.Equal(t, "FR", res.Place.Geolocation.Country)
	assert.Equal(t, testNow, res.Place.Properties.CreatedAt)

	ev := nextEvent(t, events)
	assert.Equal(t, EventInsertion, ev.Kind)
	assert.Equal(t, res.Place.ID, ev.PlaceID)
	assert.Equal(t, 0, ev.Position)

	got, ok := fx.repo.Place(res.Place.ID)
	require.True(t, ok)
	assert.Equal(t, 20.0, got.CurrentWeather.TemperatureC)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.Places))
	assertConsistent(t, fx)
}

func TestFindAndAdd_AlreadyPresent(t *testing.T) {
	fx := newFixture(t, 0)

	first := await(t, fx.repo.FindAndAdd("PARIS", "FR"))
	require.True(t, first.Committed())

	res := await(t, fx.repo.FindAndAdd("Paris", "fr"))
	assert.Equal(t, weather.OutcomeError, res.Outcome)
	assert.Equal(t, weather.StatusAlreadyPresent, res.Status())

	n, err := fx.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "count unchanged")
	assert.Len(t, fx.repo.Places(), 1)
}

func TestFindAndAdd_PartialIsCommitted(t *testing.T) {
	fx := newFixture(t, 0)
	fx.fetcher.searchFn = func(_ context.Context, city, country string, target weather.Place) weather.Result {
		p := target.Clone()
		p.Geolocation = weather.Geolocation{City: city, Country: country}
		p.CurrentWeather = &weather.CurrentWeather{TemperatureC: 5}
		return weather.PartialSuccess(p, weather.NewFetchError(weather.StatusNotConnected, weather.StageSecondary, nil))
	}

	res := await(t, fx.repo.FindAndAdd("Oslo", "NO"))
	assert.Equal(t, weather.OutcomePartial, res.Outcome)
	assert.Equal(t, weather.StatusNotConnected, res.Status())
	require.NotNil(t, res.Place)
	assert.Len(t, fx.repo.Places(), 1)
}

func TestFindAndAdd_FailureWritesNothing(t *testing.T) {
	fx := newFixture(t, 0)
	fx.fetcher.searchFn = func(context.Context, string, string, weather.Place) weather.Result {
		return weather.Failure(weather.NewFetchError(weather.StatusNotFound, weather.StageResolve, nil))
	}

	res := await(t, fx.repo.FindAndAdd("Atlantis", "GR"))
	assert.Equal(t, weather.StatusNotFound, res.Status())
	assert.Empty(t, fx.repo.Places())
}

func TestFindAndAdd_InvalidInput(t *testing.T) {
	fx := newFixture(t, 0)

	res := await(t, fx.repo.FindAndAdd("  ", "FR"))
	assert.ErrorIs(t, res.Err, ErrInvalidLocation)
	assert.ErrorIs(t, res.Err, store.ErrContractViolation)
}

func TestRefreshAll_CommitsOnlySuccessfulPlaces(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for trial := 0; trial < 10; trial++ {
		t.Run(fmt.Sprintf("trial-%d", trial), func(t *testing.T) {
			n := 1 + rng.IntN(12)
			fx := newFixture(t, n)

			failing := make(map[int64]bool)
			partial := make(map[int64]bool)
			for id := int64(1); id <= int64(n); id++ {
				switch rng.IntN(3) {
				case 0:
					failing[id] = true
				case 1:
					partial[id] = true
				}
			}
			fx.fetcher.refreshFn = func(_ context.Context, target weather.Place) weather.Result {
				if failing[target.ID] {
					return weather.Failure(weather.NewFetchError(weather.StatusNoAnswer, weather.StagePrimary, nil))
				}
				p := target.Clone()
				p.CurrentWeather = &weather.CurrentWeather{TemperatureC: 42}
				if partial[target.ID] {
					return weather.PartialSuccess(p, weather.NewFetchError(weather.StatusUnknown, weather.StageSecondary, nil))
				}
				return weather.Success(p)
			}

			results := drain(t, fx.repo.RefreshAll())
			require.Len(t, results, n)

			for _, res := range results {
				if res.Outcome == weather.OutcomeError {
					id, ok := PlaceIDOf(res.Err)
					require.True(t, ok)
					assert.True(t, failing[id])
					assert.Equal(t, weather.StatusNoAnswer, res.Status())
				}
			}

			stored, err := fx.store.GetAll(context.Background())
			require.NoError(t, err)
			for _, p := range stored {
				want := 42.0
				if failing[p.ID] {
					want = 1.0
				}
				assert.Equal(t, want, p.CurrentWeather.TemperatureC, "place %d", p.ID)
			}
			assertConsistent(t, fx)
		})
	}
}

func TestRefreshAll_Empty(t *testing.T) {
	fx := newFixture(t, 0)
	assert.Empty(t, drain(t, fx.repo.RefreshAll()))
}

func TestRefresh_UnknownPlace(t *testing.T) {
	fx := newFixture(t, 1)

	res := await(t, fx.repo.Refresh(99))
	assert.Equal(t, weather.StatusNotFound, res.Status())
	id, ok := PlaceIDOf(res.Err)
	require.True(t, ok)
	assert.Equal(t, int64(99), id)
}

func TestRefresh_EmitsUpdateAtCurrentPosition(t *testing.T) {
	fx := newFixture(t, 3)
	events := fx.repo.Events(context.Background())

	res := await(t, fx.repo.Refresh(2))
	require.Equal(t, weather.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, res.Place.Order)

	ev := nextEvent(t, events)
	assert.Equal(t, EventUpdate, ev.Kind)
	assert.Equal(t, int64(2), ev.PlaceID)
	assert.Equal(t, 1, ev.Position)
}

func TestRefreshAndMove_EventPositionsMatchList(t *testing.T) {
	const seeded = 6
	fx := newFixture(t, seeded, WithWorkers(4, 512), WithEventBuffer(4096))
	events := fx.repo.Events(context.Background())

	var wg sync.WaitGroup
	for round := 0; round < 40; round++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			drain(t, fx.repo.RefreshAll())
		}()
		go func() {
			defer wg.Done()
			await(t, fx.repo.Move(round%seeded, (round*5+3)%seeded))
		}()
	}
	wg.Wait()

	// Replay the events onto the initial list: every UPDATE must name the
	// position its place had when the event was sent.
	order := make([]int64, seeded)
	for i := range order {
		order[i] = int64(i + 1)
	}
	for {
		var ev ChangeEvent
		select {
		case ev = <-events:
		default:
			got := make([]int64, 0, seeded)
			for _, p := range fx.repo.Places() {
				got = append(got, p.ID)
			}
			assert.Equal(t, order, got, "replayed list")
			return
		}
		switch ev.Kind {
		case EventMoved:
			require.Equal(t, ev.PlaceID, order[ev.From])
			id := order[ev.From]
			order = slices.Delete(order, ev.From, ev.From+1)
			order = slices.Insert(order, ev.Position, id)
		case EventUpdate:
			require.Equal(t, ev.PlaceID, order[ev.Position], "update of %d at stale position %d", ev.PlaceID, ev.Position)
		}
	}
}

func TestMove(t *testing.T) {
	fx := newFixture(t, 5)
	events := fx.repo.Events(context.Background())

	res := await(t, fx.repo.Move(0, 3))
	require.Equal(t, weather.OutcomeSuccess, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, int64(1), res.Place.ID)
	assert.Equal(t, 3, res.Place.Order)

	ev := nextEvent(t, events)
	assert.Equal(t, ChangeEvent{Kind: EventMoved, PlaceID: 1, Position: 3, From: 0, At: testNow}, ev)

	var got []int64
	for _, p := range fx.repo.Places() {
		got = append(got, p.ID)
	}
	assert.Equal(t, []int64{2, 3, 4, 1, 5}, got)
	assertConsistent(t, fx)
}

func TestMove_OutOfRange(t *testing.T) {
	fx := newFixture(t, 2)

	res := await(t, fx.repo.Move(0, 2))
	assert.ErrorIs(t, res.Err, store.ErrOrderOutOfRange)
	assertConsistent(t, fx)
}

func TestDelete(t *testing.T) {
	fx := newFixture(t, 4)
	events := fx.repo.Events(context.Background())

	res := await(t, fx.repo.Delete(2))
	require.Equal(t, weather.OutcomeSuccess, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, int64(2), res.Place.ID)

	ev := nextEvent(t, events)
	assert.Equal(t, EventDeletion, ev.Kind)
	assert.Equal(t, 1, ev.Position)

	places := fx.repo.Places()
	require.Len(t, places, 3)
	assert.Equal(t, int64(3), places[1].ID)
	assert.Equal(t, 1, places[1].Order)
	assertConsistent(t, fx)

	res = await(t, fx.repo.Delete(2))
	assert.Equal(t, weather.StatusNotFound, res.Status())
}

func TestRandomCommandsKeepCacheAndStoreInSync(t *testing.T) {
	fx := newFixture(t, 3)
	rng := rand.New(rand.NewPCG(9, 9))

	for step := 0; step < 200; step++ {
		places := fx.repo.Places()
		n := len(places)
		switch op := rng.IntN(4); {
		case op == 0 || n == 0:
			res := await(t, fx.repo.FindAndAdd(fmt.Sprintf("town-%d", step), "DE"))
			require.True(t, res.Committed(), "err: %v", res.Err)
		case op == 1:
			res := await(t, fx.repo.Delete(places[rng.IntN(n)].ID))
			require.NoError(t, res.Err)
		case op == 2:
			res := await(t, fx.repo.Move(rng.IntN(n), rng.IntN(n)))
			require.NoError(t, res.Err)
		default:
			drain(t, fx.repo.RefreshAll())
		}
		assertConsistent(t, fx)
	}
}

func TestSubscribe_DeliversCurrentThenUpdates(t *testing.T) {
	fx := newFixture(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := fx.repo.Subscribe(ctx)
	first := <-ch
	assert.Len(t, first, 2)

	await(t, fx.repo.Delete(1))
	select {
	case list := <-ch:
		assert.Len(t, list, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("no list after delete")
	}
}

func TestEvents_FullQueueDropsAndCounts(t *testing.T) {
	fx := newFixture(t, 0, WithEventBuffer(1))
	_ = fx.repo.Events(context.Background())

	for _, city := range []string{"a", "b", "c"} {
		res := await(t, fx.repo.FindAndAdd(city, "US"))
		require.True(t, res.Committed())
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(fx.metrics.EventsDropped))
}

func TestCancelAll_NoCommit(t *testing.T) {
	fx := newFixture(t, 0)
	fx.fetcher.started = make(chan struct{}, 1)
	fx.fetcher.searchFn = func(ctx context.Context, _, _ string, _ weather.Place) weather.Result {
		return blockUntilCancelled(ctx)
	}

	ch := fx.repo.FindAndAdd("Rome", "IT")
	<-fx.fetcher.started
	assert.Equal(t, 1, fx.repo.CancelAll())

	res := await(t, ch)
	assert.Equal(t, weather.StatusNoAnswer, res.Status())
	assert.Empty(t, fx.repo.Places())
}

func TestShutdown(t *testing.T) {
	fx := newFixture(t, 1)
	fx.fetcher.started = make(chan struct{}, 1)
	fx.fetcher.refreshFn = func(ctx context.Context, _ weather.Place) weather.Result {
		return blockUntilCancelled(ctx)
	}
	events := fx.repo.Events(context.Background())
	list := fx.repo.Subscribe(context.Background())
	<-list

	inflight := fx.repo.Refresh(1)
	<-fx.fetcher.started

	require.NoError(t, fx.repo.Shutdown(time.Second))
	assert.False(t, fx.repo.Running())

	res := await(t, inflight)
	assert.Equal(t, weather.StatusNoAnswer, res.Status())

	res = await(t, fx.repo.FindAndAdd("Lima", "PE"))
	assert.True(t, errors.Is(res.Err, ErrShuttingDown))

	all := drain(t, fx.repo.RefreshAll())
	require.Len(t, all, 1)
	assert.ErrorIs(t, all[0].Err, ErrShuttingDown)

	_, open := <-events
	assert.False(t, open, "event queue closed")
	_, open = <-list
	assert.False(t, open, "list feed closed")

	assert.NoError(t, fx.repo.Shutdown(time.Second), "shutdown is idempotent")
}

func TestReserveID_SkipsCachedAndReserved(t *testing.T) {
	fx := newFixture(t, 3)

	id1, release1, err := fx.repo.reserveID()
	require.NoError(t, err)
	id2, release2, err := fx.repo.reserveID()
	require.NoError(t, err)
	defer release1()
	defer release2()

	assert.NotEqual(t, id1, id2)
	for _, id := range []int64{id1, id2} {
		_, cached := fx.repo.Place(id)
		assert.False(t, cached)
	}
}
