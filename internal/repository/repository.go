// Package repository keeps the ordered list of places consistent under
// concurrent commands and in sync with the remote fetch pipeline.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/i474232898/weather-places/internal/common"
	"github.com/i474232898/weather-places/internal/feed"
	"github.com/i474232898/weather-places/internal/idgen"
	"github.com/i474232898/weather-places/internal/observability"
	"github.com/i474232898/weather-places/internal/store"
	"github.com/i474232898/weather-places/internal/weather"
	"github.com/i474232898/weather-places/internal/worker"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultEventBuffer  = 64
)

// Fetcher runs the remote fetch for a place. *weather.Pipeline implements it.
type Fetcher interface {
	Search(ctx context.Context, city, country string, target weather.Place) weather.Result
	Refresh(ctx context.Context, target weather.Place) weather.Result
	CancelAll() int
}

// job is one unit of pool work. abort is called instead of run when the pool
// shuts down before reaching it.
type job struct {
	run   func(ctx context.Context)
	abort func()
}

// Repository is the single entry point for reading and changing places.
// Commands return a channel that receives exactly one Result (RefreshAll: one
// per place) and is then closed.
type Repository struct {
	store   weather.Store
	fetcher Fetcher
	ids     *idgen.Generator
	logger  *slog.Logger
	metrics *observability.Metrics

	workers      int
	queueSize    int
	poolReg      prometheus.Registerer
	fetchTimeout time.Duration
	eventBuffer  int

	pool        *worker.Pool[job]
	poolCancel  context.CancelFunc
	fetchCtx    context.Context
	fetchCancel context.CancelCauseFunc

	// orderMu serializes insert, move and delete with the duplicate check.
	orderMu sync.Mutex
	idLocks *keyedMutex

	reservedMu sync.Mutex
	reserved   map[int64]struct{}

	cache *cache

	// notifyMu orders cache mutations with their list publications and events.
	notifyMu sync.Mutex
	list     *feed.Feed[[]weather.Place]
	events   *eventHub

	lifecycleMu sync.RWMutex
	closed      bool
}

// Option configures a Repository.
type Option func(*Repository)

func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithWorkers sets the pool size and queue capacity.
func WithWorkers(workers, queueSize int) Option {
	return func(r *Repository) {
		r.workers = workers
		r.queueSize = queueSize
	}
}

// WithPoolMetrics registers worker pool metrics with reg.
func WithPoolMetrics(reg prometheus.Registerer) Option {
	return func(r *Repository) { r.poolReg = reg }
}

func WithIDGenerator(g *idgen.Generator) Option {
	return func(r *Repository) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithFetchTimeout bounds every remote fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// WithEventBuffer sets the per-subscriber event queue capacity.
func WithEventBuffer(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.eventBuffer = n
		}
	}
}

// New loads the current places from s and starts the worker pool. ctx is only
// used for the initial load; the repository runs until Shutdown.
func New(ctx context.Context, s weather.Store, fetcher Fetcher, opts ...Option) (*Repository, error) {
	r := &Repository{
		store:        s,
		fetcher:      fetcher,
		ids:          idgen.New(),
		logger:       slog.Default(),
		fetchTimeout: defaultFetchTimeout,
		eventBuffer:  defaultEventBuffer,
		idLocks:      newKeyedMutex(),
		reserved:     make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "repository")

	places, err := s.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to load places: %w", err)
	}
	r.cache = newCache(places)
	r.list = feed.NewWithValue(r.cache.snapshot(), feed.WithClone(weather.ClonePlaces))
	r.events = newEventHub(r.eventBuffer, r.logger, r.metrics)
	r.setPlacesGauge()

	var poolOpts []worker.Option[job]
	poolOpts = append(poolOpts, worker.WithDiscard(func(j job) { j.abort() }))
	if r.poolReg != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[job](r.poolReg, "weather_places", "repository_jobs"))
	}
	r.pool = worker.NewPool(r.workers, r.queueSize, func(ctx context.Context, j job) error {
		j.run(ctx)
		return nil
	}, poolOpts...)

	base := context.WithoutCancel(ctx)
	var poolCtx context.Context
	poolCtx, r.poolCancel = context.WithCancel(base)
	r.fetchCtx, r.fetchCancel = context.WithCancelCause(base)
	if err := r.pool.Start(poolCtx); err != nil {
		r.poolCancel()
		r.fetchCancel(nil)
		return nil, fmt.Errorf("repository: failed to start workers: %w", err)
	}

	r.logger.Info("repository started", "places", len(places), "workers", r.pool.Stats().Workers)
	return r, nil
}

// FindAndAdd geolocates city and country, fetches its weather and appends it
// to the list. A locality that is already present yields ALREADY_PRESENT and
// nothing is written.
func (r *Repository) FindAndAdd(city, country string) <-chan weather.Result {
	city = common.Normalize(city)
	country = strings.ToUpper(common.Normalize(country))

	return r.submit("find_and_add", func(ctx context.Context) weather.Result {
		if city == "" || country == "" {
			return weather.Failure(ErrInvalidLocation)
		}
		return r.findAndAdd(ctx, city, country)
	})
}

// RefreshAll refreshes every place present when it is called. Each place is
// committed independently; the channel is closed once all of them finished.
func (r *Repository) RefreshAll() <-chan weather.Result {
	places := r.cache.snapshot()
	out := make(chan weather.Result, max(len(places), 1))

	if r.isClosed() {
		out <- weather.Failure(ErrShuttingDown)
		close(out)
		return out
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, p := range places {
		wg.Add(1)
		id := p.ID
		r.enqueue("refresh", &wg, out, func(ctx context.Context) weather.Result {
			return r.refresh(ctx, id)
		})
	}

	go func() {
		wg.Wait()
		if r.metrics != nil {
			r.metrics.RefreshAllDuration.Observe(time.Since(start).Seconds())
		}
		close(out)
	}()
	return out
}

// Refresh refreshes a single place.
func (r *Repository) Refresh(id int64) <-chan weather.Result {
	return r.submit("refresh", func(ctx context.Context) weather.Result {
		return r.refresh(ctx, id)
	})
}

// Move moves the place at from to position to, shifting the places between.
func (r *Repository) Move(from, to int) <-chan weather.Result {
	return r.submit("move", func(ctx context.Context) weather.Result {
		return r.move(ctx, from, to)
	})
}

// Delete removes the place with the given identifier.
func (r *Repository) Delete(id int64) <-chan weather.Result {
	return r.submit("delete", func(ctx context.Context) weather.Result {
		return r.delete(ctx, id)
	})
}

// Places returns a copy of the ordered list.
func (r *Repository) Places() []weather.Place {
	return r.cache.snapshot()
}

// Place returns a copy of one place.
func (r *Repository) Place(id int64) (weather.Place, bool) {
	return r.cache.get(id)
}

// Subscribe delivers the ordered list now and after every committed change.
func (r *Repository) Subscribe(ctx context.Context) <-chan []weather.Place {
	return r.list.Subscribe(ctx)
}

// Events delivers committed changes until ctx ends or the repository shuts
// down. Events that do not fit the subscriber's queue are dropped.
func (r *Repository) Events(ctx context.Context) <-chan ChangeEvent {
	return r.events.subscribe(ctx)
}

// CancelAll cancels every outstanding remote fetch. The affected commands
// finish with NO_ANSWER and commit nothing.
func (r *Repository) CancelAll() int {
	return r.fetcher.CancelAll()
}

// Running reports whether the repository accepts commands.
func (r *Repository) Running() bool {
	return !r.isClosed()
}

// Stats returns the worker pool counters.
func (r *Repository) Stats() worker.Stats {
	return r.pool.Stats()
}

// Shutdown cancels outstanding fetches, refuses new commands and waits up to
// timeout for queued work to finish. Commits already in progress complete.
func (r *Repository) Shutdown(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	if r.closed {
		r.lifecycleMu.Unlock()
		return nil
	}
	r.fetchCancel(ErrShuttingDown)
	r.fetcher.CancelAll()
	r.closed = true
	r.lifecycleMu.Unlock()

	err := r.pool.Stop(timeout)
	r.poolCancel()
	if err != nil {
		r.logger.Warn("workers did not stop in time", "timeout", timeout, "error", err)
		// Let the workers hand back whatever is still queued.
		_ = r.pool.Stop(timeout)
	}

	r.list.Close()
	r.events.close()
	r.logger.Info("repository stopped", "stats", r.pool.Stats())
	return err
}

func (r *Repository) findAndAdd(ctx context.Context, city, country string) weather.Result {
	id, release, err := r.reserveID()
	if err != nil {
		return weather.Failure(fmt.Errorf("repository: %w", err))
	}
	defer release()

	target := weather.Place{
		ID:         id,
		Properties: weather.Properties{CreatedAt: weather.Now()},
	}
	res := r.fetch(func(fctx context.Context) weather.Result {
		return r.fetcher.Search(fctx, city, country, target)
	})
	if !res.Committed() {
		return res
	}

	r.orderMu.Lock()
	defer r.orderMu.Unlock()

	cctx := context.WithoutCancel(ctx)
	existing, err := r.store.GetAll(cctx)
	if err != nil {
		return weather.Failure(fmt.Errorf("repository: %w", err))
	}
	asked := weather.Geolocation{City: city, Country: country}
	for _, p := range existing {
		if p.Geolocation.SameLocality(asked) || p.Geolocation.SameLocality(res.Place.Geolocation) {
			return weather.Failure(weather.NewFetchError(weather.StatusAlreadyPresent, weather.StageRepository,
				fmt.Errorf("%s, %s is already in the list", p.Geolocation.City, p.Geolocation.Country)))
		}
	}

	stored, err := r.store.Insert(cctx, *res.Place)
	if err != nil {
		return weather.Failure(fmt.Errorf("repository: %w", err))
	}
	r.apply(func() (ChangeEvent, bool) {
		r.cache.insert(stored)
		return ChangeEvent{Kind: EventInsertion, PlaceID: stored.ID, Position: stored.Order}, true
	})
	r.setPlacesGauge()

	r.logger.Info("place added", "place_id", stored.ID, "city", stored.Geolocation.City,
		"country", stored.Geolocation.Country, "order", stored.Order, "outcome", res.Outcome.String())
	return withPlace(res, stored)
}

func (r *Repository) refresh(ctx context.Context, id int64) weather.Result {
	place, ok := r.cache.get(id)
	if !ok {
		return weather.Failure(&PlaceError{PlaceID: id, Err: notFound()})
	}

	res := r.fetch(func(fctx context.Context) weather.Result {
		return r.fetcher.Refresh(fctx, place)
	})
	if !res.Committed() {
		return weather.Failure(&PlaceError{PlaceID: id, Err: res.Err})
	}

	unlock := r.idLocks.Lock(id)
	defer unlock()

	// The place may have been deleted while the fetch was running.
	if _, ok := r.cache.get(id); !ok {
		return weather.Failure(&PlaceError{PlaceID: id, Err: notFound()})
	}
	if err := r.store.Update(context.WithoutCancel(ctx), *res.Place); err != nil {
		if errors.Is(err, store.ErrPlaceNotFound) {
			err = notFound()
		}
		return weather.Failure(&PlaceError{PlaceID: id, Err: fmt.Errorf("repository: %w", err)})
	}
	var stored weather.Place
	updated := r.apply(func() (ChangeEvent, bool) {
		var ok bool
		stored, ok = r.cache.update(*res.Place)
		return ChangeEvent{Kind: EventUpdate, PlaceID: id, Position: stored.Order}, ok
	})
	if !updated {
		return weather.Failure(&PlaceError{PlaceID: id, Err: notFound()})
	}

	if res.Outcome == weather.OutcomePartial {
		r.logger.Warn("place partially refreshed", "place_id", id, "reason", res.Err)
	} else {
		r.logger.Debug("place refreshed", "place_id", id)
	}
	return withPlace(res, stored)
}

func (r *Repository) move(ctx context.Context, from, to int) weather.Result {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()

	n := r.cache.len()
	for _, pos := range []int{from, to} {
		if pos < 0 || pos >= n {
			return weather.Failure(fmt.Errorf("repository: %w: %d not in [0,%d)", store.ErrOrderOutOfRange, pos, n))
		}
	}

	moved, _ := r.cache.at(from)
	if from == to {
		return weather.Success(moved)
	}

	unlock := r.idLocks.Lock(moved.ID)
	defer unlock()

	if err := r.store.Move(context.WithoutCancel(ctx), from, to); err != nil {
		return weather.Failure(fmt.Errorf("repository: %w", err))
	}
	r.apply(func() (ChangeEvent, bool) {
		r.cache.move(from, to)
		return ChangeEvent{Kind: EventMoved, PlaceID: moved.ID, Position: to, From: from}, true
	})

	moved, _ = r.cache.get(moved.ID)
	return weather.Success(moved)
}

func (r *Repository) delete(ctx context.Context, id int64) weather.Result {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()

	unlock := r.idLocks.Lock(id)
	defer unlock()

	place, ok := r.cache.get(id)
	if !ok {
		return weather.Failure(notFound())
	}

	deleted, err := r.store.Delete(context.WithoutCancel(ctx), place.Order)
	if err != nil {
		return weather.Failure(fmt.Errorf("repository: %w", err))
	}
	if deleted.ID != id {
		// The store and the cache disagree on order; this is a bug.
		r.logger.Error("deleted place does not match cache", "want", id, "got", deleted.ID)
	}
	var order int
	r.apply(func() (ChangeEvent, bool) {
		order, _ = r.cache.remove(id)
		return ChangeEvent{Kind: EventDeletion, PlaceID: id, Position: order}, true
	})
	r.setPlacesGauge()

	r.logger.Info("place deleted", "place_id", id, "order", order)
	return weather.Success(deleted)
}

// fetch runs fn with a bounded context that Shutdown cancels.
func (r *Repository) fetch(fn func(ctx context.Context) weather.Result) weather.Result {
	ctx, cancel := context.WithTimeout(r.fetchCtx, r.fetchTimeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return weather.Failure(weather.NewFetchError(weather.StatusNoAnswer, weather.StageRepository, err))
	}
	return fn(ctx)
}

func (r *Repository) reserveID() (int64, func(), error) {
	r.reservedMu.Lock()
	defer r.reservedMu.Unlock()

	existing := r.cache.ids()
	for id := range r.reserved {
		existing[id] = struct{}{}
	}
	id, err := r.ids.Generate(existing)
	if err != nil {
		return 0, nil, err
	}
	r.reserved[id] = struct{}{}

	return id, func() {
		r.reservedMu.Lock()
		delete(r.reserved, id)
		r.reservedMu.Unlock()
	}, nil
}

// submit runs fn on the pool and delivers its result on the returned channel.
func (r *Repository) submit(command string, fn func(ctx context.Context) weather.Result) <-chan weather.Result {
	out := make(chan weather.Result, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	r.enqueue(command, &wg, out, fn)
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// enqueue submits fn to the pool. Exactly one result is sent to out and wg is
// released after it, whatever happens to the job.
func (r *Repository) enqueue(command string, wg *sync.WaitGroup, out chan<- weather.Result, fn func(ctx context.Context) weather.Result) {
	var once sync.Once
	deliver := func(res weather.Result) {
		once.Do(func() {
			r.record(command, res)
			out <- res
			wg.Done()
		})
	}

	if r.isClosed() {
		deliver(weather.Failure(ErrShuttingDown))
		return
	}
	err := r.pool.Submit(job{
		run:   func(ctx context.Context) { deliver(fn(ctx)) },
		abort: func() { deliver(weather.Failure(ErrShuttingDown)) },
	})
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrPoolStopped):
		deliver(weather.Failure(ErrShuttingDown))
	default:
		r.logger.Warn("command rejected", "command", command, "error", err)
		deliver(weather.Failure(fmt.Errorf("repository: %w", err)))
	}
}

func (r *Repository) isClosed() bool {
	r.lifecycleMu.RLock()
	defer r.lifecycleMu.RUnlock()
	return r.closed
}

// apply runs a cache mutation and publishes its event under notifyMu. The
// position in every event is the one the place has in the list published
// with it.
func (r *Repository) apply(mutate func() (ChangeEvent, bool)) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	ev, ok := mutate()
	if !ok {
		return false
	}
	ev.At = weather.Now()
	r.list.Publish(r.cache.snapshot())
	r.events.emit(ev)
	return true
}

func (r *Repository) record(command string, res weather.Result) {
	if r.metrics == nil {
		return
	}
	r.metrics.Commands.WithLabelValues(command, res.Outcome.String()).Inc()
}

func (r *Repository) setPlacesGauge() {
	if r.metrics != nil {
		r.metrics.Places.Set(float64(r.cache.len()))
	}
}

func notFound() error {
	return weather.NewFetchError(weather.StatusNotFound, weather.StageRepository, errUnknownPlace)
}

// withPlace keeps the outcome of res but carries the committed place.
func withPlace(res weather.Result, p weather.Place) weather.Result {
	res.Place = &p
	return res
}
