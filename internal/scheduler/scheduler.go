package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-places/internal/config"
	"github.com/i474232898/weather-places/internal/repository"
	"github.com/i474232898/weather-places/internal/weather"
)

// Refresher is the part of the repository the scheduler drives.
type Refresher interface {
	FindAndAdd(city, country string) <-chan weather.Result
	RefreshAll() <-chan weather.Result
	Refresh(id int64) <-chan weather.Result
}

// Summary counts the outcomes of one refresh round.
type Summary struct {
	Succeeded int
	Partial   int
	Failed    int
	// Recovered counts places that failed transiently and later succeeded
	// on retry. They are also counted in Succeeded or Partial.
	Recovered int
}

// Scheduler periodically refreshes every place and retries transient failures.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	repo       Refresher
	locations  []config.Location
	interval   time.Duration
	maxTries   int
	newBackOff func() backoff.BackOff
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBackOff replaces the retry schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(s *Scheduler) { s.newBackOff = fn }
}

// WithMaxTries bounds the total attempts per place, counting the first
// refresh-all attempt.
func WithMaxTries(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxTries = n
		}
	}
}

// New creates a new Scheduler.
func New(repo Refresher, locations []config.Location, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		repo:      repo,
		locations: locations,
		interval:  interval,
		maxTries:  3,
		logger:    slog.Default(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = 15 * time.Minute
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start seeds the configured locations in the background, then schedules the
// periodic refresh and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().WaitForSchedule().Do(func() {
		s.logger.Info("scheduler: running refresh job")
		sum := s.RunOnce(s.ctx)
		s.logger.Info("scheduler: completed refresh job",
			"succeeded", sum.Succeeded, "partial", sum.Partial, "failed", sum.Failed, "recovered", sum.Recovered)
	})
	if err != nil {
		return err
	}

	if len(s.locations) > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Seed(s.ctx)
		}()
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any running round.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.wg.Wait()
}

// Seed adds the configured locations one by one. Locations already present are
// skipped silently. It returns the number of places added.
func (s *Scheduler) Seed(ctx context.Context) int {
	added := 0
	for _, loc := range s.locations {
		res, err := await(ctx, s.repo.FindAndAdd(loc.City, loc.Country))
		if err != nil {
			return added
		}
		switch {
		case res.Committed():
			added++
			s.logger.Info("scheduler: seeded location", "location", loc.Key(), "outcome", res.Outcome.String())
		case res.Status() == weather.StatusAlreadyPresent:
		default:
			s.logger.Warn("scheduler: seed failed", "location", loc.Key(), "status", res.Status(), "error", res.Err)
		}
	}
	return added
}

// RunOnce refreshes every place and retries transient failures until they
// succeed, fail permanently or run out of tries.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	var (
		sum   Summary
		retry []int64
	)
	for res := range s.repo.RefreshAll() {
		switch res.Outcome {
		case weather.OutcomeSuccess:
			sum.Succeeded++
		case weather.OutcomePartial:
			sum.Partial++
		default:
			id, ok := repository.PlaceIDOf(res.Err)
			if ok && res.Status().Transient() && s.maxTries > 1 {
				retry = append(retry, id)
				continue
			}
			sum.Failed++
			s.logger.Warn("scheduler: refresh failed", "status", res.Status(), "error", res.Err)
		}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, id := range retry {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			res := s.retry(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch res.Outcome {
			case weather.OutcomeSuccess:
				sum.Succeeded++
				sum.Recovered++
			case weather.OutcomePartial:
				sum.Partial++
				sum.Recovered++
			default:
				sum.Failed++
				s.logger.Warn("scheduler: retry gave up", "place_id", id, "status", res.Status(), "error", res.Err)
			}
		}(id)
	}
	wg.Wait()
	return sum
}

var errStopped = errors.New("scheduler stopped")

func (s *Scheduler) retry(ctx context.Context, id int64) weather.Result {
	op := func() (weather.Result, error) {
		res, err := await(ctx, s.repo.Refresh(id))
		if err != nil {
			return weather.Failure(err), backoff.Permanent(err)
		}
		if res.Outcome != weather.OutcomeError {
			return res, nil
		}
		if !res.Status().Transient() {
			return res, backoff.Permanent(res.Err)
		}
		return res, res.Err
	}

	b := s.newBackOff()
	if !sleep(ctx, b.NextBackOff()) {
		return weather.Failure(weather.NewFetchError(weather.StatusNoAnswer, weather.StageRepository, errStopped))
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.maxTries-1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("scheduler: retrying refresh", "place_id", id, "error", err, "next", next)
		}),
	)
	if err != nil && res.Outcome != weather.OutcomeError {
		return weather.Failure(err)
	}
	return res
}

// await waits for the single result of a repository command.
func await(ctx context.Context, ch <-chan weather.Result) (weather.Result, error) {
	select {
	case <-ctx.Done():
		return weather.Result{}, ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return weather.Result{}, errStopped
		}
		return res, nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
