package weather

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-places/internal/observability"
)

var errUnreachable = errors.New("network unreachable")

// Pipeline performs the two-stage remote fetch that populates a Place:
// weather first, then air quality. It never touches the store and never
// retries; every terminal state is returned to the caller.
type Pipeline struct {
	resolver Resolver
	weather  WeatherProvider
	air      AirQualityProvider
	reach    Reachability
	requests *RequestQueue
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithPipelineMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a Pipeline over the given providers.
func NewPipeline(resolver Resolver, wp WeatherProvider, ap AirQualityProvider, reach Reachability, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		weather:  wp,
		air:      ap,
		reach:    reach,
		requests: NewRequestQueue(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("pipeline", p.requests.Tag().String())
	return p
}

// ID returns the instance tag of the pipeline.
func (p *Pipeline) ID() uuid.UUID {
	return p.requests.Tag()
}

// CancelAll cancels every outstanding invocation. Cancelled invocations
// finish with a NO_ANSWER error and never yield data to commit.
func (p *Pipeline) CancelAll() int {
	n := p.requests.CancelAll()
	if n > 0 {
		p.logger.Info("cancelled outstanding requests", "count", n)
	}
	return n
}

// Resolve geolocates city and country.
func (p *Pipeline) Resolve(ctx context.Context, city, country string) (Geolocation, error) {
	ctx, release := p.requests.Track(ctx)
	defer release()
	return p.resolve(ctx, city, country)
}

// Search resolves city and country, then fetches weather and air quality onto
// a copy of target.
func (p *Pipeline) Search(ctx context.Context, city, country string, target Place) Result {
	ctx, release := p.requests.Track(ctx)
	defer release()

	geo, err := p.resolve(ctx, city, country)
	if err != nil {
		return p.cancelled(ctx, Failure(err))
	}
	place := target.Clone()
	place.Geolocation = geo
	return p.cancelled(ctx, p.fetch(ctx, place))
}

// Refresh fetches fresh weather and air quality onto a copy of target.
func (p *Pipeline) Refresh(ctx context.Context, target Place) Result {
	ctx, release := p.requests.Track(ctx)
	defer release()
	return p.cancelled(ctx, p.fetch(ctx, target.Clone()))
}

func (p *Pipeline) resolve(ctx context.Context, city, country string) (Geolocation, error) {
	if !p.reach.Reachable(ctx) {
		return Geolocation{}, p.fail(NewFetchError(StatusNotConnected, StageResolve, errUnreachable))
	}
	start := time.Now()
	geo, err := p.resolver.Resolve(ctx, city, country)
	p.observe(StageResolve, start)
	if err != nil {
		return Geolocation{}, p.fail(withStage(err, StageResolve))
	}
	return geo, nil
}

func (p *Pipeline) fetch(ctx context.Context, place Place) Result {
	now := Now()
	at := place.Geolocation.Coordinates
	log := p.logger.With("place_id", place.ID, "city", place.Geolocation.City)

	place.Properties.WeatherAttemptedAt = now
	if !p.reach.Reachable(ctx) {
		return Failure(p.fail(NewFetchError(StatusNotConnected, StagePrimary, errUnreachable)))
	}

	start := time.Now()
	report, err := p.weather.FetchWeather(ctx, at)
	p.observe(StagePrimary, start)
	if err != nil {
		fe := p.fail(withStage(err, StagePrimary))
		log.Warn("weather fetch failed", "provider", p.weather.Name(), "status", fe.Status, "error", fe.Err)
		return Failure(fe)
	}
	if err := report.Validate(); err != nil {
		fe := p.fail(NewFetchError(StatusUnknown, StagePrimary, err))
		log.Error("weather report rejected", "provider", p.weather.Name(), "lat", at.Latitude, "lon", at.Longitude, "error", err)
		return Failure(fe)
	}
	place.ApplyWeather(report, now)

	place.Properties.AirQualityAttemptedAt = now
	if !p.reach.Reachable(ctx) {
		return PartialSuccess(place, p.fail(NewFetchError(StatusNotConnected, StageSecondary, errUnreachable)))
	}

	start = time.Now()
	aq, err := p.air.FetchAirQuality(ctx, at)
	p.observe(StageSecondary, start)
	if err != nil {
		fe := p.fail(withStage(err, StageSecondary))
		log.Warn("air quality fetch failed", "provider", p.air.Name(), "status", fe.Status, "error", fe.Err)
		return PartialSuccess(place, fe)
	}
	place.ApplyAirQuality(aq, now)

	log.Debug("place fetched")
	return Success(place)
}

// cancelled turns the result of a cancelled invocation into a NO_ANSWER error
// so it can never be committed. An expired deadline is not a cancellation and
// keeps what the finished stages produced.
func (p *Pipeline) cancelled(ctx context.Context, r Result) Result {
	if !errors.Is(ctx.Err(), context.Canceled) || (r.Outcome == OutcomeError && StatusOf(r.Err) == StatusNoAnswer) {
		return r
	}
	return Failure(NewFetchError(StatusNoAnswer, stageReached(r), context.Cause(ctx)))
}

// stageReached returns the last stage the invocation behind r ran.
func stageReached(r Result) Stage {
	var fe *FetchError
	if errors.As(r.Err, &fe) && fe.Stage != "" {
		return fe.Stage
	}
	if r.Place != nil {
		return StageSecondary
	}
	return StagePrimary
}

func (p *Pipeline) fail(fe *FetchError) *FetchError {
	if p.metrics != nil {
		p.metrics.FetchErrors.WithLabelValues(string(fe.Stage), string(fe.Status)).Inc()
	}
	return fe
}

func (p *Pipeline) observe(stage Stage, start time.Time) {
	if p.metrics != nil {
		p.metrics.FetchDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}
