package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-places/internal/common"
	"github.com/i474232898/weather-places/internal/weather"
)

// geocodeFunc matches geocoder.Geocoding.
type geocodeFunc func(geocoder.Address) (geocoder.Location, error)

// keyMu guards the package-level key of the geocoder library.
var keyMu sync.Mutex

// GoogleResolver resolves places with the Google Geocoding API.
type GoogleResolver struct {
	apiKey  string
	geocode geocodeFunc
}

var _ weather.Resolver = (*GoogleResolver)(nil)

func NewGoogleResolver(apiKey string) *GoogleResolver {
	return &GoogleResolver{
		apiKey: apiKey,
		geocode: func(addr geocoder.Address) (geocoder.Location, error) {
			keyMu.Lock()
			geocoder.ApiKey = apiKey
			keyMu.Unlock()
			return geocoder.Geocoding(addr)
		},
	}
}

// Resolve geocodes city and country. The library call cannot be cancelled, so
// a cancelled ctx returns NO_ANSWER while the call finishes in the background.
func (r *GoogleResolver) Resolve(ctx context.Context, city, country string) (weather.Geolocation, error) {
	if r.apiKey == "" {
		return weather.Geolocation{}, weather.NewFetchError(weather.StatusAuthFailed, weather.StageResolve, fmt.Errorf("google: %w", errNoAPIKey))
	}

	type answer struct {
		loc geocoder.Location
		err error
	}
	done := make(chan answer, 1)
	go func() {
		loc, err := r.geocode(geocoder.Address{City: city, Country: country})
		done <- answer{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		return weather.Geolocation{}, weather.NewFetchError(weather.StatusNoAnswer, weather.StageResolve, fmt.Errorf("google: %w", ctx.Err()))
	case a := <-done:
		if a.err != nil {
			return weather.Geolocation{}, weather.NewFetchError(classifyGeocoderError(a.err), weather.StageResolve, fmt.Errorf("google: %w", a.err))
		}
		if a.loc.Latitude == 0 && a.loc.Longitude == 0 {
			return weather.Geolocation{}, weather.NewFetchError(weather.StatusNotFound, weather.StageResolve,
				fmt.Errorf("google: %w: %s, %s", errNoResults, city, country))
		}
		return weather.Geolocation{
			City:    city,
			Country: strings.ToUpper(country),
			Coordinates: weather.Coordinates{
				Latitude:  a.loc.Latitude,
				Longitude: a.loc.Longitude,
			},
		}, nil
	}
}

// classifyGeocoderError maps the library's error text onto the taxonomy.
// It only exposes Google status strings and transport errors as text.
func classifyGeocoderError(err error) weather.Status {
	msg := strings.ToLower(err.Error())
	switch {
	case common.HasAny(msg, "zero_results", "no results", "not found"):
		return weather.StatusNotFound
	case common.HasAny(msg, "over_query_limit", "over_daily_limit", "rate limit"):
		return weather.StatusTooManyRequests
	case common.HasAny(msg, "request_denied", "api key", "apikey", "unauthorized"):
		return weather.StatusAuthFailed
	case common.HasAny(msg, "timeout", "connection refused", "no such host", "unreachable", "eof"):
		return weather.StatusNoAnswer
	default:
		return weather.StatusUnknown
	}
}
