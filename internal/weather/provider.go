package weather

import (
	"context"
)

// Resolver turns free-text city and country into a geolocated locality.
type Resolver interface {
	Resolve(ctx context.Context, city, country string) (Geolocation, error)
}

// WeatherProvider fetches the full weather report for a position.
type WeatherProvider interface {
	Name() string
	FetchWeather(ctx context.Context, at Coordinates) (WeatherReport, error)
}

// AirQualityProvider fetches the current air quality for a position.
type AirQualityProvider interface {
	Name() string
	FetchAirQuality(ctx context.Context, at Coordinates) (AirQuality, error)
}

// Reachability reports whether the network needed by the providers is
// currently usable.
type Reachability interface {
	Reachable(ctx context.Context) bool
}

// Store is the contract for ordered, transactional place storage.
//
// Insert, Delete, Move and Swap are the only mutators of Place.Order and each
// runs as a single transaction. Update never changes Order.
type Store interface {
	Insert(ctx context.Context, p Place) (Place, error)
	Update(ctx context.Context, p Place) error
	Delete(ctx context.Context, order int) (Place, error)
	Move(ctx context.Context, from, to int) error
	Swap(ctx context.Context, a, b int) error

	Get(ctx context.Context, id int64) (Place, error)
	GetAll(ctx context.Context) ([]Place, error)
	GetAllAsFeed(ctx context.Context) <-chan []Place
	Count(ctx context.Context) (int, error)
	IDs(ctx context.Context) (map[int64]struct{}, error)
}
