package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/weather-places/internal/weather"
)

const (
	ProviderOpenMeteo   = "openmeteo"
	ProviderOpenWeather = "openweather"
	GeocoderGoogle      = "google"
)

var defaultReachability = map[string]string{
	ProviderOpenMeteo:   "api.open-meteo.com:443",
	ProviderOpenWeather: "api.openweathermap.org:443",
}

type AppConfig struct {
	Port string

	// Provider selects the weather and air quality source.
	Provider string
	// Geocoder selects the resolver; it defaults to Provider.
	Geocoder string

	OpenWeatherAPIKey    string
	GoogleGeocoderAPIKey string
	ReachabilityAddr     string
	GeocoderCacheSize    int
	HTTPTimeout          time.Duration
	FetchTimeout         time.Duration
	CommandTimeout       time.Duration
	DatabaseURL          string // empty selects the in-memory store
	WorkerCount          int
	WorkerQueueSize      int
	RefreshInterval      time.Duration
	RefreshMaxTries      int
	KafkaBrokers         []string
	KafkaTopic           string
	ShutdownTimeout      time.Duration
	LogLevel             string
	LogFormat            string

	// Locations are added at startup.
	Locations []Location
}

// Location is a seed city/country pair.
type Location struct {
	City    string
	Country string
}

// Key mirrors weather.Geolocation.Key.
func (l Location) Key() string {
	return weather.Geolocation{City: l.City, Country: l.Country}.Key()
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}
	return fromEnv()
}

func fromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:                 getenvDefault("PORT", "8080"),
		Provider:             strings.ToLower(getenvDefault("PROVIDER", ProviderOpenMeteo)),
		OpenWeatherAPIKey:    os.Getenv("OPENWEATHER_API_KEY"),
		GoogleGeocoderAPIKey: os.Getenv("GOOGLE_GEOCODER_API_KEY"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		KafkaBrokers:         getenvList("KAFKA_BROKERS"),
		KafkaTopic:           getenvDefault("KAFKA_TOPIC", "place-changes"),
		LogLevel:             getenvDefault("LOG_LEVEL", "info"),
		LogFormat:            getenvDefault("LOG_FORMAT", "json"),
	}

	if _, ok := defaultReachability[cfg.Provider]; !ok {
		return nil, fmt.Errorf("invalid PROVIDER %q: want %s or %s", cfg.Provider, ProviderOpenMeteo, ProviderOpenWeather)
	}
	cfg.Geocoder = strings.ToLower(getenvDefault("GEOCODER", cfg.Provider))
	switch cfg.Geocoder {
	case ProviderOpenMeteo, ProviderOpenWeather, GeocoderGoogle:
	default:
		return nil, fmt.Errorf("invalid GEOCODER %q", cfg.Geocoder)
	}
	cfg.ReachabilityAddr = getenvDefault("REACHABILITY_ADDR", defaultReachability[cfg.Provider])

	var errs []error
	intVar := func(dst *int, key string, def, least int) {
		n, err := getenvInt(key, def)
		if err == nil && n < least {
			err = fmt.Errorf("invalid %s: must be at least %d", key, least)
		}
		errs = append(errs, err)
		*dst = n
	}
	durationVar := func(dst *time.Duration, key, def string) {
		d, err := getenvDuration(key, def)
		errs = append(errs, err)
		*dst = d
	}

	intVar(&cfg.WorkerCount, "WORKER_COUNT", 4, 1)
	intVar(&cfg.WorkerQueueSize, "WORKER_QUEUE_SIZE", 256, 1)
	intVar(&cfg.RefreshMaxTries, "REFRESH_MAX_TRIES", 3, 1)
	intVar(&cfg.GeocoderCacheSize, "GEOCODER_CACHE_SIZE", 256, 1)
	durationVar(&cfg.FetchTimeout, "FETCH_TIMEOUT", "30s")
	durationVar(&cfg.HTTPTimeout, "HTTP_TIMEOUT", "10s")
	durationVar(&cfg.CommandTimeout, "COMMAND_TIMEOUT", "45s")
	durationVar(&cfg.RefreshInterval, "REFRESH_INTERVAL", "15m")
	durationVar(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", "10s")
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		if _, err := url.Parse(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
	}

	locs, err := loadLocations()
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	return cfg, nil
}

func loadLocations() ([]Location, error) {
	cities := getenvList("WEATHER_LOCATION_CITY")
	countries := getenvList("WEATHER_LOCATION_COUNTRY")
	if len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities and countries must be the same")
	}
	var locs []Location
	for i := range cities {
		locs = append(locs, Location{
			City:    cities[i],
			Country: strings.ToUpper(countries[i]),
		})
	}
	return locs, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// getenvList splits a comma-separated variable, dropping empty items.
func getenvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
