package weather

import (
	"strings"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geolocation identifies the real-world locality a Place tracks.
// Country is an ISO 3166-1 alpha-2 code.
type Geolocation struct {
	City        string      `json:"city"`
	Country     string      `json:"country"`
	Coordinates Coordinates `json:"coordinates"`
}

// Key returns a canonical string key for the locality: lower-cased city and
// upper-cased country.
func (g Geolocation) Key() string {
	return strings.ToLower(strings.TrimSpace(g.City)) + ":" + strings.ToUpper(strings.TrimSpace(g.Country))
}

// SameLocality reports whether g and other name the same city (case-insensitive)
// in the same country.
func (g Geolocation) SameLocality(other Geolocation) bool {
	return g.Key() == other.Key()
}

// Properties holds bookkeeping timestamps for a Place.
type Properties struct {
	CreatedAt time.Time `json:"createdAt"`

	WeatherUpdatedAt      time.Time `json:"weatherUpdatedAt"`
	WeatherAttemptedAt    time.Time `json:"weatherAttemptedAt"`
	AirQualityUpdatedAt   time.Time `json:"airQualityUpdatedAt"`
	AirQualityAttemptedAt time.Time `json:"airQualityAttemptedAt"`

	// Timestamps reported by the remote source for the data itself.
	WeatherDataAt    time.Time `json:"weatherDataAt"`
	AirQualityDataAt time.Time `json:"airQualityDataAt"`

	UTCOffsetSeconds int `json:"utcOffsetSeconds"`
}

// CurrentWeather is the observed weather at a point in time.
type CurrentWeather struct {
	Time             time.Time `json:"time"` // always UTC
	TemperatureC     float64   `json:"temperatureC"`
	FeelsLikeC       float64   `json:"feelsLikeC"`
	HumidityPct      float64   `json:"humidityPercent"`
	PressureHpa      float64   `json:"pressureHpa"`
	DewPointC        float64   `json:"dewPointC"`
	CloudCoverPct    float64   `json:"cloudCoverPercent"`
	UVIndex          float64   `json:"uvIndex"`
	VisibilityM      float64   `json:"visibilityM"`
	WindSpeedMS      float64   `json:"windSpeed"`
	WindDirectionDeg float64   `json:"windDirectionDeg"`
	Condition        Condition `json:"condition"`
	Description      string    `json:"description,omitempty"`
	Sunrise          time.Time `json:"sunrise"`
	Sunset           time.Time `json:"sunset"`
}

// AirQuality is an air pollution reading. AQI uses the scale of the
// reporting provider.
type AirQuality struct {
	Time time.Time `json:"time"`
	AQI  int       `json:"aqi"`
	PM25 float64   `json:"pm2_5"`
	PM10 float64   `json:"pm10"`
	O3   float64   `json:"o3"`
	NO2  float64   `json:"no2"`
	SO2  float64   `json:"so2"`
	CO   float64   `json:"co"`
}

type MinutelyForecast struct {
	Time            time.Time `json:"time"`
	PrecipitationMm float64   `json:"precipitationMm"`
}

type HourlyForecast struct {
	Time                 time.Time `json:"time"`
	TemperatureC         float64   `json:"temperatureC"`
	FeelsLikeC           float64   `json:"feelsLikeC"`
	HumidityPct          float64   `json:"humidityPercent"`
	WindSpeedMS          float64   `json:"windSpeed"`
	PrecipitationProbPct float64   `json:"precipitationProbability"`
	PrecipitationMm      float64   `json:"precipitationMm"`
	Condition            Condition `json:"condition"`
}

type DailyForecast struct {
	Time                 time.Time `json:"time"`
	TempMinC             float64   `json:"tempMinC"`
	TempMaxC             float64   `json:"tempMaxC"`
	PrecipitationProbPct float64   `json:"precipitationProbability"`
	PrecipitationMm      float64   `json:"precipitationMm"`
	WindSpeedMS          float64   `json:"windSpeed"`
	UVIndex              float64   `json:"uvIndex"`
	Condition            Condition `json:"condition"`
	Sunrise              time.Time `json:"sunrise"`
	Sunset               time.Time `json:"sunset"`
}

// Alert is a severe-weather warning issued for a place.
type Alert struct {
	Sender      string    `json:"sender"`
	Event       string    `json:"event"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
}

// Place is the aggregate for one tracked location and all its weather data.
type Place struct {
	ID          int64       `json:"id,string"`
	Order       int         `json:"order"`
	Geolocation Geolocation `json:"geolocation"`
	Properties  Properties  `json:"properties"`

	CurrentWeather *CurrentWeather `json:"currentWeather,omitempty"`
	AirQuality     *AirQuality     `json:"airQuality,omitempty"`

	Minutely []MinutelyForecast `json:"minutely"`
	Hourly   []HourlyForecast   `json:"hourly"`
	Daily    []DailyForecast    `json:"daily"`
	Alerts   []Alert            `json:"alerts"`
}

// WeatherReport is the staging result of a primary weather fetch. It is only
// applied to a Place once it has been parsed in full.
type WeatherReport struct {
	UTCOffsetSeconds int
	Current          CurrentWeather
	Minutely         []MinutelyForecast
	Hourly           []HourlyForecast
	Daily            []DailyForecast
	Alerts           []Alert
}
