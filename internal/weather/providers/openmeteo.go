package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/i474232898/weather-places/internal/weather"
)

const (
	openMeteoForecastURL   = "https://api.open-meteo.com/v1/forecast"
	openMeteoAirQualityURL = "https://air-quality-api.open-meteo.com/v1/air-quality"
	openMeteoGeocodingURL  = "https://geocoding-api.open-meteo.com/v1/search"
)

// OpenMeteoProvider serves geocoding, weather and air quality from the
// keyless Open-Meteo APIs. Each API has its own circuit breaker.
type OpenMeteoProvider struct {
	name string

	forecastURL   string
	airQualityURL string
	geocodingURL  string

	forecast   *jsonClient
	airQuality *jsonClient
	geocoding  *jsonClient
}

var (
	_ weather.Resolver           = (*OpenMeteoProvider)(nil)
	_ weather.WeatherProvider    = (*OpenMeteoProvider)(nil)
	_ weather.AirQualityProvider = (*OpenMeteoProvider)(nil)
)

// OpenMeteoOption configures an OpenMeteoProvider.
type OpenMeteoOption func(*OpenMeteoProvider)

// WithOpenMeteoURLs overrides the endpoint URLs. Empty values keep the default.
func WithOpenMeteoURLs(forecast, airQuality, geocoding string) OpenMeteoOption {
	return func(p *OpenMeteoProvider) {
		if forecast != "" {
			p.forecastURL = forecast
		}
		if airQuality != "" {
			p.airQualityURL = airQuality
		}
		if geocoding != "" {
			p.geocodingURL = geocoding
		}
	}
}

func NewOpenMeteoProvider(client *http.Client, opts ...OpenMeteoOption) *OpenMeteoProvider {
	p := &OpenMeteoProvider{
		name:          "openmeteo",
		forecastURL:   openMeteoForecastURL,
		airQualityURL: openMeteoAirQualityURL,
		geocodingURL:  openMeteoGeocodingURL,
		forecast:      newJSONClient("openmeteo-forecast", client),
		airQuality:    newJSONClient("openmeteo-air-quality", client),
		geocoding:     newJSONClient("openmeteo-geocoding", client),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

// Resolve searches by name and keeps the first hit in the requested country.
func (p *OpenMeteoProvider) Resolve(ctx context.Context, city, country string) (weather.Geolocation, error) {
	values := url.Values{}
	values.Set("name", city)
	values.Set("count", "10")
	values.Set("language", "en")
	values.Set("format", "json")

	var payload struct {
		Results []struct {
			Name        string  `json:"name"`
			Latitude    float64 `json:"latitude"`
			Longitude   float64 `json:"longitude"`
			CountryCode string  `json:"country_code"`
		} `json:"results"`
	}
	if err := p.geocoding.getJSON(ctx, weather.StageResolve, p.geocodingURL+"?"+values.Encode(), &payload); err != nil {
		return weather.Geolocation{}, err
	}

	for _, r := range payload.Results {
		if strings.EqualFold(r.CountryCode, country) {
			return weather.Geolocation{
				City:        r.Name,
				Country:     strings.ToUpper(r.CountryCode),
				Coordinates: weather.Coordinates{Latitude: r.Latitude, Longitude: r.Longitude},
			}, nil
		}
	}
	return weather.Geolocation{}, weather.NewFetchError(weather.StatusNotFound, weather.StageResolve,
		fmt.Errorf("openmeteo: %w: %s, %s", errNoResults, city, country))
}

type omForecast struct {
	UTCOffsetSeconds int `json:"utc_offset_seconds"`
	Current          *struct {
		Time                int64   `json:"time"`
		Temperature         float64 `json:"temperature_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		RelativeHumidity    float64 `json:"relative_humidity_2m"`
		DewPoint            float64 `json:"dew_point_2m"`
		PressureMSL         float64 `json:"pressure_msl"`
		CloudCover          float64 `json:"cloud_cover"`
		Visibility          float64 `json:"visibility"`
		WindSpeed           float64 `json:"wind_speed_10m"`
		WindDirection       float64 `json:"wind_direction_10m"`
		UVIndex             float64 `json:"uv_index"`
		WeatherCode         int     `json:"weather_code"`
	} `json:"current"`
	Minutely15 struct {
		Time          []int64   `json:"time"`
		Precipitation []float64 `json:"precipitation"`
	} `json:"minutely_15"`
	Hourly struct {
		Time                     []int64   `json:"time"`
		Temperature              []float64 `json:"temperature_2m"`
		ApparentTemperature      []float64 `json:"apparent_temperature"`
		RelativeHumidity         []float64 `json:"relative_humidity_2m"`
		WindSpeed                []float64 `json:"wind_speed_10m"`
		PrecipitationProbability []float64 `json:"precipitation_probability"`
		Precipitation            []float64 `json:"precipitation"`
		WeatherCode              []int     `json:"weather_code"`
	} `json:"hourly"`
	Daily struct {
		Time                        []int64   `json:"time"`
		TemperatureMin              []float64 `json:"temperature_2m_min"`
		TemperatureMax              []float64 `json:"temperature_2m_max"`
		PrecipitationProbabilityMax []float64 `json:"precipitation_probability_max"`
		PrecipitationSum            []float64 `json:"precipitation_sum"`
		WindSpeedMax                []float64 `json:"wind_speed_10m_max"`
		UVIndexMax                  []float64 `json:"uv_index_max"`
		WeatherCode                 []int     `json:"weather_code"`
		Sunrise                     []int64   `json:"sunrise"`
		Sunset                      []int64   `json:"sunset"`
	} `json:"daily"`
}

// FetchWeather reads current weather and the 15-minutely, hourly and daily
// forecasts in one call.
func (p *OpenMeteoProvider) FetchWeather(ctx context.Context, at weather.Coordinates) (weather.WeatherReport, error) {
	values := openMeteoCoordinates(at)
	values.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,dew_point_2m,pressure_msl,"+
		"cloud_cover,visibility,wind_speed_10m,wind_direction_10m,uv_index,weather_code")
	values.Set("minutely_15", "precipitation")
	values.Set("hourly", "temperature_2m,apparent_temperature,relative_humidity_2m,wind_speed_10m,"+
		"precipitation_probability,precipitation,weather_code")
	values.Set("daily", "temperature_2m_min,temperature_2m_max,precipitation_probability_max,precipitation_sum,"+
		"wind_speed_10m_max,uv_index_max,weather_code,sunrise,sunset")
	values.Set("forecast_days", "7")
	values.Set("forecast_hours", "48")
	values.Set("forecast_minutely_15", "8")
	values.Set("timezone", "auto")
	values.Set("timeformat", "unixtime")
	values.Set("wind_speed_unit", "ms")

	var payload omForecast
	if err := p.forecast.getJSON(ctx, weather.StagePrimary, p.forecastURL+"?"+values.Encode(), &payload); err != nil {
		return weather.WeatherReport{}, err
	}
	return p.report(payload)
}

// report converts the column-oriented payload. Columns of different length
// reject the whole payload.
func (p *OpenMeteoProvider) report(payload omForecast) (weather.WeatherReport, error) {
	if payload.Current == nil {
		return weather.WeatherReport{}, parseFailure(p.name, weather.StagePrimary, fmt.Errorf("current: %w", errEmptyPayload))
	}

	m := payload.Minutely15
	if err := sameLength("minutely_15", len(m.Time), len(m.Precipitation)); err != nil {
		return weather.WeatherReport{}, parseFailure(p.name, weather.StagePrimary, err)
	}
	h := payload.Hourly
	if err := sameLength("hourly", len(h.Time), len(h.Temperature), len(h.ApparentTemperature), len(h.RelativeHumidity),
		len(h.WindSpeed), len(h.PrecipitationProbability), len(h.Precipitation), len(h.WeatherCode)); err != nil {
		return weather.WeatherReport{}, parseFailure(p.name, weather.StagePrimary, err)
	}
	d := payload.Daily
	if err := sameLength("daily", len(d.Time), len(d.TemperatureMin), len(d.TemperatureMax), len(d.PrecipitationProbabilityMax),
		len(d.PrecipitationSum), len(d.WindSpeedMax), len(d.UVIndexMax), len(d.WeatherCode), len(d.Sunrise), len(d.Sunset)); err != nil {
		return weather.WeatherReport{}, parseFailure(p.name, weather.StagePrimary, err)
	}

	cur := payload.Current
	report := weather.WeatherReport{
		UTCOffsetSeconds: payload.UTCOffsetSeconds,
		Current: weather.CurrentWeather{
			Time:             unixUTC(cur.Time),
			TemperatureC:     cur.Temperature,
			FeelsLikeC:       cur.ApparentTemperature,
			HumidityPct:      cur.RelativeHumidity,
			PressureHpa:      cur.PressureMSL,
			DewPointC:        cur.DewPoint,
			CloudCoverPct:    cur.CloudCover,
			UVIndex:          cur.UVIndex,
			VisibilityM:      cur.Visibility,
			WindSpeedMS:      cur.WindSpeed,
			WindDirectionDeg: cur.WindDirection,
			Condition:        mapOpenMeteoCondition(cur.WeatherCode),
		},
	}
	if len(d.Time) > 0 {
		report.Current.Sunrise = unixUTC(d.Sunrise[0])
		report.Current.Sunset = unixUTC(d.Sunset[0])
	}

	for i := range m.Time {
		report.Minutely = append(report.Minutely, weather.MinutelyForecast{
			Time:            unixUTC(m.Time[i]),
			PrecipitationMm: m.Precipitation[i],
		})
	}
	for i := range h.Time {
		report.Hourly = append(report.Hourly, weather.HourlyForecast{
			Time:                 unixUTC(h.Time[i]),
			TemperatureC:         h.Temperature[i],
			FeelsLikeC:           h.ApparentTemperature[i],
			HumidityPct:          h.RelativeHumidity[i],
			WindSpeedMS:          h.WindSpeed[i],
			PrecipitationProbPct: h.PrecipitationProbability[i],
			PrecipitationMm:      h.Precipitation[i],
			Condition:            mapOpenMeteoCondition(h.WeatherCode[i]),
		})
	}
	for i := range d.Time {
		report.Daily = append(report.Daily, weather.DailyForecast{
			Time:                 unixUTC(d.Time[i]),
			TempMinC:             d.TemperatureMin[i],
			TempMaxC:             d.TemperatureMax[i],
			PrecipitationProbPct: d.PrecipitationProbabilityMax[i],
			PrecipitationMm:      d.PrecipitationSum[i],
			WindSpeedMS:          d.WindSpeedMax[i],
			UVIndex:              d.UVIndexMax[i],
			Condition:            mapOpenMeteoCondition(d.WeatherCode[i]),
			Sunrise:              unixUTC(d.Sunrise[i]),
			Sunset:               unixUTC(d.Sunset[i]),
		})
	}
	return report, nil
}

// FetchAirQuality reads the current reading. AQI is the European AQI.
func (p *OpenMeteoProvider) FetchAirQuality(ctx context.Context, at weather.Coordinates) (weather.AirQuality, error) {
	values := openMeteoCoordinates(at)
	values.Set("current", "european_aqi,pm2_5,pm10,ozone,nitrogen_dioxide,sulphur_dioxide,carbon_monoxide")
	values.Set("timeformat", "unixtime")

	var payload struct {
		Current *struct {
			Time            int64   `json:"time"`
			EuropeanAQI     float64 `json:"european_aqi"`
			PM25            float64 `json:"pm2_5"`
			PM10            float64 `json:"pm10"`
			Ozone           float64 `json:"ozone"`
			NitrogenDioxide float64 `json:"nitrogen_dioxide"`
			SulphurDioxide  float64 `json:"sulphur_dioxide"`
			CarbonMonoxide  float64 `json:"carbon_monoxide"`
		} `json:"current"`
	}
	if err := p.airQuality.getJSON(ctx, weather.StageSecondary, p.airQualityURL+"?"+values.Encode(), &payload); err != nil {
		return weather.AirQuality{}, err
	}
	if payload.Current == nil {
		return weather.AirQuality{}, parseFailure(p.name, weather.StageSecondary, fmt.Errorf("current: %w", errEmptyPayload))
	}

	c := payload.Current
	return weather.AirQuality{
		Time: unixUTC(c.Time),
		AQI:  int(math.Round(c.EuropeanAQI)),
		PM25: c.PM25,
		PM10: c.PM10,
		O3:   c.Ozone,
		NO2:  c.NitrogenDioxide,
		SO2:  c.SulphurDioxide,
		CO:   c.CarbonMonoxide,
	}, nil
}

func openMeteoCoordinates(at weather.Coordinates) url.Values {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%f", at.Latitude))
	values.Set("longitude", fmt.Sprintf("%f", at.Longitude))
	return values
}

func sameLength(block string, lengths ...int) error {
	for _, n := range lengths[1:] {
		if n != lengths[0] {
			return fmt.Errorf("%s: column lengths differ (%v)", block, lengths)
		}
	}
	return nil
}

// mapOpenMeteoCondition maps WMO weather codes.
func mapOpenMeteoCondition(code int) weather.Condition {
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
