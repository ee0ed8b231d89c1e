package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/i474232898/weather-places/internal/weather"
)

const openWeatherBaseURL = "https://api.openweathermap.org"

// OpenWeatherProvider serves geocoding, weather and air quality from
// OpenWeatherMap. Weather comes from One Call 3.0.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	http    *jsonClient
}

var (
	_ weather.Resolver           = (*OpenWeatherProvider)(nil)
	_ weather.WeatherProvider    = (*OpenWeatherProvider)(nil)
	_ weather.AirQualityProvider = (*OpenWeatherProvider)(nil)
)

// OpenWeatherOption configures an OpenWeatherProvider.
type OpenWeatherOption func(*OpenWeatherProvider)

// WithOpenWeatherBaseURL points the provider at another host.
func WithOpenWeatherBaseURL(u string) OpenWeatherOption {
	return func(p *OpenWeatherProvider) { p.baseURL = strings.TrimRight(u, "/") }
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, opts ...OpenWeatherOption) *OpenWeatherProvider {
	p := &OpenWeatherProvider{
		name:    "openweather",
		apiKey:  apiKey,
		baseURL: openWeatherBaseURL,
		http:    newJSONClient("openweather", client),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// Resolve uses the direct geocoding API.
func (p *OpenWeatherProvider) Resolve(ctx context.Context, city, country string) (weather.Geolocation, error) {
	if p.apiKey == "" {
		return weather.Geolocation{}, weather.NewFetchError(weather.StatusAuthFailed, weather.StageResolve, fmt.Errorf("openweather: %w", errNoAPIKey))
	}

	values := url.Values{}
	values.Set("q", city+","+country)
	values.Set("limit", "1")
	values.Set("appid", p.apiKey)

	var payload []struct {
		Name    string  `json:"name"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		Country string  `json:"country"`
	}
	if err := p.http.getJSON(ctx, weather.StageResolve, p.baseURL+"/geo/1.0/direct?"+values.Encode(), &payload); err != nil {
		return weather.Geolocation{}, err
	}
	if len(payload) == 0 {
		return weather.Geolocation{}, weather.NewFetchError(weather.StatusNotFound, weather.StageResolve,
			fmt.Errorf("openweather: %w: %s, %s", errNoResults, city, country))
	}

	hit := payload[0]
	return weather.Geolocation{
		City:        hit.Name,
		Country:     strings.ToUpper(hit.Country),
		Coordinates: weather.Coordinates{Latitude: hit.Lat, Longitude: hit.Lon},
	}, nil
}

type owCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
}

type owOneCall struct {
	TimezoneOffset int `json:"timezone_offset"`
	Current        *struct {
		Dt         int64         `json:"dt"`
		Sunrise    int64         `json:"sunrise"`
		Sunset     int64         `json:"sunset"`
		Temp       float64       `json:"temp"`
		FeelsLike  float64       `json:"feels_like"`
		Pressure   float64       `json:"pressure"`
		Humidity   float64       `json:"humidity"`
		DewPoint   float64       `json:"dew_point"`
		UVI        float64       `json:"uvi"`
		Clouds     float64       `json:"clouds"`
		Visibility float64       `json:"visibility"`
		WindSpeed  float64       `json:"wind_speed"`
		WindDeg    float64       `json:"wind_deg"`
		Weather    []owCondition `json:"weather"`
	} `json:"current"`
	Minutely []struct {
		Dt            int64   `json:"dt"`
		Precipitation float64 `json:"precipitation"`
	} `json:"minutely"`
	Hourly []struct {
		Dt        int64   `json:"dt"`
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
		WindSpeed float64 `json:"wind_speed"`
		Pop       float64 `json:"pop"`
		Rain      struct {
			OneH float64 `json:"1h"`
		} `json:"rain"`
		Snow struct {
			OneH float64 `json:"1h"`
		} `json:"snow"`
		Weather []owCondition `json:"weather"`
	} `json:"hourly"`
	Daily []struct {
		Dt      int64 `json:"dt"`
		Sunrise int64 `json:"sunrise"`
		Sunset  int64 `json:"sunset"`
		Temp    struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"temp"`
		Pop       float64       `json:"pop"`
		Rain      float64       `json:"rain"`
		Snow      float64       `json:"snow"`
		WindSpeed float64       `json:"wind_speed"`
		UVI       float64       `json:"uvi"`
		Weather   []owCondition `json:"weather"`
	} `json:"daily"`
	Alerts []struct {
		SenderName  string `json:"sender_name"`
		Event       string `json:"event"`
		Start       int64  `json:"start"`
		End         int64  `json:"end"`
		Description string `json:"description"`
	} `json:"alerts"`
}

// FetchWeather reads current weather, forecasts and alerts from One Call 3.0.
func (p *OpenWeatherProvider) FetchWeather(ctx context.Context, at weather.Coordinates) (weather.WeatherReport, error) {
	if p.apiKey == "" {
		return weather.WeatherReport{}, weather.NewFetchError(weather.StatusAuthFailed, weather.StagePrimary, fmt.Errorf("openweather: %w", errNoAPIKey))
	}

	values := coordinateValues(at)
	values.Set("units", "metric")
	values.Set("appid", p.apiKey)

	var payload owOneCall
	if err := p.http.getJSON(ctx, weather.StagePrimary, p.baseURL+"/data/3.0/onecall?"+values.Encode(), &payload); err != nil {
		return weather.WeatherReport{}, err
	}
	if payload.Current == nil {
		return weather.WeatherReport{}, parseFailure(p.name, weather.StagePrimary, fmt.Errorf("current: %w", errEmptyPayload))
	}

	cur := payload.Current
	cond, desc := mapOpenWeatherCondition(cur.Weather)
	report := weather.WeatherReport{
		UTCOffsetSeconds: payload.TimezoneOffset,
		Current: weather.CurrentWeather{
			Time:             unixUTC(cur.Dt),
			TemperatureC:     cur.Temp,
			FeelsLikeC:       cur.FeelsLike,
			HumidityPct:      cur.Humidity,
			PressureHpa:      cur.Pressure,
			DewPointC:        cur.DewPoint,
			CloudCoverPct:    cur.Clouds,
			UVIndex:          cur.UVI,
			VisibilityM:      cur.Visibility,
			WindSpeedMS:      cur.WindSpeed,
			WindDirectionDeg: cur.WindDeg,
			Condition:        cond,
			Description:      desc,
			Sunrise:          unixUTC(cur.Sunrise),
			Sunset:           unixUTC(cur.Sunset),
		},
	}

	for _, m := range payload.Minutely {
		report.Minutely = append(report.Minutely, weather.MinutelyForecast{
			Time:            unixUTC(m.Dt),
			PrecipitationMm: m.Precipitation,
		})
	}
	for _, h := range payload.Hourly {
		hc, _ := mapOpenWeatherCondition(h.Weather)
		report.Hourly = append(report.Hourly, weather.HourlyForecast{
			Time:                 unixUTC(h.Dt),
			TemperatureC:         h.Temp,
			FeelsLikeC:           h.FeelsLike,
			HumidityPct:          h.Humidity,
			WindSpeedMS:          h.WindSpeed,
			PrecipitationProbPct: h.Pop * 100,
			PrecipitationMm:      h.Rain.OneH + h.Snow.OneH,
			Condition:            hc,
		})
	}
	for _, d := range payload.Daily {
		dc, _ := mapOpenWeatherCondition(d.Weather)
		report.Daily = append(report.Daily, weather.DailyForecast{
			Time:                 unixUTC(d.Dt),
			TempMinC:             d.Temp.Min,
			TempMaxC:             d.Temp.Max,
			PrecipitationProbPct: d.Pop * 100,
			PrecipitationMm:      d.Rain + d.Snow,
			WindSpeedMS:          d.WindSpeed,
			UVIndex:              d.UVI,
			Condition:            dc,
			Sunrise:              unixUTC(d.Sunrise),
			Sunset:               unixUTC(d.Sunset),
		})
	}
	for _, a := range payload.Alerts {
		report.Alerts = append(report.Alerts, weather.Alert{
			Sender:      a.SenderName,
			Event:       a.Event,
			Start:       unixUTC(a.Start),
			End:         unixUTC(a.End),
			Description: a.Description,
		})
	}
	return report, nil
}

// FetchAirQuality reads the current air pollution reading. AQI is on the
// OpenWeather 1..5 scale.
func (p *OpenWeatherProvider) FetchAirQuality(ctx context.Context, at weather.Coordinates) (weather.AirQuality, error) {
	if p.apiKey == "" {
		return weather.AirQuality{}, weather.NewFetchError(weather.StatusAuthFailed, weather.StageSecondary, fmt.Errorf("openweather: %w", errNoAPIKey))
	}

	values := coordinateValues(at)
	values.Set("appid", p.apiKey)

	var payload struct {
		List []struct {
			Dt   int64 `json:"dt"`
			Main struct {
				AQI int `json:"aqi"`
			} `json:"main"`
			Components struct {
				CO   float64 `json:"co"`
				NO2  float64 `json:"no2"`
				O3   float64 `json:"o3"`
				SO2  float64 `json:"so2"`
				PM25 float64 `json:"pm2_5"`
				PM10 float64 `json:"pm10"`
			} `json:"components"`
		} `json:"list"`
	}
	if err := p.http.getJSON(ctx, weather.StageSecondary, p.baseURL+"/data/2.5/air_pollution?"+values.Encode(), &payload); err != nil {
		return weather.AirQuality{}, err
	}
	if len(payload.List) == 0 {
		return weather.AirQuality{}, parseFailure(p.name, weather.StageSecondary, fmt.Errorf("air pollution: %w", errEmptyPayload))
	}

	r := payload.List[0]
	return weather.AirQuality{
		Time: unixUTC(r.Dt),
		AQI:  r.Main.AQI,
		PM25: r.Components.PM25,
		PM10: r.Components.PM10,
		O3:   r.Components.O3,
		NO2:  r.Components.NO2,
		SO2:  r.Components.SO2,
		CO:   r.Components.CO,
	}, nil
}

func coordinateValues(at weather.Coordinates) url.Values {
	values := url.Values{}
	values.Set("lat", strconv.FormatFloat(at.Latitude, 'f', 6, 64))
	values.Set("lon", strconv.FormatFloat(at.Longitude, 'f', 6, 64))
	return values
}

func mapOpenWeatherCondition(items []owCondition) (weather.Condition, string) {
	if len(items) == 0 {
		return weather.ConditionUnknown, ""
	}
	desc := items[0].Description
	switch items[0].Main {
	case "Clear":
		return weather.ConditionClear, desc
	case "Clouds":
		return weather.ConditionCloudy, desc
	case "Rain", "Drizzle":
		return weather.ConditionRain, desc
	case "Snow":
		return weather.ConditionSnow, desc
	case "Thunderstorm", "Squall", "Tornado":
		return weather.ConditionStorm, desc
	case "Mist", "Fog", "Haze", "Smoke", "Dust", "Sand", "Ash":
		return weather.ConditionMist, desc
	default:
		return weather.ConditionUnknown, desc
	}
}
