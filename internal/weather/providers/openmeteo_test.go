package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-places/internal/weather"
)

const forecastBody = `{
  "utc_offset_seconds": 3600,
  "current": {
    "time": 1772366400, "temperature_2m": 9.8, "apparent_temperature": 7.1,
    "relative_humidity_2m": 70, "dew_point_2m": 4.6, "pressure_msl": 1018.2,
    "cloud_cover": 40, "visibility": 24000, "wind_speed_10m": 3.2,
    "wind_direction_10m": 250, "uv_index": 2.1, "weather_code": 2
  },
  "minutely_15": {"time": [1772366400, 1772367300], "precipitation": [0, 0.1]},
  "hourly": {
    "time": [1772366400, 1772370000],
    "temperature_2m": [9.8, 10.4],
    "apparent_temperature": [7.1, 7.9],
    "relative_humidity_2m": [70, 68],
    "wind_speed_10m": [3.2, 3.5],
    "precipitation_probability": [10, 35],
    "precipitation": [0, 0.4],
    "weather_code": [2, 61]
  },
  "daily": {
    "time": [1772319600],
    "temperature_2m_min": [3.1],
    "temperature_2m_max": [12.7],
    "precipitation_probability_max": [40],
    "precipitation_sum": [1.2],
    "wind_speed_10m_max": [6.3],
    "uv_index_max": [2.9],
    "weather_code": [61],
    "sunrise": [1772345000],
    "sunset": [1772386000]
  }
}`

func newOpenMeteo(t *testing.T, handler http.HandlerFunc) *OpenMeteoProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenMeteoProvider(srv.Client(), WithOpenMeteoURLs(srv.URL+"/forecast", srv.URL+"/air-quality", srv.URL+"/search"))
}

func TestOpenMeteo_FetchWeather(t *testing.T) {
	p := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forecast", r.URL.Path)
		assert.Equal(t, "unixtime", r.URL.Query().Get("timeformat"))
		assert.Equal(t, "ms", r.URL.Query().Get("wind_speed_unit"))
		_, _ = w.Write([]byte(forecastBody))
	})

	report, err := p.FetchWeather(context.Background(), weather.Coordinates{Latitude: 52.52, Longitude: 13.41})
	require.NoError(t, err)
	require.NoError(t, report.Validate())

	assert.Equal(t, 3600, report.UTCOffsetSeconds)
	assert.Equal(t, 9.8, report.Current.TemperatureC)
	assert.Equal(t, weather.ConditionCloudy, report.Current.Condition)
	assert.Equal(t, unixUTC(1772345000), report.Current.Sunrise, "sunrise comes from the first day")
	assert.Len(t, report.Minutely, 2)
	require.Len(t, report.Hourly, 2)
	assert.Equal(t, weather.ConditionRain, report.Hourly[1].Condition)
	assert.Equal(t, 35.0, report.Hourly[1].PrecipitationProbPct)
	require.Len(t, report.Daily, 1)
	assert.Equal(t, 12.7, report.Daily[0].TempMaxC)
	assert.Empty(t, report.Alerts)
}

func TestOpenMeteo_MismatchedColumnsRejectWholePayload(t *testing.T) {
	p := newOpenMeteo(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
		  "current": {"time": 1772366400},
		  "hourly": {"time": [1, 2, 3], "temperature_2m": [1, 2]}
		}`))
	})

	report, err := p.FetchWeather(context.Background(), weather.Coordinates{})
	require.Error(t, err)
	assert.Equal(t, weather.StatusUnknown, weather.StatusOf(err))
	assert.Empty(t, report.Hourly)
}

func TestOpenMeteo_Resolve(t *testing.T) {
	p := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":[
		  {"name":"Paris","latitude":33.66,"longitude":-95.55,"country_code":"US"},
		  {"name":"Paris","latitude":48.85,"longitude":2.35,"country_code":"FR"}
		]}`))
	})

	geo, err := p.Resolve(context.Background(), "paris", "fr")
	require.NoError(t, err)
	assert.Equal(t, "Paris", geo.City)
	assert.Equal(t, "FR", geo.Country)
	assert.Equal(t, 48.85, geo.Coordinates.Latitude)

	_, err = p.Resolve(context.Background(), "paris", "DE")
	assert.Equal(t, weather.StatusNotFound, weather.StatusOf(err))
}

func TestOpenMeteo_ResolveNoResultsKey(t *testing.T) {
	p := newOpenMeteo(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"generationtime_ms":0.5}`))
	})
	_, err := p.Resolve(context.Background(), "Qwxz", "FR")
	assert.Equal(t, weather.StatusNotFound, weather.StatusOf(err))
}

func TestOpenMeteo_FetchAirQuality(t *testing.T) {
	p := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/air-quality", r.URL.Path)
		_, _ = w.Write([]byte(`{"current":{"time":1772366400,"european_aqi":41.6,"pm2_5":9.2,"pm10":14.1,"ozone":55,"nitrogen_dioxide":12.3,"sulphur_dioxide":1.1,"carbon_monoxide":180}}`))
	})

	aq, err := p.FetchAirQuality(context.Background(), weather.Coordinates{})
	require.NoError(t, err)
	assert.Equal(t, 42, aq.AQI)
	assert.Equal(t, 9.2, aq.PM25)
	assert.Equal(t, 55.0, aq.O3)
}

func TestMapOpenMeteoCondition(t *testing.T) {
	tests := map[int]weather.Condition{
		0:  weather.ConditionClear,
		3:  weather.ConditionCloudy,
		45: weather.ConditionMist,
		63: weather.ConditionRain,
		81: weather.ConditionRain,
		75: weather.ConditionSnow,
		86: weather.ConditionSnow,
		99: weather.ConditionStorm,
		30: weather.ConditionUnknown,
	}
	for code, want := range tests {
		assert.Equal(t, want, mapOpenMeteoCondition(code), "code %d", code)
	}
}
