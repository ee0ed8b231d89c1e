package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/i474232898/weather-places/internal/weather"
)

// nestedTables hold everything a weather or air-quality refresh replaces.
var nestedTables = []string{
	"place_current_weather",
	"place_air_quality",
	"place_minutely_forecast",
	"place_hourly_forecast",
	"place_daily_forecast",
	"place_alert",
}

func writeNested(ctx context.Context, tx pgx.Tx, p weather.Place) error {
	if w := p.CurrentWeather; w != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO place_current_weather (
				place_id, observed_at, temperature_c, feels_like_c, humidity_pct, pressure_hpa,
				dew_point_c, cloud_cover_pct, uv_index, visibility_m, wind_speed_ms,
				wind_direction_deg, condition, description, sunrise, sunset
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			p.ID, w.Time, w.TemperatureC, w.FeelsLikeC, w.HumidityPct, w.PressureHpa,
			w.DewPointC, w.CloudCoverPct, w.UVIndex, w.VisibilityM, w.WindSpeedMS,
			w.WindDirectionDeg, string(w.Condition), w.Description, w.Sunrise, w.Sunset,
		); err != nil {
			return fmt.Errorf("postgres: failed to insert current weather: %w", err)
		}
	}

	if aq := p.AirQuality; aq != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO place_air_quality (place_id, observed_at, aqi, pm2_5, pm10, o3, no2, so2, co)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, aq.Time, aq.AQI, aq.PM25, aq.PM10, aq.O3, aq.NO2, aq.SO2, aq.CO,
		); err != nil {
			return fmt.Errorf("postgres: failed to insert air quality: %w", err)
		}
	}

	if len(p.Minutely) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"place_minutely_forecast"},
			[]string{"place_id", "forecast_time", "precipitation_mm"},
			pgx.CopyFromSlice(len(p.Minutely), func(i int) ([]any, error) {
				m := p.Minutely[i]
				return []any{p.ID, m.Time, m.PrecipitationMm}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to copy minutely forecast: %w", err)
		}
	}

	if len(p.Hourly) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"place_hourly_forecast"},
			[]string{
				"place_id", "forecast_time", "temperature_c", "feels_like_c", "humidity_pct",
				"wind_speed_ms", "precipitation_prob_pct", "precipitation_mm", "condition",
			},
			pgx.CopyFromSlice(len(p.Hourly), func(i int) ([]any, error) {
				h := p.Hourly[i]
				return []any{
					p.ID, h.Time, h.TemperatureC, h.FeelsLikeC, h.HumidityPct,
					h.WindSpeedMS, h.PrecipitationProbPct, h.PrecipitationMm, string(h.Condition),
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to copy hourly forecast: %w", err)
		}
	}

	if len(p.Daily) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"place_daily_forecast"},
			[]string{
				"place_id", "forecast_time", "temp_min_c", "temp_max_c", "precipitation_prob_pct",
				"precipitation_mm", "wind_speed_ms", "uv_index", "condition", "sunrise", "sunset",
			},
			pgx.CopyFromSlice(len(p.Daily), func(i int) ([]any, error) {
				d := p.Daily[i]
				return []any{
					p.ID, d.Time, d.TempMinC, d.TempMaxC, d.PrecipitationProbPct,
					d.PrecipitationMm, d.WindSpeedMS, d.UVIndex, string(d.Condition), d.Sunrise, d.Sunset,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to copy daily forecast: %w", err)
		}
	}

	if len(p.Alerts) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"place_alert"},
			[]string{"place_id", "seq", "sender", "event", "starts_at", "ends_at", "description"},
			pgx.CopyFromSlice(len(p.Alerts), func(i int) ([]any, error) {
				a := p.Alerts[i]
				return []any{p.ID, int32(i), a.Sender, a.Event, a.Start, a.End, a.Description}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to copy alerts: %w", err)
		}
	}
	return nil
}

// placeFilter restricts a query to the given ids; a nil slice encodes as NULL
// and matches every place.
const placeFilter = `($1::bigint[] IS NULL OR place_id = ANY($1::bigint[]))`

// loadPlaces reads the places with the given ids, or all places when ids is
// nil, ordered by sort_order. Unknown ids are skipped.
func loadPlaces(ctx context.Context, tx pgx.Tx, ids []int64) ([]weather.Place, error) {
	rows, err := tx.Query(ctx, `
		SELECT g.place_id, g.city, g.country, g.latitude, g.longitude,
			p.sort_order, p.created_at, p.weather_updated_at, p.weather_attempted_at,
			p.air_quality_updated_at, p.air_quality_attempted_at, p.weather_data_at,
			p.air_quality_data_at, p.utc_offset_seconds
		FROM place_geolocation g
		JOIN place_properties p USING (place_id)
		WHERE `+placeFilter+`
		ORDER BY p.sort_order`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query places: %w", err)
	}

	var places []weather.Place
	index := make(map[int64]int)
	for rows.Next() {
		var p weather.Place
		pr := &p.Properties
		if err := rows.Scan(
			&p.ID, &p.Geolocation.City, &p.Geolocation.Country,
			&p.Geolocation.Coordinates.Latitude, &p.Geolocation.Coordinates.Longitude,
			&p.Order, &pr.CreatedAt, &pr.WeatherUpdatedAt, &pr.WeatherAttemptedAt,
			&pr.AirQualityUpdatedAt, &pr.AirQualityAttemptedAt, &pr.WeatherDataAt,
			&pr.AirQualityDataAt, &pr.UTCOffsetSeconds,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: failed to scan place: %w", err)
		}
		pr.CreatedAt = utc(pr.CreatedAt)
		pr.WeatherUpdatedAt = utc(pr.WeatherUpdatedAt)
		pr.WeatherAttemptedAt = utc(pr.WeatherAttemptedAt)
		pr.AirQualityUpdatedAt = utc(pr.AirQualityUpdatedAt)
		pr.AirQualityAttemptedAt = utc(pr.AirQualityAttemptedAt)
		pr.WeatherDataAt = utc(pr.WeatherDataAt)
		pr.AirQualityDataAt = utc(pr.AirQualityDataAt)

		index[p.ID] = len(places)
		places = append(places, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read places: %w", err)
	}
	if len(places) == 0 {
		return places, nil
	}

	loaders := []func(context.Context, pgx.Tx, []int64, []weather.Place, map[int64]int) error{
		loadCurrentWeather,
		loadAirQuality,
		loadMinutely,
		loadHourly,
		loadDaily,
		loadAlerts,
	}
	for _, load := range loaders {
		if err := load(ctx, tx, ids, places, index); err != nil {
			return nil, err
		}
	}
	return places, nil
}

func loadCurrentWeather(ctx context.Context, tx pgx.Tx, ids []int64, places []weather.Place, index map[int64]int) error {
	rows, err := tx.Query(ctx, `
		SELECT place_id, observed_at, temperature_c, feels_like_c, humidity_pct, pressure_hpa,
			dew_point_c, cloud_cover_pct, uv_index, visibility_m, wind_speed_ms,
			wind_direction_deg, condition, description, sunrise, sunset
		FROM place_current_weather
		WHERE `+placeFilter, ids)
	if err != nil {
		return fmt.Errorf("postgres: failed to query current weather: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			w    weather.CurrentWeather
			cond string
		)
		if err := rows.Scan(
			&id, &w.Time, &w.TemperatureC, &w.FeelsLikeC, &w.HumidityPct, &w.PressureHpa,
			&w.DewPointC, &w.CloudCoverPct, &w.UVIndex, &w.VisibilityM, &w.WindSpeedMS,
			&w.WindDirectionDeg, &cond, &w.Description, &w.Sunrise, &w.Sunset,
		); err != nil {
			return fmt.Errorf("postgres: failed to scan current weather: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		w.Time, w.Sunrise, w.Sunset = utc(w.Time), utc(w.Sunrise), utc(w.Sunset)
		w.Condition = weather.Condition(cond)
		places[i].CurrentWeather = &w
	}
	return rows.Err()
}

func loadAirQuality(ctx context.Context, tx pgx.Tx, ids []int64, places []weather.Place, index map[int64]int) error {
	rows, err := tx.Query(ctx, `
		SELECT place_id, observed_at, aqi, pm2_5, pm10, o3, no2, so2, co
		FROM place_air_quality
		WHERE `+placeFilter, ids)
	if err != nil {
		return fmt.Errorf("postgres: failed to query air quality: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			aq weather.AirQuality
		)
		if err := rows.Scan(&id, &aq.Time, &aq.AQI, &aq.PM25, &aq.PM10, &aq.O3, &aq.NO2, &aq.SO2, &aq.CO); err != nil {
			return fmt.Errorf("postgres: failed to scan air quality: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		aq.Time = utc(aq.Time)
		places[i].AirQuality = &aq
	}
	return rows.Err()
}

func loadMinutely(ctx context.Context, tx pgx.Tx, ids []int64, places []weather.Place, index map[int64]int) error {
	rows, err := tx.Query(ctx, `
		SELECT place_id, forecast_time, precipitation_mm
		FROM place_minutely_forecast
		WHERE `+placeFilter+`
		ORDER BY place_id, forecast_time`, ids)
	if err != nil {
		return fmt.Errorf("postgres: failed to query minutely forecast: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			m  weather.MinutelyForecast
		)
		if err := rows.Scan(&id, &m.Time, &m.PrecipitationMm); err != nil {
			return fmt.Errorf("postgres: failed to scan minutely forecast: %w", err)
		}
		if i, ok := index[id]; ok {
			m.Time = utc(m.Time)
			places[i].Minutely = append(places[i].Minutely, m)
		}
	}
	return rows.Err()
}

func loadHourly(ctx context.Context, tx pgx.Tx, ids []int64, places []weather.Place, index map[int64]int) error {
	rows, err := tx.Query(ctx, `
		SELECT place_id, forecast_time, temperature_c, feels_like_c, humidity_pct,
			wind_speed_ms, precipitation_prob_pct, precipitation_mm, condition
		FROM place_hourly_forecast
		WHERE `+placeFilter+`
		ORDER BY place_id, forecast_time`, ids)
	if err != nil {
		return fmt.Errorf("postgres: failed to query hourly forecast: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			h    weather.HourlyForecast
			cond string
		)
		if err := rows.Scan(
			&id, &h.Time, &h.TemperatureC, &h.FeelsLikeC, &h.HumidityPct,
			&h.WindSpeedMS, &h.PrecipitationProbPct, &h.PrecipitationMm, &cond,
		); err != nil {
			return fmt.Errorf("postgres: failed to scan hourly forecast: %w", err)
		}
		if i, ok := index[id]; ok {
			h.Time = utc(h.Time)
			h.Condition = weather.Condition(cond)
			places[i].Hourly = append(places[i].Hourly, h)
		}
	}
	return rows.Err()
}

func loadDaily(ctx context.Context, tx pgx.Tx, ids []int64, places []weather.Place, index map[int64]int) error {
	rows, err := tx.Query(ctx, `
		SELECT place_id, forecast_time, temp_min_c, temp_max_c, precipitation_prob_pct,
			precipitation_mm, wind_speed_ms, uv_index, condition, sunrise, sunset
		FROM place_daily_forecast
		WHERE `+placeFilter+`
		ORDER BY place_id, forecast_time`, ids)
	if err != nil {
		return fmt.Errorf("postgres: failed to query daily forecast: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			d    weather.DailyForecast
			cond string
		)
		if err := rows.Scan(
			&id, &d.Time, &d.TempMinC, &d.TempMaxC, &d.PrecipitationProbPct,
			&d.PrecipitationMm, &d.WindSpeedMS, &d.UVIndex, &cond, &d.Sunrise, &d.Sunset,
		); err != nil {
			return fmt.Errorf("postgres: failed to scan daily forecast: %w", err)
		}
		if i, ok := index[id]; ok {
			d.Time, d.Sunrise, d.Sunset = utc(d.Time), utc(d.Sunrise), utc(d.Sunset)
			d.Condition = weather.Condition(cond)
			places[i].Daily = append(places[i].Daily, d)
		}
	}
	return rows.Err()
}

func loadAlerts(ctx context.Context, tx pgx.Tx, ids []int64, places []weather.Place, index map[int64]int) error {
	rows, err := tx.Query(ctx, `
		SELECT place_id, sender, event, starts_at, ends_at, description
		FROM place_alert
		WHERE `+placeFilter+`
		ORDER BY place_id, seq`, ids)
	if err != nil {
		return fmt.Errorf("postgres: failed to query alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			a  weather.Alert
		)
		if err := rows.Scan(&id, &a.Sender, &a.Event, &a.Start, &a.End, &a.Description); err != nil {
			return fmt.Errorf("postgres: failed to scan alert: %w", err)
		}
		if i, ok := index[id]; ok {
			a.Start, a.End = utc(a.Start), utc(a.End)
			places[i].Alerts = append(places[i].Alerts, a)
		}
	}
	return rows.Err()
}
