package weather

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var errEmptyReport = errors.New("weather report has no observation time")

// Clone returns a deep copy of p. Mutating the copy never affects p.
func (p Place) Clone() Place {
	out := p
	if p.CurrentWeather != nil {
		cw := *p.CurrentWeather
		out.CurrentWeather = &cw
	}
	if p.AirQuality != nil {
		aq := *p.AirQuality
		out.AirQuality = &aq
	}
	out.Minutely = slices.Clone(p.Minutely)
	out.Hourly = slices.Clone(p.Hourly)
	out.Daily = slices.Clone(p.Daily)
	out.Alerts = slices.Clone(p.Alerts)
	return out
}

// ClonePlaces deep-copies every place in ps.
func ClonePlaces(ps []Place) []Place {
	if ps == nil {
		return nil
	}
	out := make([]Place, len(ps))
	for i := range ps {
		out[i] = ps[i].Clone()
	}
	return out
}

// Validate checks that a report is complete enough to replace the weather
// data of a place. Forecast times must strictly increase: one row per time.
func (r WeatherReport) Validate() error {
	if r.Current.Time.IsZero() {
		return errEmptyReport
	}
	if err := increasing("minutely", r.Minutely, func(f MinutelyForecast) time.Time { return f.Time }); err != nil {
		return err
	}
	if err := increasing("hourly", r.Hourly, func(f HourlyForecast) time.Time { return f.Time }); err != nil {
		return err
	}
	return increasing("daily", r.Daily, func(f DailyForecast) time.Time { return f.Time })
}

func increasing[T any](name string, rows []T, at func(T) time.Time) error {
	for i := 1; i < len(rows); i++ {
		if !at(rows[i]).After(at(rows[i-1])) {
			return fmt.Errorf("%s forecast not strictly increasing at index %d", name, i)
		}
	}
	return nil
}

// ApplyWeather replaces the current weather and every forecast list of p with
// the content of r. Lists are replaced wholesale, never merged.
func (p *Place) ApplyWeather(r WeatherReport, now time.Time) {
	cw := r.Current
	p.CurrentWeather = &cw
	p.Minutely = slices.Clone(r.Minutely)
	p.Hourly = slices.Clone(r.Hourly)
	p.Daily = slices.Clone(r.Daily)
	p.Alerts = slices.Clone(r.Alerts)
	p.Properties.UTCOffsetSeconds = r.UTCOffsetSeconds
	p.Properties.WeatherDataAt = r.Current.Time
	p.Properties.WeatherUpdatedAt = now
}

// ApplyAirQuality replaces the air quality reading of p.
func (p *Place) ApplyAirQuality(aq AirQuality, now time.Time) {
	p.AirQuality = &aq
	p.Properties.AirQualityDataAt = aq.Time
	p.Properties.AirQualityUpdatedAt = now
}
