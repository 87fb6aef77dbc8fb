package weather

import (
	"math"
	"time"
)

// Location represents a logical place for which we track weather.
// City/Country identify it; Lat/Lon are optional and are resolved
// through geocoding when a provider needs coordinates.
type Location struct {
	City    string   `json:"city"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return l.City + ":" + l.Country
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// Sample is one forecast reading at a point in time.
// Temperature is in °C, Precipitation in mm and WindSpeed in km/h.
type Sample struct {
	Timestamp     time.Time `json:"timestamp"` // always UTC
	Temperature   float64   `json:"temperatureC"`
	Precipitation float64   `json:"precipitationMm"`
	WindSpeed     float64   `json:"windSpeedKmh"`

	// Providers contributing to this sample.
	Providers []string `json:"providers,omitempty"`
}

// Valid reports whether the sample can be fed to the watering calculator.
func (s Sample) Valid() bool {
	if s.Timestamp.IsZero() {
		return false
	}
	for _, v := range []float64{s.Temperature, s.Precipitation, s.WindSpeed} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Forecast is an ordered (ascending Timestamp) sequence of samples.
type Forecast []Sample
