// Package watering turns a plant's baseline watering needs and a weather
// reading into concrete watering decisions.
package watering

import "github.com/i474232898/watering-scheduler/internal/weather"

// Thresholds applied by CalculateAdjustment.
const (
	// Temperature thresholds (°C)
	TempHigh     = 25.0
	TempVeryHigh = 30.0

	// Wind speed thresholds (km/h)
	WindHigh     = 20.0
	WindVeryHigh = 30.0

	// Precipitation thresholds (mm)
	RainLight    = 2.0
	RainModerate = 5.0
	RainHeavy    = 10.0
)

// Adjustment reasons, in the order they can appear.
const (
	ReasonHeavyRain       = "heavy rain expected"
	ReasonModerateRain    = "moderate rain expected"
	ReasonLightRain       = "light rain expected"
	ReasonVeryHighTemp    = "very high temperature"
	ReasonHighTemp        = "high temperature"
	ReasonVeryHighWinds   = "very high winds"
	ReasonHighWinds       = "high winds"
	ReasonDroughtTolerant = "drought tolerant plant"
	ReasonNoForecast      = "no weather forecast available"
)

// Requirement is a plant's baseline watering need, read from its care profile.
type Requirement struct {
	PlantID         int64   `json:"plantId"`
	FrequencyDays   int     `json:"frequencyDays" validate:"gt=0"`
	DepthMM         int     `json:"depthMm" validate:"gte=0"`
	VolumeUnits     float64 `json:"volumeUnits" validate:"gt=0"`
	DroughtTolerant bool    `json:"droughtTolerant"`
}

// DroughtAdjustedFrequency is the baseline interval with the drought-tolerance
// extension applied.
func (r Requirement) DroughtAdjustedFrequency() int {
	if r.DroughtTolerant {
		return r.FrequencyDays + 1
	}
	return r.FrequencyDays
}

// Decision is the effect of one weather reading on one plant's watering.
// SkipWatering wins over the other fields: a skipped day has no watering event.
type Decision struct {
	SkipWatering        bool     `json:"skipWatering"`
	FrequencyAdjustment float64  `json:"frequencyAdjustment"`
	VolumeMultiplier    float64  `json:"volumeMultiplier"`
	Reasons             []string `json:"reasons"`
}

// NoAdjustment is the decision used when no forecast is available.
func NoAdjustment() Decision {
	return Decision{
		VolumeMultiplier: 1.0,
		Reasons:          []string{ReasonNoForecast},
	}
}

// CalculateAdjustment maps a requirement and a single reading to a Decision.
// Precipitation applies its highest matching tier only; temperature, wind and
// drought tolerance stack on top. The sample must be Valid.
func CalculateAdjustment(req Requirement, sample weather.Sample) Decision {
	d := Decision{VolumeMultiplier: 1.0, Reasons: []string{}}

	switch {
	case sample.Precipitation >= RainHeavy:
		d.SkipWatering = true
		d.Reasons = append(d.Reasons, ReasonHeavyRain)
	case sample.Precipitation >= RainModerate:
		d.VolumeMultiplier *= 0.5
		d.Reasons = append(d.Reasons, ReasonModerateRain)
	case sample.Precipitation >= RainLight:
		d.VolumeMultiplier *= 0.75
		d.Reasons = append(d.Reasons, ReasonLightRain)
	}

	switch {
	case sample.Temperature >= TempVeryHigh:
		d.FrequencyAdjustment -= 1
		d.VolumeMultiplier *= 1.5
		d.Reasons = append(d.Reasons, ReasonVeryHighTemp)
	case sample.Temperature >= TempHigh:
		d.FrequencyAdjustment -= 0.5
		d.VolumeMultiplier *= 1.25
		d.Reasons = append(d.Reasons, ReasonHighTemp)
	}

	switch {
	case sample.WindSpeed >= WindVeryHigh:
		d.FrequencyAdjustment -= 1
		d.VolumeMultiplier *= 1.5
		d.Reasons = append(d.Reasons, ReasonVeryHighWinds)
	case sample.WindSpeed >= WindHigh:
		d.FrequencyAdjustment -= 0.5
		d.VolumeMultiplier *= 1.25
		d.Reasons = append(d.Reasons, ReasonHighWinds)
	}

	if req.DroughtTolerant {
		d.FrequencyAdjustment += 1
		d.VolumeMultiplier *= 0.75
		d.Reasons = append(d.Reasons, ReasonDroughtTolerant)
	}

	return d
}
