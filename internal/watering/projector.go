package watering

import (
	"math"
	"time"

	"github.com/i474232898/watering-scheduler/internal/weather"
)

// DefaultHorizonDays is the forecast horizon used for projections.
const DefaultHorizonDays = 7

// DayPlan is the projected watering plan for one calendar day.
type DayPlan struct {
	Date                time.Time       `json:"date"`
	Skip                bool            `json:"skipWatering"`
	AdjustedVolume      float64         `json:"adjustedVolume"`
	OriginalVolume      float64         `json:"originalVolume"`
	FrequencyAdjustment float64         `json:"frequencyAdjustment"`
	Reasons             []string        `json:"reasons"`
	Weather             *weather.Sample `json:"weather,omitempty"`
}

// HasForecast reports whether the plan was computed from a real reading.
func (p DayPlan) HasForecast() bool {
	return p.Weather != nil
}

// AdjustedFrequency is the watering interval implied by the plan: the raw
// frequency when no forecast was available, otherwise frequency plus the
// decision's adjustment rounded down (watering earlier is the safe side),
// never below one day.
func (p DayPlan) AdjustedFrequency(req Requirement) int {
	if !p.HasForecast() {
		return req.FrequencyDays
	}
	f := int(math.Floor(float64(req.FrequencyDays) + p.FrequencyAdjustment))
	if f < 1 {
		return 1
	}
	return f
}

// Project plans horizonDays consecutive days starting at start's calendar day.
// Each day uses the sample nearest solar noon on that date; a day without any
// sample falls back to NoAdjustment instead of failing.
func Project(req Requirement, samples []weather.Sample, horizonDays int, start time.Time) []DayPlan {
	if horizonDays <= 0 {
		return nil
	}

	daily := weather.DailySamples(samples)
	first := weather.Day(start)

	plans := make([]DayPlan, 0, horizonDays)
	for i := 0; i < horizonDays; i++ {
		date := first.AddDate(0, 0, i)

		plan := DayPlan{
			Date:           date,
			OriginalVolume: req.VolumeUnits,
		}

		sample, ok := daily[date.Format(weather.DateLayout)]
		var d Decision
		if ok {
			d = CalculateAdjustment(req, sample)
			s := sample
			plan.Weather = &s
		} else {
			d = NoAdjustment()
		}

		plan.Skip = d.SkipWatering
		plan.AdjustedVolume = req.VolumeUnits * d.VolumeMultiplier
		plan.FrequencyAdjustment = d.FrequencyAdjustment
		plan.Reasons = d.Reasons
		plans = append(plans, plan)
	}
	return plans
}

// PlanFor returns the plan for date's calendar day, if it lies within plans.
func PlanFor(plans []DayPlan, date time.Time) (DayPlan, bool) {
	day := weather.Day(date)
	for _, p := range plans {
		if p.Date.Equal(day) {
			return p, true
		}
	}
	return DayPlan{}, false
}
