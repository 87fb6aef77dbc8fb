package watering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/i474232898/watering-scheduler/internal/weather"
)

func sample(temp, precip, wind float64) weather.Sample {
	return weather.Sample{
		Timestamp:     time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		Temperature:   temp,
		Precipitation: precip,
		WindSpeed:     wind,
	}
}

var baseReq = Requirement{PlantID: 1, FrequencyDays: 7, VolumeUnits: 2.0}

func TestCalculateAdjustment_VeryHighTemperature(t *testing.T) {
	d := CalculateAdjustment(baseReq, sample(32, 0, 5))

	assert.False(t, d.SkipWatering)
	assert.Equal(t, -1.0, d.FrequencyAdjustment)
	assert.InDelta(t, 1.5, d.VolumeMultiplier, 1e-9)
	assert.Equal(t, []string{ReasonVeryHighTemp}, d.Reasons)
}

func TestCalculateAdjustment_HeavyRainSkips(t *testing.T) {
	d := CalculateAdjustment(baseReq, sample(20, 12, 5))

	assert.True(t, d.SkipWatering)
	assert.Equal(t, []string{ReasonHeavyRain}, d.Reasons)
}

func TestCalculateAdjustment_DroughtTolerant(t *testing.T) {
	req := baseReq
	req.DroughtTolerant = true

	d := CalculateAdjustment(req, sample(20, 0, 5))

	assert.False(t, d.SkipWatering)
	assert.Equal(t, 1.0, d.FrequencyAdjustment)
	assert.InDelta(t, 0.75, d.VolumeMultiplier, 1e-9)
	assert.Equal(t, []string{ReasonDroughtTolerant}, d.Reasons)
}

func TestCalculateAdjustment_HeavyRainAlwaysSkips(t *testing.T) {
	for _, temp := range []float64{-5, 10, 26, 35} {
		for _, wind := range []float64{0, 21, 40} {
			d := CalculateAdjustment(baseReq, sample(temp, 12, wind))
			assert.True(t, d.SkipWatering, "temp=%v wind=%v", temp, wind)
		}
	}
}

func TestCalculateAdjustment_RainTiers(t *testing.T) {
	tests := []struct {
		precip     float64
		multiplier float64
		reasons    []string
	}{
		{precip: 0, multiplier: 1.0, reasons: []string{}},
		{precip: 1.99, multiplier: 1.0, reasons: []string{}},
		{precip: 2, multiplier: 0.75, reasons: []string{ReasonLightRain}},
		{precip: 5, multiplier: 0.5, reasons: []string{ReasonModerateRain}},
		{precip: 9.99, multiplier: 0.5, reasons: []string{ReasonModerateRain}},
	}

	for _, tt := range tests {
		d := CalculateAdjustment(baseReq, sample(15, tt.precip, 0))
		assert.False(t, d.SkipWatering)
		assert.InDelta(t, tt.multiplier, d.VolumeMultiplier, 1e-9, "precip=%v", tt.precip)
		assert.Equal(t, tt.reasons, d.Reasons, "precip=%v", tt.precip)
	}
}

func TestCalculateAdjustment_EffectsStack(t *testing.T) {
	req := baseReq
	req.DroughtTolerant = true

	d := CalculateAdjustment(req, sample(26, 3, 31))

	assert.False(t, d.SkipWatering)
	// -0.5 (heat) -1 (wind) +1 (drought)
	assert.InDelta(t, -0.5, d.FrequencyAdjustment, 1e-9)
	assert.InDelta(t, 0.75*1.25*1.5*0.75, d.VolumeMultiplier, 1e-9)
	assert.Equal(t, []string{ReasonLightRain, ReasonHighTemp, ReasonVeryHighWinds, ReasonDroughtTolerant}, d.Reasons)
}

func TestCalculateAdjustment_SkipKeepsOtherFields(t *testing.T) {
	d := CalculateAdjustment(baseReq, sample(31, 15, 22))

	assert.True(t, d.SkipWatering)
	assert.InDelta(t, -1.5, d.FrequencyAdjustment, 1e-9)
	assert.InDelta(t, 1.5*1.25, d.VolumeMultiplier, 1e-9)
}

func TestRequirement_DroughtAdjustedFrequency(t *testing.T) {
	assert.Equal(t, 7, baseReq.DroughtAdjustedFrequency())

	req := baseReq
	req.DroughtTolerant = true
	assert.Equal(t, 8, req.DroughtAdjustedFrequency())
}
