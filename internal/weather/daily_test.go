package weather

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day, hour int, temp float64) Sample {
	return Sample{Timestamp: time.Date(2025, 6, day, hour, 0, 0, 0, time.UTC), Temperature: temp}
}

func TestDailySamplesPicksNearestNoon(t *testing.T) {
	samples := []Sample{
		at(10, 9, 15),
		at(10, 12, 25),
		at(10, 15, 27),
		// no exact noon on the 11th; 11:00 and 13:00 tie
		at(11, 13, 30),
		at(11, 11, 28),
		at(12, 23, 12),
	}

	daily := DailySamples(samples)
	require.Len(t, daily, 3)
	assert.Equal(t, 25.0, daily["2025-06-10"].Temperature)
	assert.Equal(t, 28.0, daily["2025-06-11"].Temperature)
	assert.Equal(t, 12.0, daily["2025-06-12"].Temperature)
}

func TestDailySamplesSkipsInvalid(t *testing.T) {
	bad := at(10, 12, math.NaN())
	good := at(10, 8, 18)

	daily := DailySamples([]Sample{bad, good, {}})
	require.Len(t, daily, 1)
	assert.Equal(t, 18.0, daily["2025-06-10"].Temperature)
}

func TestNearestNoon(t *testing.T) {
	samples := []Sample{at(10, 12, 21), at(11, 12, 23)}

	s, ok := NearestNoon(samples, time.Date(2025, 6, 11, 22, 30, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 23.0, s.Temperature)

	_, ok = NearestNoon(samples, time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestDay(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	got := Day(time.Date(2025, 6, 11, 3, 0, 0, 0, tokyo))
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), got)
}

func TestSampleValid(t *testing.T) {
	assert.True(t, at(10, 12, 20).Valid())
	assert.False(t, Sample{Temperature: 20}.Valid())
	s := at(10, 12, 20)
	s.WindSpeed = math.Inf(1)
	assert.False(t, s.Valid())
}
