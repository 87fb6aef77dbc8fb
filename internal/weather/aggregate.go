package weather

import (
	"sort"
	"time"
)

// AggregateReadings combines readings from multiple providers into one Sample
// per hour. Numeric fields are averaged across providers reporting that hour.
// The result is ordered by Timestamp ascending.
func AggregateReadings(readings []ProviderReading) []Sample {
	if len(readings) == 0 {
		return nil
	}

	type bucket struct {
		sumTemp   float64
		sumPrecip float64
		sumWind   float64
		n         int
		providers []string
	}

	buckets := make(map[time.Time]*bucket)
	for _, r := range readings {
		if r.Timestamp.IsZero() {
			continue
		}
		hour := r.Timestamp.UTC().Truncate(time.Hour)
		b, ok := buckets[hour]
		if !ok {
			b = &bucket{}
			buckets[hour] = b
		}
		b.sumTemp += r.TemperatureC
		b.sumPrecip += r.PrecipMm
		b.sumWind += r.WindSpeedKmh
		b.n++
		b.providers = append(b.providers, r.ProviderName)
	}

	samples := make([]Sample, 0, len(buckets))
	for hour, b := range buckets {
		n := float64(b.n)
		samples = append(samples, Sample{
			Timestamp:     hour,
			Temperature:   b.sumTemp / n,
			Precipitation: b.sumPrecip / n,
			WindSpeed:     b.sumWind / n,
			Providers:     b.providers,
		})
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples
}
