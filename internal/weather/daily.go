package weather

import "time"

// DateLayout is the canonical calendar-day key format.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DailySamples picks, for every calendar day present in samples, the reading
// nearest solar noon. Distance is measured in whole hours from 12:00; ties go
// to the earliest timestamp. Invalid samples are ignored.
func DailySamples(samples []Sample) map[string]Sample {
	out := make(map[string]Sample)
	for _, s := range samples {
		if !s.Valid() {
			continue
		}
		key := s.Timestamp.UTC().Format(DateLayout)
		cur, ok := out[key]
		if !ok || closerToNoon(s, cur) {
			out[key] = s
		}
	}
	return out
}

// NearestNoon returns the noon-nearest sample for date's calendar day.
func NearestNoon(samples []Sample, date time.Time) (Sample, bool) {
	s, ok := DailySamples(samples)[Day(date).Format(DateLayout)]
	return s, ok
}

func closerToNoon(a, b Sample) bool {
	da, db := noonDistance(a.Timestamp), noonDistance(b.Timestamp)
	if da != db {
		return da < db
	}
	return a.Timestamp.Before(b.Timestamp)
}

func noonDistance(t time.Time) int {
	d := t.UTC().Hour() - 12
	if d < 0 {
		return -d
	}
	return d
}
