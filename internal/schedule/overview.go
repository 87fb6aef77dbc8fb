package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/garden"
	"github.com/i474232898/watering-scheduler/internal/watering"
	"github.com/i474232898/watering-scheduler/internal/weather"
)

// DefaultWindowDays is the number of days an overview covers.
const DefaultWindowDays = 21

// Need tiers, derived from a plant's watering frequency.
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

var tierOrder = []string{TierHigh, TierMedium, TierLow}

// Weather icons attached to overview days.
const (
	IconRain  = "rain"
	IconHot   = "hot"
	IconWindy = "windy"
)

// Icon thresholds.
const (
	iconRainFrom  = 5.0
	iconHotFrom   = 25.0
	iconWindyFrom = 20.0
)

// NeedTier maps a watering frequency to its tier.
func NeedTier(frequencyDays int) string {
	switch {
	case frequencyDays <= 2:
		return TierHigh
	case frequencyDays <= 4:
		return TierMedium
	default:
		return TierLow
	}
}

// DayWeather is the representative reading of an overview day.
type DayWeather struct {
	Temperature   float64  `json:"temperature"`
	Precipitation float64  `json:"precipitation"`
	WindSpeed     float64  `json:"windSpeed"`
	Icons         []string `json:"icons"`
}

func dayWeather(s weather.Sample) *DayWeather {
	w := &DayWeather{
		Temperature:   s.Temperature,
		Precipitation: s.Precipitation,
		WindSpeed:     s.WindSpeed,
		Icons:         []string{},
	}
	if s.Precipitation >= iconRainFrom {
		w.Icons = append(w.Icons, IconRain)
	}
	if s.Temperature >= iconHotFrom {
		w.Icons = append(w.Icons, IconHot)
	}
	if s.WindSpeed >= iconWindyFrom {
		w.Icons = append(w.Icons, IconWindy)
	}
	return w
}

// PlantView is one plant's watering on an overview day.
type PlantView struct {
	EntryID         string     `json:"entryId"`
	PlantID         int64      `json:"plantId"`
	Name            string     `json:"name"`
	ImageURL        string     `json:"imageUrl,omitempty"`
	Watering        string     `json:"watering,omitempty"`
	Watered         bool       `json:"watered"`
	WaterNeeded     bool       `json:"waterNeeded"`
	WeatherAdjusted bool       `json:"weatherAdjusted"`
	Reasons         []string   `json:"reasons"`
	AdjustedVolume  float64    `json:"adjustedVolume"`
	LastWatered     *time.Time `json:"lastWatered,omitempty"`
}

// TierGroup lists the plants of one need tier.
type TierGroup struct {
	Tier        string      `json:"tier"`
	Plants      []PlantView `json:"plants"`
	TotalVolume float64     `json:"totalVolume"`
}

// SectionOverview is a garden section on one day.
type SectionOverview struct {
	Name  string      `json:"name"`
	Tiers []TierGroup `json:"tiers"`
}

// DayOverview is one calendar day of the overview.
type DayOverview struct {
	Date     time.Time         `json:"date"`
	Weather  *DayWeather       `json:"weather,omitempty"`
	Sections []SectionOverview `json:"sections"`
}

// OverviewBuilder assembles the read-only calendar view of a user's schedule.
// It never writes and never takes the user lock.
type OverviewBuilder struct {
	store    Store
	gardens  garden.Directory
	profiles garden.CareProfiles
	forecast ForecastSource
	logger   *zap.SugaredLogger

	location weather.Location
	settings
}

// NewOverviewBuilder builds overviews for gardens located at loc.
func NewOverviewBuilder(deps Deps, loc weather.Location, opts ...Option) *OverviewBuilder {
	return &OverviewBuilder{
		store:    deps.Store,
		gardens:  deps.Gardens,
		profiles: deps.Profiles,
		forecast: deps.Forecast,
		logger:   deps.Logger,
		location: loc,
		settings: newSettings(opts),
	}
}

type dayItem struct {
	entry   Entry
	section string
	plant   garden.Plant
	req     watering.Requirement
}

// Build returns one DayOverview per day in [today, today+windowDays).
// windowDays <= 0 means DefaultWindowDays.
func (b *OverviewBuilder) Build(ctx context.Context, userID int64, windowDays int) ([]DayOverview, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	today := weather.Day(b.now())
	end := today.AddDate(0, 0, windowDays)

	scheduled, err := b.store.List(ctx, Filter{UserID: userID, From: &today, To: datePtr(end.AddDate(0, 0, -1))})
	if err != nil {
		return nil, fmt.Errorf("list schedule of user %d: %w", userID, err)
	}
	completed, err := b.store.CompletedBetween(ctx, userID, today, end)
	if err != nil {
		return nil, fmt.Errorf("list completed waterings of user %d: %w", userID, err)
	}
	lastWatered, err := b.store.LatestCompleted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("last waterings of user %d: %w", userID, err)
	}

	members, err := b.gardens.ActivePlants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list garden of user %d: %w", userID, err)
	}
	sections := make(map[int64]string, len(members))
	for _, m := range members {
		sections[m.PlantID] = m.SectionOrDefault()
	}

	plantIDs := make([]int64, 0)
	seenPlant := make(map[int64]bool)
	for _, e := range append(append([]Entry{}, scheduled...), completed...) {
		if !seenPlant[e.PlantID] {
			seenPlant[e.PlantID] = true
			plantIDs = append(plantIDs, e.PlantID)
		}
	}
	plants, err := b.gardens.Plants(ctx, plantIDs)
	if err != nil {
		return nil, fmt.Errorf("load plants: %w", err)
	}
	reqs := make(map[int64]watering.Requirement, len(plantIDs))
	for _, id := range plantIDs {
		req, err := b.profiles.Requirement(ctx, id)
		if err != nil {
			b.logger.Warnw("plant without care profile left out of overview", "user_id", userID, "plant_id", id, "error", err)
			continue
		}
		reqs[id] = req
	}

	byDay := make(map[string][]dayItem)
	seen := make(map[string]bool)
	addItem := func(date time.Time, e Entry) {
		key := date.Format(weather.DateLayout)
		if seen[key+"/"+e.ID] {
			return
		}
		plant, ok := plants[e.PlantID]
		if !ok {
			return
		}
		req, ok := reqs[e.PlantID]
		if !ok {
			return
		}
		seen[key+"/"+e.ID] = true
		section, ok := sections[e.PlantID]
		if !ok {
			section = garden.UnassignedSection
		}
		byDay[key] = append(byDay[key], dayItem{entry: e, section: section, plant: plant, req: req})
	}
	for _, e := range scheduled {
		// Completed entries are shown on the day they were watered.
		if e.Completed {
			continue
		}
		addItem(e.ScheduledDate, e)
	}
	for _, e := range completed {
		addItem(weather.Day(*e.CompletedAt), e)
	}

	var samples []weather.Sample
	if b.forecast != nil {
		samples, err = b.forecast.GetForecast(ctx, b.location, today, today.AddDate(0, 0, b.horizonDays).Add(-time.Nanosecond))
		if err != nil {
			b.logger.Debugw("overview without forecast", "location", b.location.Key(), "error", err)
			samples = nil
		}
	}
	daily := weather.DailySamples(samples)
	horizonEnd := today.AddDate(0, 0, b.horizonDays)

	days := make([]DayOverview, 0, windowDays)
	for i := 0; i < windowDays; i++ {
		date := today.AddDate(0, 0, i)
		key := date.Format(weather.DateLayout)

		day := DayOverview{Date: date, Sections: []SectionOverview{}}
		sample, hasSample := daily[key]
		hasSample = hasSample && date.Before(horizonEnd)
		if hasSample {
			day.Weather = dayWeather(sample)
		}

		day.Sections = buildSections(byDay[key], func(it dayItem) PlantView {
			v := PlantView{
				EntryID:         it.entry.ID,
				PlantID:         it.plant.ID,
				Name:            it.plant.CommonName,
				ImageURL:        it.plant.ImageURL,
				Watering:        it.plant.Watering,
				Watered:         it.entry.Completed,
				WaterNeeded:     it.entry.WaterNeeded,
				WeatherAdjusted: it.entry.WeatherAdjusted,
				Reasons:         []string{},
				AdjustedVolume:  it.req.VolumeUnits,
			}
			if it.entry.VolumeNeeded != nil {
				v.AdjustedVolume = *it.entry.VolumeNeeded
			}
			if hasSample {
				d := watering.CalculateAdjustment(it.req, sample)
				v.Reasons = d.Reasons
				v.AdjustedVolume = it.req.VolumeUnits * d.VolumeMultiplier
			}
			if last, ok := lastWatered[it.plant.ID]; ok {
				v.LastWatered = last.CompletedAt
			}
			return v
		})
		days = append(days, day)
	}
	return days, nil
}

func buildSections(items []dayItem, view func(dayItem) PlantView) []SectionOverview {
	grouped := make(map[string]map[string][]PlantView)
	for _, it := range items {
		tiers, ok := grouped[it.section]
		if !ok {
			tiers = make(map[string][]PlantView)
			grouped[it.section] = tiers
		}
		tier := NeedTier(it.req.FrequencyDays)
		tiers[tier] = append(tiers[tier], view(it))
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	sections := make([]SectionOverview, 0, len(names))
	for _, name := range names {
		sec := SectionOverview{Name: name, Tiers: []TierGroup{}}
		for _, tier := range tierOrder {
			plants := grouped[name][tier]
			if len(plants) == 0 {
				continue
			}
			sort.SliceStable(plants, func(i, j int) bool { return plants[i].PlantID < plants[j].PlantID })
			g := TierGroup{Tier: tier, Plants: plants}
			for _, p := range plants {
				g.TotalVolume += p.AdjustedVolume
			}
			sec.Tiers = append(sec.Tiers, g)
		}
		sections = append(sections, sec)
	}
	return sections
}
