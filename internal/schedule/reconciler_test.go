package schedule_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/garden"
	"github.com/i474232898/watering-scheduler/internal/locker"
	"github.com/i474232898/watering-scheduler/internal/schedule"
	"github.com/i474232898/watering-scheduler/internal/store"
	"github.com/i474232898/watering-scheduler/internal/watering"
	"github.com/i474232898/watering-scheduler/internal/weather"
)

var (
	testNow   = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	testToday = weather.Day(testNow)
	testLoc   = weather.Location{City: "Lyon", Country: "FR"}
)

func day(offset int) time.Time {
	return testToday.AddDate(0, 0, offset)
}

func noon(offset int, temp, precip, wind float64) weather.Sample {
	return weather.Sample{
		Timestamp:     day(offset).Add(12 * time.Hour),
		Temperature:   temp,
		Precipitation: precip,
		WindSpeed:     wind,
	}
}

type fakeForecast struct {
	samples []weather.Sample
	err     error
}

func (f *fakeForecast) GetForecast(_ context.Context, _ weather.Location, start, end time.Time) ([]weather.Sample, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []weather.Sample
	for _, s := range f.samples {
		if !s.Timestamp.Before(start) && !s.Timestamp.After(end) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return out, nil
}

// missingProfiles hides the care profile of selected plants.
type missingProfiles struct {
	garden.CareProfiles
	missing map[int64]bool
}

func (m missingProfiles) Requirement(ctx context.Context, plantID int64) (watering.Requirement, error) {
	if m.missing[plantID] {
		return watering.Requirement{}, garden.ErrNotFound
	}
	return m.CareProfiles.Requirement(ctx, plantID)
}

type fixture struct {
	ctx       context.Context
	schedules *store.ScheduleStore
	gardens   *store.GardenStore
	forecast  *fakeForecast
	profiles  missingProfiles
	locks     *locker.Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "watering.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	gardens := store.NewGardenStore(db)
	return &fixture{
		ctx:       context.Background(),
		schedules: store.NewScheduleStore(db),
		gardens:   gardens,
		forecast:  &fakeForecast{},
		profiles:  missingProfiles{CareProfiles: gardens, missing: map[int64]bool{}},
		locks:     locker.NewLocal(),
	}
}

func (f *fixture) deps() schedule.Deps {
	return schedule.Deps{
		Store:    f.schedules,
		Gardens:  f.gardens,
		Profiles: f.profiles,
		Forecast: f.forecast,
		Locks:    f.locks,
		Logger:   zap.NewNop().Sugar(),
	}
}

func (f *fixture) reconciler() *schedule.Reconciler {
	return schedule.NewReconciler(f.deps(), testLoc, schedule.WithClock(func() time.Time { return testNow }))
}

func (f *fixture) plant(t *testing.T, name string, req watering.Requirement) garden.Plant {
	t.Helper()
	p, err := f.gardens.CreatePlant(f.ctx, garden.Plant{CommonName: name}, req)
	require.NoError(t, err)
	return p
}

func (f *fixture) grow(t *testing.T, userID int64, p garden.Plant, section string) {
	t.Helper()
	require.NoError(t, f.gardens.AddPlant(f.ctx, garden.Membership{UserID: userID, PlantID: p.ID, Section: section}))
}

func (f *fixture) entry(t *testing.T, userID, plantID int64, date time.Time) schedule.Entry {
	t.Helper()
	e := schedule.Entry{UserID: userID, PlantID: plantID, ScheduledDate: date, WaterNeeded: true}
	require.NoError(t, f.schedules.Create(f.ctx, &e))
	return e
}

func (f *fixture) all(t *testing.T, userID, plantID int64) []schedule.Entry {
	t.Helper()
	entries, err := f.schedules.List(f.ctx, schedule.Filter{UserID: userID, PlantID: plantID})
	require.NoError(t, err)
	return entries
}

var basil = watering.Requirement{FrequencyDays: 3, DepthMM: 20, VolumeUnits: 2.0}

func TestSyncMembership_SeedsWithoutForecast(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "Herbs")

	rep, err := f.reconciler().SyncMembership(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(schedule.StatusCreated))

	entries := f.all(t, 1, p.ID)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.True(t, e.ScheduledDate.Equal(day(3)))
	assert.True(t, e.WaterNeeded)
	assert.False(t, e.WeatherAdjusted)
	assert.False(t, e.Completed)
	require.NotNil(t, e.VolumeNeeded)
	assert.InDelta(t, 2.0, *e.VolumeNeeded, 1e-9)
}

func TestSyncMembership_SeedUsesTodaysForecast(t *testing.T) {
	f := newFixture(t)
	f.forecast.samples = []weather.Sample{noon(0, 32, 0, 5), noon(2, 20, 0, 5)}
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")

	_, err := f.reconciler().SyncMembership(f.ctx, 1)
	require.NoError(t, err)

	entries := f.all(t, 1, p.ID)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ScheduledDate.Equal(day(2)))
	assert.True(t, entries[0].WeatherAdjusted)
	require.NotNil(t, entries[0].VolumeNeeded)
	assert.InDelta(t, 2.0, *entries[0].VolumeNeeded, 1e-9, "volume follows the reading on the scheduled day")
}

func TestSyncMembership_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.grow(t, 1, f.plant(t, "Basil", basil), "A")
	f.grow(t, 1, f.plant(t, "Fern", watering.Requirement{FrequencyDays: 5, VolumeUnits: 1}), "B")
	r := f.reconciler()

	first, err := r.SyncMembership(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Writes())
	before := f.all(t, 1, 0)

	second, err := r.SyncMembership(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Writes())
	assert.Equal(t, before, f.all(t, 1, 0))
}

// A plant removed while it has a pending entry loses that entry; its
// completed history stays.
func TestSyncMembership_RemovedPlantKeepsHistory(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "A")

	doneAt := day(-4).Add(9 * time.Hour)
	done := schedule.Entry{UserID: 1, PlantID: p.ID, ScheduledDate: day(-4), WaterNeeded: true, Completed: true, CompletedAt: &doneAt}
	require.NoError(t, f.schedules.Create(f.ctx, &done))
	pending := f.entry(t, 1, p.ID, day(3))

	require.NoError(t, f.gardens.RemovePlant(f.ctx, 1, p.ID))
	rep, err := f.reconciler().SyncMembership(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(schedule.StatusDeleted))

	_, err = f.schedules.Get(f.ctx, pending.ID)
	assert.ErrorIs(t, err, schedule.ErrNotFound)

	history := f.all(t, 1, p.ID)
	require.Len(t, history, 1)
	assert.Equal(t, done.ID, history[0].ID)
	assert.True(t, history[0].Completed)
}

func TestSyncMembership_SkipsPlantWithoutProfile(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Mystery", basil)
	f.grow(t, 1, p, "")
	f.profiles.missing[p.ID] = true

	rep, err := f.reconciler().SyncMembership(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(schedule.StatusSkipped))
	assert.Empty(t, f.all(t, 1, p.ID))
}

func TestSyncMembership_CollapsesDuplicatePending(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	keep := f.entry(t, 1, p.ID, day(1))
	f.entry(t, 1, p.ID, day(4))

	rep, err := f.reconciler().SyncMembership(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(schedule.StatusDeleted))

	entries := f.all(t, 1, p.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, keep.ID, entries[0].ID)
}

func TestSyncMembership_WeatherFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.forecast.err = errors.New("upstream down")
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")

	_, err := f.reconciler().SyncMembership(f.ctx, 1)
	require.NoError(t, err)

	entries := f.all(t, 1, p.ID)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ScheduledDate.Equal(day(3)))
}

// Completing at D with a 7-day plant and 31 °C forecast at D+7 schedules
// the next watering at D+6.
func TestComplete_HeatBringsSuccessorForward(t *testing.T) {
	f := newFixture(t)
	f.forecast.samples = []weather.Sample{noon(7, 31, 0, 5)}
	p := f.plant(t, "Rose", watering.Requirement{FrequencyDays: 7, VolumeUnits: 2})
	f.grow(t, 1, p, "")
	e := f.entry(t, 1, p.ID, day(0))

	res, err := f.reconciler().Complete(f.ctx, e.ID)
	require.NoError(t, err)

	assert.True(t, res.Completed.Completed)
	require.NotNil(t, res.Completed.CompletedAt)
	assert.True(t, res.Completed.CompletedAt.Equal(testNow))
	require.NotNil(t, res.Completed.NextScheduledDate)
	assert.True(t, res.Completed.NextScheduledDate.Equal(day(6)))

	require.NotNil(t, res.Successor)
	assert.True(t, res.Successor.ScheduledDate.Equal(day(6)))
	assert.True(t, res.Successor.WeatherAdjusted)
	assert.False(t, res.Successor.Completed)
	assert.Equal(t, schedule.StatusCreated, res.Outcome.Status)

	stored, err := f.schedules.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	assert.NotNil(t, stored.CompletedAt)
}

func TestComplete_WithoutForecastUsesDroughtFrequency(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Lavender", watering.Requirement{FrequencyDays: 3, VolumeUnits: 1, DroughtTolerant: true})
	f.grow(t, 1, p, "")
	e := f.entry(t, 1, p.ID, day(0))

	res, err := f.reconciler().Complete(f.ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Successor)
	assert.True(t, res.Successor.ScheduledDate.Equal(day(4)))
	assert.False(t, res.Successor.WeatherAdjusted)
}

func TestComplete_ForecastShifts(t *testing.T) {
	tests := []struct {
		name     string
		sample   weather.Sample
		want     int
		adjusted bool
	}{
		{"rain delays", noon(3, 20, 12, 5), 4, true},
		{"heat and rain cancel", noon(3, 31, 11, 5), 3, true},
		{"thresholds are strict", noon(3, 30, 10, 5), 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.forecast.samples = []weather.Sample{tt.sample}
			p := f.plant(t, "Basil", basil)
			f.grow(t, 1, p, "")
			e := f.entry(t, 1, p.ID, day(0))

			res, err := f.reconciler().Complete(f.ctx, e.ID)
			require.NoError(t, err)
			require.NotNil(t, res.Successor)
			assert.True(t, res.Successor.ScheduledDate.Equal(day(tt.want)), "got %s", res.Successor.ScheduledDate)
			assert.Equal(t, tt.adjusted, res.Successor.WeatherAdjusted)
		})
	}
}

func TestComplete_HeavyRainOnSuccessorDay(t *testing.T) {
	f := newFixture(t)
	// 12 mm at D+3 moves the successor to D+4, where 15 mm means no watering.
	f.forecast.samples = []weather.Sample{noon(3, 20, 12, 5), noon(4, 20, 15, 5)}
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	e := f.entry(t, 1, p.ID, day(0))

	res, err := f.reconciler().Complete(f.ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Successor)
	assert.False(t, res.Successor.WaterNeeded)
}

func TestComplete_Twice(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	e := f.entry(t, 1, p.ID, day(0))
	r := f.reconciler()

	_, err := r.Complete(f.ctx, e.ID)
	require.NoError(t, err)
	_, err = r.Complete(f.ctx, e.ID)
	assert.ErrorIs(t, err, schedule.ErrAlreadyCompleted)
	assert.Len(t, f.all(t, 1, p.ID), 2)
}

func TestComplete_ExistingEntryPreventsSuccessor(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	e := f.entry(t, 1, p.ID, day(0))
	other := f.entry(t, 1, p.ID, day(3))

	res, err := f.reconciler().Complete(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Successor)
	assert.Equal(t, schedule.StatusUnchanged, res.Outcome.Status)
	assert.Equal(t, other.ID, res.Outcome.EntryID)
	assert.Len(t, f.all(t, 1, p.ID), 2)
}

func TestComplete_EarlyKeepsPlantScheduled(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	// Watered three days early: the successor falls on the completed entry's day.
	e := f.entry(t, 1, p.ID, day(3))
	r := f.reconciler()

	res, err := r.Complete(f.ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Successor)
	assert.Equal(t, schedule.StatusCreated, res.Outcome.Status)
	assert.True(t, res.Successor.ScheduledDate.Equal(day(3)))

	rep, err := r.SyncMembership(f.ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, rep.Writes())

	pending, err := f.schedules.List(f.ctx, schedule.Filter{UserID: 1, PlantID: p.ID, PendingOnly: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.Successor.ID, pending[0].ID)
	assert.Len(t, f.all(t, 1, p.ID), 2)
}

func TestSyncMembership_CompletedHistoryDoesNotBlockSeed(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")

	done := testNow.Add(-time.Hour)
	history := schedule.Entry{UserID: 1, PlantID: p.ID, ScheduledDate: day(3), Completed: true, CompletedAt: &done}
	require.NoError(t, f.schedules.Create(f.ctx, &history))

	rep, err := f.reconciler().SyncMembership(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(schedule.StatusCreated))

	pending, err := f.schedules.List(f.ctx, schedule.Filter{UserID: 1, PlantID: p.ID, PendingOnly: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].ScheduledDate.Equal(day(3)))
}

func TestComplete_Concurrent(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	e := f.entry(t, 1, p.ID, day(0))
	r := f.reconciler()

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Complete(f.ctx, e.ID)
		}(i)
	}
	wg.Wait()

	ok, already := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, schedule.ErrAlreadyCompleted):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)

	pending, err := f.schedules.List(f.ctx, schedule.Filter{UserID: 1, PlantID: p.ID, PendingOnly: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].ScheduledDate.Equal(day(3)))
}

func TestSyncMembership_Concurrent(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	q := f.plant(t, "Mint", watering.Requirement{FrequencyDays: 1, VolumeUnits: 1})
	f.grow(t, 1, p, "")
	f.grow(t, 1, q, "")
	r := f.reconciler()

	const callers = 8
	reports := make([]schedule.Report, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rep, err := r.SyncMembership(f.ctx, 1)
			assert.NoError(t, err)
			reports[i] = rep
		}(i)
	}
	wg.Wait()

	created := 0
	for _, rep := range reports {
		created += rep.Count(schedule.StatusCreated)
		assert.Zero(t, rep.Count(schedule.StatusUnchanged), "losers must see the seed, not collide with it")
	}
	assert.Equal(t, 2, created)

	pending, err := f.schedules.List(f.ctx, schedule.Filter{UserID: 1, PendingOnly: true})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestComplete_UnknownEntry(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler().Complete(f.ctx, "missing")
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestReadjust_ShiftsOnce(t *testing.T) {
	f := newFixture(t)
	f.forecast.samples = []weather.Sample{noon(2, 31, 0, 5), noon(1, 31, 0, 5)}
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	e := f.entry(t, 1, p.ID, day(2))
	r := f.reconciler()

	rep, err := r.Readjust(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(schedule.StatusShifted))

	moved, err := f.schedules.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, moved.ScheduledDate.Equal(day(1)))
	assert.True(t, moved.WeatherAdjusted)
	require.NotNil(t, moved.VolumeNeeded)
	assert.InDelta(t, 3.0, *moved.VolumeNeeded, 1e-9)

	rep, err = r.Readjust(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Writes())
}

func TestReadjust_IgnoresTodayAndPast(t *testing.T) {
	f := newFixture(t)
	f.forecast.samples = []weather.Sample{noon(0, 35, 0, 5)}
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	e := f.entry(t, 1, p.ID, day(0))

	rep, err := f.reconciler().Readjust(f.ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, rep.Outcomes)

	got, err := f.schedules.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledDate.Equal(day(0)))
}

func TestReadjust_SkipsCollision(t *testing.T) {
	f := newFixture(t)
	f.forecast.samples = []weather.Sample{noon(3, 20, 15, 5)}
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	e := f.entry(t, 1, p.ID, day(3))
	f.entry(t, 1, p.ID, day(4))

	rep, err := f.reconciler().Readjust(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(schedule.StatusSkipped))

	got, err := f.schedules.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledDate.Equal(day(3)))
	assert.False(t, got.WeatherAdjusted)
}

func TestRollOverdue_MovesToToday(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	e := schedule.Entry{UserID: 1, PlantID: p.ID, ScheduledDate: day(-2)}
	require.NoError(t, f.schedules.Create(f.ctx, &e))

	rep, err := f.reconciler().RollOverdue(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(schedule.StatusShifted))

	got, err := f.schedules.Get(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledDate.Equal(day(0)))
	assert.True(t, got.WaterNeeded)
}

func TestRollOverdue_MergesIntoTodaysEntry(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	overdue := f.entry(t, 1, p.ID, day(-1))
	todays := schedule.Entry{UserID: 1, PlantID: p.ID, ScheduledDate: day(0)}
	require.NoError(t, f.schedules.Create(f.ctx, &todays))

	rep, err := f.reconciler().RollOverdue(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(schedule.StatusDeleted))

	_, err = f.schedules.Get(f.ctx, overdue.ID)
	assert.ErrorIs(t, err, schedule.ErrNotFound)
	got, err := f.schedules.Get(f.ctx, todays.ID)
	require.NoError(t, err)
	assert.True(t, got.WaterNeeded)
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t)
	p := f.plant(t, "Basil", basil)
	f.grow(t, 1, p, "")
	f.grow(t, 2, p, "")
	// User 3 left the garden but still has a stale pending entry.
	stale := f.entry(t, 3, p.ID, day(1))

	rep, err := f.reconciler().ReconcileAll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Count(schedule.StatusCreated))
	assert.Equal(t, 1, rep.Count(schedule.StatusDeleted))
	assert.Zero(t, rep.Count(schedule.StatusFailed))

	_, err = f.schedules.Get(f.ctx, stale.ID)
	assert.ErrorIs(t, err, schedule.ErrNotFound)
	assert.Len(t, f.all(t, 1, p.ID), 1)
	assert.Len(t, f.all(t, 2, p.ID), 1)

	again, err := f.reconciler().ReconcileAll(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Writes())
}

func TestReconcileAll_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.grow(t, 1, f.plant(t, "Basil", basil), "")

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err := f.reconciler().ReconcileAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
