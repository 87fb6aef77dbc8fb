package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/garden"
	"github.com/i474232898/watering-scheduler/internal/locker"
	"github.com/i474232898/watering-scheduler/internal/metrics"
	"github.com/i474232898/watering-scheduler/internal/watering"
	"github.com/i474232898/watering-scheduler/internal/weather"
)

// Forecast-driven date shifts. Both checks are strict and may apply together.
const (
	ShiftHeatAbove = 30.0 // °C, watering moves one day earlier
	ShiftRainAbove = 10.0 // mm, watering moves one day later
)

// Deps are the collaborators a Reconciler needs.
type Deps struct {
	Store    Store
	Gardens  garden.Directory
	Profiles garden.CareProfiles
	Forecast ForecastSource
	Locks    locker.Locker
	Logger   *zap.SugaredLogger
}

// Reconciler keeps a user's schedule entries consistent with their garden,
// the forecast and completed waterings. Every mutating operation holds the
// user's lock for its whole read-check-write sequence.
type Reconciler struct {
	store    Store
	gardens  garden.Directory
	profiles garden.CareProfiles
	forecast ForecastSource
	locks    locker.Locker
	logger   *zap.SugaredLogger

	location weather.Location
	settings
}

type settings struct {
	horizonDays int
	now         func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{horizonDays: watering.DefaultHorizonDays, now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option customises a Reconciler or OverviewBuilder.
type Option func(*settings)

// WithHorizonDays sets the forecast horizon in days.
func WithHorizonDays(days int) Option {
	return func(s *settings) {
		if days > 0 {
			s.horizonDays = days
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// NewReconciler builds a Reconciler for gardens located at loc.
func NewReconciler(deps Deps, loc weather.Location, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    deps.Store,
		gardens:  deps.Gardens,
		profiles: deps.Profiles,
		forecast: deps.Forecast,
		locks:    deps.Locks,
		logger:   deps.Logger,
		location: loc,
		settings: newSettings(opts),
	}
	if r.locks == nil {
		r.locks = locker.NewLocal()
	}
	return r
}

func userKey(userID int64) string {
	return "schedule:user:" + strconv.FormatInt(userID, 10)
}

func (r *Reconciler) today() time.Time {
	return weather.Day(r.now())
}

// withUser runs fn while holding userID's lock and records its duration.
func (r *Reconciler) withUser(ctx context.Context, op string, userID int64, fn func() error) error {
	release, err := r.locks.Lock(ctx, userKey(userID))
	if err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	defer release()

	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()
	return fn()
}

// loadForecast returns samples covering [from, to) or nil when the forecast is
// unavailable. Failures never reach the caller.
func (r *Reconciler) loadForecast(ctx context.Context, from, to time.Time) []weather.Sample {
	if r.forecast == nil {
		return nil
	}
	samples, err := r.forecast.GetForecast(ctx, r.location, from, to.Add(-time.Nanosecond))
	if err != nil {
		r.logger.Debugw("forecast unavailable, using defaults", "location", r.location.Key(), "error", err)
		return nil
	}
	return samples
}

// forecastShift returns the day shift for date and whether any shift rule fired.
func forecastShift(samples []weather.Sample, date time.Time) (int, bool) {
	s, ok := weather.NearestNoon(samples, date)
	if !ok {
		return 0, false
	}
	shift, fired := 0, false
	if s.Temperature > ShiftHeatAbove {
		shift--
		fired = true
	}
	if s.Precipitation > ShiftRainAbove {
		shift++
		fired = true
	}
	return shift, fired
}

// applyForecast sets volume and water-needed from the reading on e's date.
// Without a reading the base volume is kept.
func applyForecast(e *Entry, req watering.Requirement, samples []weather.Sample) {
	volume := req.VolumeUnits
	e.WaterNeeded = true
	if s, ok := weather.NearestNoon(samples, e.ScheduledDate); ok {
		d := watering.CalculateAdjustment(req, s)
		volume = req.VolumeUnits * d.VolumeMultiplier
		e.WaterNeeded = !d.SkipWatering
	}
	e.VolumeNeeded = &volume
}

func datePtr(t time.Time) *time.Time {
	return &t
}

// SyncMembership creates a seed entry for every garden plant without a pending
// entry and deletes pending entries of plants no longer in the garden.
// Completed entries are history and never touched. Running it twice without a
// garden change performs no writes.
func (r *Reconciler) SyncMembership(ctx context.Context, userID int64) (Report, error) {
	var rep Report
	err := r.withUser(ctx, OpSync, userID, func() error {
		var err error
		rep, err = r.syncMembership(ctx, userID)
		return err
	})
	return rep, err
}

func (r *Reconciler) syncMembership(ctx context.Context, userID int64) (Report, error) {
	var rep Report

	members, err := r.gardens.ActivePlants(ctx, userID)
	if err != nil {
		return rep, fmt.Errorf("list garden of user %d: %w", userID, err)
	}
	pending, err := r.store.List(ctx, Filter{UserID: userID, PendingOnly: true})
	if err != nil {
		return rep, fmt.Errorf("list pending entries of user %d: %w", userID, err)
	}

	pendingByPlant := make(map[int64][]Entry)
	for _, e := range pending {
		pendingByPlant[e.PlantID] = append(pendingByPlant[e.PlantID], e)
	}

	inGarden := make(map[int64]bool, len(members))
	sort.Slice(members, func(i, j int) bool { return members[i].PlantID < members[j].PlantID })

	var samples []weather.Sample
	samplesLoaded := false

	for _, m := range members {
		inGarden[m.PlantID] = true

		if entries, ok := pendingByPlant[m.PlantID]; ok {
			r.dropDuplicatePending(ctx, &rep, entries)
			continue
		}

		req, err := r.profiles.Requirement(ctx, m.PlantID)
		if err != nil {
			r.logger.Warnw("skipping plant without care profile", "user_id", userID, "plant_id", m.PlantID, "error", err)
			rep.add(Outcome{Operation: OpSync, UserID: userID, PlantID: m.PlantID, Status: StatusSkipped, Reason: "no care profile"})
			continue
		}

		if !samplesLoaded {
			today := r.today()
			samples = r.loadForecast(ctx, today, today.AddDate(0, 0, r.horizonDays))
			samplesLoaded = true
		}

		e := r.seedEntry(userID, req, samples)
		switch err := r.store.Create(ctx, &e); {
		case errors.Is(err, ErrDuplicate):
			rep.add(Outcome{Operation: OpSync, UserID: userID, PlantID: m.PlantID, Status: StatusUnchanged, Reason: "entry already exists at seed date"})
		case err != nil:
			r.logger.Errorw("failed to create seed entry", "user_id", userID, "plant_id", m.PlantID, "error", err)
			rep.add(Outcome{Operation: OpSync, UserID: userID, PlantID: m.PlantID, Status: StatusFailed, Reason: err.Error()})
		default:
			rep.add(Outcome{Operation: OpSync, UserID: userID, PlantID: m.PlantID, EntryID: e.ID, Status: StatusCreated, To: datePtr(e.ScheduledDate)})
		}
	}

	removed := make([]int64, 0)
	for plantID := range pendingByPlant {
		if !inGarden[plantID] {
			removed = append(removed, plantID)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })

	for _, plantID := range removed {
		n, err := r.store.DeletePendingForPlant(ctx, userID, plantID)
		if err != nil {
			r.logger.Errorw("failed to delete entries of removed plant", "user_id", userID, "plant_id", plantID, "error", err)
			rep.add(Outcome{Operation: OpSync, UserID: userID, PlantID: plantID, Status: StatusFailed, Reason: err.Error()})
			continue
		}
		r.logger.Infow("deleted pending entries of removed plant", "user_id", userID, "plant_id", plantID, "count", n)
		rep.add(Outcome{Operation: OpSync, UserID: userID, PlantID: plantID, Status: StatusDeleted, Reason: "plant removed from garden"})
	}

	return rep, nil
}

// dropDuplicatePending keeps the earliest pending entry of a plant and deletes
// the rest. entries are ordered by date.
func (r *Reconciler) dropDuplicatePending(ctx context.Context, rep *Report, entries []Entry) {
	for _, dup := range entries[1:] {
		if err := r.store.Delete(ctx, dup.ID); err != nil && !errors.Is(err, ErrNotFound) {
			rep.add(Outcome{Operation: OpSync, UserID: dup.UserID, PlantID: dup.PlantID, EntryID: dup.ID, Status: StatusFailed, Reason: err.Error()})
			continue
		}
		r.logger.Warnw("deleted duplicate pending entry", "user_id", dup.UserID, "plant_id", dup.PlantID, "entry_id", dup.ID)
		rep.add(Outcome{Operation: OpSync, UserID: dup.UserID, PlantID: dup.PlantID, EntryID: dup.ID, Status: StatusDeleted, Reason: "duplicate pending entry"})
	}
}

// seedEntry plans the first watering of a newly added plant: today plus the
// frequency adjusted by today's forecast, or the raw frequency without one.
func (r *Reconciler) seedEntry(userID int64, req watering.Requirement, samples []weather.Sample) Entry {
	today := r.today()
	plans := watering.Project(req, samples, r.horizonDays, today)

	freq := req.FrequencyDays
	adjusted := false
	if len(plans) > 0 {
		freq = plans[0].AdjustedFrequency(req)
		adjusted = plans[0].HasForecast() && freq != req.DroughtAdjustedFrequency()
	}

	e := Entry{
		UserID:          userID,
		PlantID:         req.PlantID,
		ScheduledDate:   today.AddDate(0, 0, freq),
		WeatherAdjusted: adjusted,
	}
	applyForecast(&e, req, samples)
	return e
}

// CompletionResult is returned by Complete.
type CompletionResult struct {
	Completed Entry   `json:"completed"`
	Successor *Entry  `json:"successor,omitempty"`
	Outcome   Outcome `json:"outcome"`
}

// Complete marks an entry as watered and schedules its successor at
// completion date + drought-adjusted frequency, shifted by the forecast for
// that date. No successor is created when the plant already has a pending
// entry, at that date or any other. The completed entry itself never blocks
// its successor.
func (r *Reconciler) Complete(ctx context.Context, entryID string) (CompletionResult, error) {
	e, err := r.store.Get(ctx, entryID)
	if err != nil {
		return CompletionResult{}, err
	}

	var res CompletionResult
	err = r.withUser(ctx, OpComplete, e.UserID, func() error {
		var err error
		res, err = r.complete(ctx, entryID)
		return err
	})
	return res, err
}

func (r *Reconciler) complete(ctx context.Context, entryID string) (CompletionResult, error) {
	var res CompletionResult

	// Re-read under the lock.
	e, err := r.store.Get(ctx, entryID)
	if err != nil {
		return res, err
	}
	if e.Completed {
		return res, ErrAlreadyCompleted
	}

	now := r.now().UTC()
	e.Completed = true
	e.CompletedAt = &now

	req, reqErr := r.profiles.Requirement(ctx, e.PlantID)
	if reqErr != nil {
		r.logger.Warnw("completed entry without care profile; no successor", "user_id", e.UserID, "plant_id", e.PlantID, "error", reqErr)
		if err := r.store.Update(ctx, &e); err != nil {
			return res, fmt.Errorf("complete entry %s: %w", e.ID, err)
		}
		res.Completed = e
		res.Outcome = Outcome{Operation: OpComplete, UserID: e.UserID, PlantID: e.PlantID, EntryID: e.ID, Status: StatusSkipped, Reason: "no care profile"}
		return res, nil
	}

	base := weather.Day(now).AddDate(0, 0, req.DroughtAdjustedFrequency())
	samples := r.loadForecast(ctx, base.AddDate(0, 0, -1), base.AddDate(0, 0, 2))
	shift, fired := forecastShift(samples, base)
	next := base.AddDate(0, 0, shift)

	e.NextScheduledDate = datePtr(next)
	if err := r.store.Update(ctx, &e); err != nil {
		return res, fmt.Errorf("complete entry %s: %w", e.ID, err)
	}
	res.Completed = e

	out := Outcome{Operation: OpComplete, UserID: e.UserID, PlantID: e.PlantID, To: datePtr(next)}

	if existing, err := r.store.FindByDate(ctx, e.UserID, e.PlantID, next); err == nil {
		out.EntryID = existing.ID
		out.Status = StatusUnchanged
		out.Reason = "pending entry already scheduled at successor date"
		res.Outcome = out
		r.recordOutcome(out)
		return res, nil
	} else if !errors.Is(err, ErrNotFound) {
		return res, err
	}

	others, err := r.store.List(ctx, Filter{UserID: e.UserID, PlantID: e.PlantID, PendingOnly: true})
	if err != nil {
		return res, err
	}
	if len(others) > 0 {
		out.EntryID = others[0].ID
		out.Status = StatusUnchanged
		out.Reason = "plant already has a pending entry"
		res.Outcome = out
		r.recordOutcome(out)
		return res, nil
	}

	succ := Entry{
		UserID:          e.UserID,
		PlantID:         e.PlantID,
		ScheduledDate:   next,
		WeatherAdjusted: fired,
	}
	applyForecast(&succ, req, samples)

	switch err := r.store.Create(ctx, &succ); {
	case errors.Is(err, ErrDuplicate):
		out.Status = StatusUnchanged
		out.Reason = "entry already scheduled at successor date"
	case err != nil:
		return res, fmt.Errorf("create successor of %s: %w", e.ID, err)
	default:
		out.EntryID = succ.ID
		out.Status = StatusCreated
		res.Successor = &succ
	}

	res.Outcome = out
	r.recordOutcome(out)
	r.logger.Infow("watering completed", "user_id", e.UserID, "plant_id", e.PlantID, "entry_id", e.ID,
		"next", next.Format(weather.DateLayout), "weather_adjusted", fired, "status", out.Status)
	return res, nil
}

func (r *Reconciler) recordOutcome(o Outcome) {
	metrics.ReconcileOutcomesTotal.WithLabelValues(o.Operation, string(o.Status)).Inc()
}

// Readjust shifts future pending entries by the forecast on their date:
// one day earlier when hotter than ShiftHeatAbove, one day later when wetter
// than ShiftRainAbove. Entries already moved by weather are left alone. A
// shift that would collide with another entry of the same plant is skipped.
func (r *Reconciler) Readjust(ctx context.Context, userID int64) (Report, error) {
	var rep Report
	err := r.withUser(ctx, OpReadjust, userID, func() error {
		var err error
		rep, err = r.readjust(ctx, userID)
		return err
	})
	return rep, err
}

func (r *Reconciler) readjust(ctx context.Context, userID int64) (Report, error) {
	var rep Report
	today := r.today()

	pending, err := r.store.List(ctx, Filter{UserID: userID, PendingOnly: true, From: datePtr(today.AddDate(0, 0, 1))})
	if err != nil {
		return rep, fmt.Errorf("list pending entries of user %d: %w", userID, err)
	}
	if len(pending) == 0 {
		return rep, nil
	}

	samples := r.loadForecast(ctx, today, today.AddDate(0, 0, r.horizonDays+1))
	if len(samples) == 0 {
		return rep, nil
	}

	for _, e := range pending {
		if e.WeatherAdjusted {
			continue
		}
		shift, fired := forecastShift(samples, e.ScheduledDate)
		if !fired {
			continue
		}

		from := e.ScheduledDate
		to := from.AddDate(0, 0, shift)
		out := Outcome{Operation: OpReadjust, UserID: userID, PlantID: e.PlantID, EntryID: e.ID, From: datePtr(from), To: datePtr(to)}

		if shift != 0 {
			if _, err := r.store.FindByDate(ctx, userID, e.PlantID, to); err == nil {
				r.logger.Warnw("skipping forecast shift: date collision", "user_id", userID, "plant_id", e.PlantID,
					"entry_id", e.ID, "from", from.Format(weather.DateLayout), "to", to.Format(weather.DateLayout))
				out.Status = StatusSkipped
				out.Reason = "collides with existing entry"
				rep.add(out)
				continue
			} else if !errors.Is(err, ErrNotFound) {
				out.Status = StatusFailed
				out.Reason = err.Error()
				rep.add(out)
				continue
			}
		}

		e.ScheduledDate = to
		e.WeatherAdjusted = true
		if req, err := r.profiles.Requirement(ctx, e.PlantID); err == nil {
			applyForecast(&e, req, samples)
		}

		switch err := r.store.Update(ctx, &e); {
		case errors.Is(err, ErrDuplicate):
			r.logger.Warnw("skipping forecast shift: date collision", "user_id", userID, "plant_id", e.PlantID, "entry_id", e.ID)
			out.Status = StatusSkipped
			out.Reason = "collides with existing entry"
		case err != nil:
			r.logger.Errorw("failed to shift entry", "user_id", userID, "entry_id", e.ID, "error", err)
			out.Status = StatusFailed
			out.Reason = err.Error()
		case shift == 0:
			out.Status = StatusUpdated
			out.Reason = "heat and rain cancel out"
		default:
			out.Status = StatusShifted
		}
		rep.add(out)
	}
	return rep, nil
}

// RollOverdue moves pending entries dated before today to today with water
// needed. If the plant already has an entry today, that entry absorbs the
// overdue one.
func (r *Reconciler) RollOverdue(ctx context.Context, userID int64) (Report, error) {
	var rep Report
	err := r.withUser(ctx, OpOverdue, userID, func() error {
		var err error
		rep, err = r.rollOverdue(ctx, userID)
		return err
	})
	return rep, err
}

func (r *Reconciler) rollOverdue(ctx context.Context, userID int64) (Report, error) {
	var rep Report
	today := r.today()

	overdue, err := r.store.List(ctx, Filter{UserID: userID, PendingOnly: true, To: datePtr(today.AddDate(0, 0, -1))})
	if err != nil {
		return rep, fmt.Errorf("list overdue entries of user %d: %w", userID, err)
	}

	for _, e := range overdue {
		out := Outcome{Operation: OpOverdue, UserID: userID, PlantID: e.PlantID, EntryID: e.ID, From: datePtr(e.ScheduledDate), To: datePtr(today)}

		existing, err := r.store.FindByDate(ctx, userID, e.PlantID, today)
		switch {
		case err == nil:
			if existing.Pending() && !existing.WaterNeeded {
				existing.WaterNeeded = true
				if err := r.store.Update(ctx, &existing); err != nil {
					out.Status = StatusFailed
					out.Reason = err.Error()
					rep.add(out)
					continue
				}
			}
			if err := r.store.Delete(ctx, e.ID); err != nil {
				out.Status = StatusFailed
				out.Reason = err.Error()
				rep.add(out)
				continue
			}
			out.Status = StatusDeleted
			out.Reason = "merged into today's entry"
		case errors.Is(err, ErrNotFound):
			e.ScheduledDate = today
			e.WaterNeeded = true
			if err := r.store.Update(ctx, &e); err != nil {
				out.Status = StatusFailed
				out.Reason = err.Error()
				rep.add(out)
				continue
			}
			out.Status = StatusShifted
			out.Reason = "overdue"
		default:
			out.Status = StatusFailed
			out.Reason = err.Error()
		}
		rep.add(out)
	}
	return rep, nil
}

// ReconcileUser runs membership sync, overdue handling and forecast
// re-adjustment for one user under a single lock.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID int64) (Report, error) {
	var rep Report
	err := r.withUser(ctx, OpUser, userID, func() error {
		for _, step := range []func(context.Context, int64) (Report, error){
			r.syncMembership,
			r.rollOverdue,
			r.readjust,
		} {
			part, err := step(ctx, userID)
			rep.Merge(part)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return rep, err
}

// ReconcileAll reconciles every known user. A failing user is recorded and
// the loop moves on; only cancellation stops it early.
func (r *Reconciler) ReconcileAll(ctx context.Context) (Report, error) {
	var rep Report

	users := make(map[int64]bool)
	gardenUsers, err := r.gardens.Users(ctx)
	if err != nil {
		return rep, fmt.Errorf("list garden users: %w", err)
	}
	for _, u := range gardenUsers {
		users[u] = true
	}
	scheduleUsers, err := r.store.Users(ctx)
	if err != nil {
		return rep, fmt.Errorf("list schedule users: %w", err)
	}
	for _, u := range scheduleUsers {
		users[u] = true
	}

	ids := make([]int64, 0, len(users))
	for u := range users {
		ids = append(ids, u)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, userID := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		part, err := r.ReconcileUser(ctx, userID)
		rep.Merge(part)
		if err != nil {
			r.logger.Errorw("reconciliation failed for user", "user_id", userID, "error", err)
			rep.add(Outcome{Operation: OpUser, UserID: userID, Status: StatusFailed, Reason: err.Error()})
		}
	}

	r.logger.Infow("reconciled schedules", "users", len(ids), "writes", rep.Writes(),
		"skipped", rep.Count(StatusSkipped), "failed", rep.Count(StatusFailed))
	return rep, nil
}
