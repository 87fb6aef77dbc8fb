package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/i474232898/watering-scheduler/internal/schedule"
	"github.com/i474232898/watering-scheduler/internal/weather"
)

// scheduleRecord is one row of watering_schedule. (user, plant, day) is unique
// among pending rows only; completed history may share a day with the next
// pending watering.
type scheduleRecord struct {
	ID              string     `gorm:"primaryKey;size:36"`
	UserID          int64      `gorm:"not null;uniqueIndex:idx_schedule_pending_day,priority:1,where:completed = 0;index"`
	PlantID         int64      `gorm:"not null;uniqueIndex:idx_schedule_pending_day,priority:2"`
	ScheduledOn     string     `gorm:"not null;size:10;uniqueIndex:idx_schedule_pending_day,priority:3"`
	WaterNeeded     bool       `gorm:"not null"`
	VolumeNeeded    *float64
	Completed       bool       `gorm:"not null;index"`
	CompletedAt     *time.Time
	NextScheduledOn *string    `gorm:"size:10"`
	WeatherAdjusted bool       `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (scheduleRecord) TableName() string { return "watering_schedule" }

func day(t time.Time) string {
	return weather.Day(t).Format(weather.DateLayout)
}

func parseDay(s string) time.Time {
	t, _ := time.ParseInLocation(weather.DateLayout, s, time.UTC)
	return t
}

func toRecord(e schedule.Entry) scheduleRecord {
	r := scheduleRecord{
		ID:              e.ID,
		UserID:          e.UserID,
		PlantID:         e.PlantID,
		ScheduledOn:     e.ScheduledDate.Format(weather.DateLayout),
		WaterNeeded:     e.WaterNeeded,
		VolumeNeeded:    e.VolumeNeeded,
		Completed:       e.Completed,
		CompletedAt:     e.CompletedAt,
		WeatherAdjusted: e.WeatherAdjusted,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	if e.NextScheduledDate != nil {
		next := day(*e.NextScheduledDate)
		r.NextScheduledOn = &next
	}
	return r
}

func (r scheduleRecord) entry() schedule.Entry {
	e := schedule.Entry{
		ID:              r.ID,
		UserID:          r.UserID,
		PlantID:         r.PlantID,
		ScheduledDate:   parseDay(r.ScheduledOn),
		WaterNeeded:     r.WaterNeeded,
		VolumeNeeded:    r.VolumeNeeded,
		Completed:       r.Completed,
		WeatherAdjusted: r.WeatherAdjusted,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.CompletedAt != nil {
		at := r.CompletedAt.UTC()
		e.CompletedAt = &at
	}
	if r.NextScheduledOn != nil {
		next := parseDay(*r.NextScheduledOn)
		e.NextScheduledDate = &next
	}
	return e
}

// ScheduleStore is the SQLite-backed schedule.Store.
type ScheduleStore struct {
	db *gorm.DB
}

// NewScheduleStore returns a store over db. db must have been migrated by Open.
func NewScheduleStore(db *gorm.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Create validates and inserts e, assigning its ID and timestamps.
func (s *ScheduleStore) Create(ctx context.Context, e *schedule.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	rec := toRecord(*e)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return schedule.ErrDuplicate
		}
		return fmt.Errorf("insert schedule entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return schedule.ErrDuplicate
	}
	return nil
}

func (s *ScheduleStore) Get(ctx context.Context, id string) (schedule.Entry, error) {
	var rec scheduleRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return schedule.Entry{}, schedule.ErrNotFound
	}
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("get schedule entry %s: %w", id, err)
	}
	return rec.entry(), nil
}

// Update validates and rewrites every mutable column of e.
func (s *ScheduleStore) Update(ctx context.Context, e *schedule.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.UpdatedAt = time.Now().UTC()
	rec := toRecord(*e)

	res := s.db.WithContext(ctx).Model(&scheduleRecord{}).Where("id = ?", e.ID).Updates(map[string]interface{}{
		"scheduled_on":      rec.ScheduledOn,
		"water_needed":      rec.WaterNeeded,
		"volume_needed":     rec.VolumeNeeded,
		"completed":         rec.Completed,
		"completed_at":      rec.CompletedAt,
		"next_scheduled_on": rec.NextScheduledOn,
		"weather_adjusted":  rec.WeatherAdjusted,
		"updated_at":        rec.UpdatedAt,
	})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return schedule.ErrDuplicate
		}
		return fmt.Errorf("update schedule entry %s: %w", e.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return schedule.ErrNotFound
	}
	return nil
}

func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&scheduleRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete schedule entry %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return schedule.ErrNotFound
	}
	return nil
}

// FindByDate returns the pending entry at (user, plant, day).
func (s *ScheduleStore) FindByDate(ctx context.Context, userID, plantID int64, date time.Time) (schedule.Entry, error) {
	var rec scheduleRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND plant_id = ? AND scheduled_on = ? AND completed = ?", userID, plantID, day(date), false).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return schedule.Entry{}, schedule.ErrNotFound
	}
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("find schedule entry: %w", err)
	}
	return rec.entry(), nil
}

func (s *ScheduleStore) List(ctx context.Context, f schedule.Filter) ([]schedule.Entry, error) {
	q := s.db.WithContext(ctx).Model(&scheduleRecord{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.PlantID != 0 {
		q = q.Where("plant_id = ?", f.PlantID)
	}
	if f.From != nil {
		q = q.Where("scheduled_on >= ?", day(*f.From))
	}
	if f.To != nil {
		q = q.Where("scheduled_on <= ?", day(*f.To))
	}
	if f.PendingOnly {
		q = q.Where("completed = ?", false)
	}

	var recs []scheduleRecord
	if err := q.Order("scheduled_on ASC, plant_id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	return entries(recs), nil
}

func (s *ScheduleStore) completed(ctx context.Context, userID int64) ([]schedule.Entry, error) {
	var recs []scheduleRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND completed = ?", userID, true).
		Order("scheduled_on ASC, plant_id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list completed entries: %w", err)
	}
	return entries(recs), nil
}

// CompletedBetween filters on completion time in Go; SQLite keeps timestamps
// as text and range comparisons on it are not reliable.
func (s *ScheduleStore) CompletedBetween(ctx context.Context, userID int64, from, to time.Time) ([]schedule.Entry, error) {
	all, err := s.completed(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Entry, 0, len(all))
	for _, e := range all {
		if !e.CompletedAt.Before(from) && e.CompletedAt.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	return out, nil
}

func (s *ScheduleStore) LatestCompleted(ctx context.Context, userID int64) (map[int64]schedule.Entry, error) {
	all, err := s.completed(ctx, userID)
	if err != nil {
		return nil, err
	}
	latest := make(map[int64]schedule.Entry)
	for _, e := range all {
		if prev, ok := latest[e.PlantID]; !ok || e.CompletedAt.After(*prev.CompletedAt) {
			latest[e.PlantID] = e
		}
	}
	return latest, nil
}

func (s *ScheduleStore) DeletePendingForPlant(ctx context.Context, userID, plantID int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND plant_id = ? AND completed = ?", userID, plantID, false).
		Delete(&scheduleRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete pending entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *ScheduleStore) Users(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&scheduleRecord{}).
		Where("completed = ?", false).
		Distinct().Order("user_id").Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list schedule users: %w", err)
	}
	return ids, nil
}

func entries(recs []scheduleRecord) []schedule.Entry {
	out := make([]schedule.Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.entry())
	}
	return out
}
