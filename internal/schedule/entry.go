// Package schedule owns the per-user, per-plant watering schedule: the
// persisted entries, the reconciler that keeps them consistent with gardens
// and forecasts, and the read-only overview built from them.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/i474232898/watering-scheduler/internal/weather"
)

var validate = validator.New()

var (
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("schedule entry not found")
	// ErrDuplicate is returned when an entry already exists for (user, plant, date).
	ErrDuplicate = errors.New("schedule entry already exists")
	// ErrInvalidEntry is returned for entries that break a write-time invariant.
	ErrInvalidEntry = errors.New("invalid schedule entry")
	// ErrAlreadyCompleted is returned when completing an entry twice.
	ErrAlreadyCompleted = errors.New("schedule entry already completed")
)

// Entry is one planned or completed watering of a plant for a user.
// (UserID, PlantID, ScheduledDate) is unique.
type Entry struct {
	ID                string     `json:"id"`
	UserID            int64      `json:"userId" validate:"gt=0"`
	PlantID           int64      `json:"plantId" validate:"gt=0"`
	ScheduledDate     time.Time  `json:"scheduledDate" validate:"required"`
	WaterNeeded       bool       `json:"waterNeeded"`
	VolumeNeeded      *float64   `json:"volumeNeeded,omitempty" validate:"omitempty,gte=0"`
	Completed         bool       `json:"completed"`
	CompletedAt       *time.Time `json:"completionTimestamp,omitempty"`
	NextScheduledDate *time.Time `json:"nextScheduledDate,omitempty"`
	WeatherAdjusted   bool       `json:"weatherAdjusted"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Pending reports whether the entry still awaits watering.
func (e Entry) Pending() bool {
	return !e.Completed
}

// Validate checks field constraints and that Completed and CompletedAt agree.
// It never fixes an entry up.
func (e Entry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.Completed != (e.CompletedAt != nil) {
		return fmt.Errorf("%w: completed=%t requires completion timestamp to be %s",
			ErrInvalidEntry, e.Completed, map[bool]string{true: "set", false: "empty"}[e.Completed])
	}
	if !e.ScheduledDate.Equal(weather.Day(e.ScheduledDate)) {
		return fmt.Errorf("%w: scheduled date must be a UTC calendar day", ErrInvalidEntry)
	}
	return nil
}

// Filter narrows List queries. Zero values mean "no constraint".
type Filter struct {
	UserID      int64
	PlantID     int64
	From        *time.Time // inclusive, on ScheduledDate
	To          *time.Time // inclusive, on ScheduledDate
	PendingOnly bool
}
