package schedule

import (
	"context"
	"time"

	"github.com/i474232898/watering-scheduler/internal/weather"
)

// Store persists schedule entries. Implementations validate entries on every
// write and report conflicts between pending entries on the same
// (user, plant, date) as ErrDuplicate.
type Store interface {
	Create(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	Update(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, id string) error

	// FindByDate returns the pending entry at (user, plant, date) or
	// ErrNotFound. Completed entries are history and never match.
	FindByDate(ctx context.Context, userID, plantID int64, date time.Time) (Entry, error)
	// List returns entries ordered by ScheduledDate, then PlantID.
	List(ctx context.Context, f Filter) ([]Entry, error)
	// CompletedBetween returns entries completed within [from, to).
	CompletedBetween(ctx context.Context, userID int64, from, to time.Time) ([]Entry, error)
	// LatestCompleted returns the most recent completed entry per plant.
	LatestCompleted(ctx context.Context, userID int64) (map[int64]Entry, error)
	// DeletePendingForPlant removes incomplete entries and reports how many went.
	DeletePendingForPlant(ctx context.Context, userID, plantID int64) (int64, error)
	// Users lists users owning at least one pending entry.
	Users(ctx context.Context) ([]int64, error)
}

// ForecastSource provides stored forecast samples.
type ForecastSource interface {
	GetForecast(ctx context.Context, loc weather.Location, start, end time.Time) ([]weather.Sample, error)
}
