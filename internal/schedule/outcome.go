package schedule

import (
	"time"

	"github.com/i474232898/watering-scheduler/internal/metrics"
)

// Status is the result of reconciling one item.
type Status string

const (
	StatusCreated   Status = "created"
	StatusDeleted   Status = "deleted"
	StatusShifted   Status = "shifted"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Operation names used in outcomes and metrics.
const (
	OpSync     = "sync"
	OpComplete = "complete"
	OpReadjust = "readjust"
	OpOverdue  = "overdue"
	OpUser     = "user"
)

// Outcome records what happened to one plant's schedule during an operation.
type Outcome struct {
	Operation string     `json:"operation"`
	UserID    int64      `json:"userId"`
	PlantID   int64      `json:"plantId,omitempty"`
	EntryID   string     `json:"entryId,omitempty"`
	Status    Status     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}

// Report aggregates outcomes of one or more operations.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	metrics.ReconcileOutcomesTotal.WithLabelValues(o.Operation, string(o.Status)).Inc()
}

// Merge appends other's outcomes to r.
func (r *Report) Merge(other Report) {
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
}

// Count returns how many outcomes have the given status.
func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Writes is the number of outcomes that changed persisted state.
func (r Report) Writes() int {
	return r.Count(StatusCreated) + r.Count(StatusDeleted) + r.Count(StatusShifted) + r.Count(StatusUpdated)
}
