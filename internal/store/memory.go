package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/watering-scheduler/internal/weather"
)

var (
	// ErrNotFound is returned when no forecast data is available for a given location.
	ErrNotFound = errors.New("no weather data for location")
)

// sampleHistory holds the time-ordered forecast samples for a location.
type sampleHistory struct {
	samples   []weather.Sample
	fetchedAt time.Time
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key
	data map[string]*sampleHistory

	// retention configuration
	maxSamples int           // max number of samples per location
	maxAge     time.Duration // samples older than this (by timestamp) are dropped
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxSamples or maxAge is <= 0, it is treated as unlimited.
func NewMemoryStore(maxSamples int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*sampleHistory),
		maxSamples: maxSamples,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveSamples merges samples into the location's history. A newer fetch
// replaces readings at the same timestamp. Retention is enforced afterwards.
func (s *MemoryStore) SaveSamples(loc weather.Location, samples []weather.Sample, fetchedAt time.Time) {
	key := loc.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &sampleHistory{}
		s.data[key] = history
	}

	byTS := make(map[time.Time]weather.Sample, len(history.samples)+len(samples))
	for _, sm := range history.samples {
		byTS[sm.Timestamp] = sm
	}
	for _, sm := range samples {
		sm.Timestamp = sm.Timestamp.UTC()
		byTS[sm.Timestamp] = sm
	}

	merged := make([]weather.Sample, 0, len(byTS))
	for _, sm := range byTS {
		merged = append(merged, sm)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := sort.Search(len(merged), func(i int) bool {
			return !merged[i].Timestamp.Before(cutoff)
		})
		merged = merged[i:]
	}

	// Enforce retention by count, keeping the latest samples.
	if s.maxSamples > 0 && len(merged) > s.maxSamples {
		merged = merged[len(merged)-s.maxSamples:]
	}

	history.samples = merged
	if fetchedAt.After(history.fetchedAt) {
		history.fetchedAt = fetchedAt
	}
}

// LastFetched returns when samples for loc were last saved.
func (s *MemoryStore) LastFetched(loc weather.Location) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[loc.Key()]
	if !ok || history.fetchedAt.IsZero() {
		return time.Time{}, false
	}
	return history.fetchedAt, true
}

// LatestSample returns the timestamp of the newest retained sample for loc.
func (s *MemoryStore) LatestSample(loc weather.Location) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[loc.Key()]
	if !ok || len(history.samples) == 0 {
		return time.Time{}, false
	}
	return history.samples[len(history.samples)-1].Timestamp, true
}

// GetRange returns all samples for a location between from and to (inclusive).
func (s *MemoryStore) GetRange(loc weather.Location, from, to time.Time) ([]weather.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[loc.Key()]
	if !ok || len(history.samples) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.Sample
	for _, sm := range history.samples {
		if !sm.Timestamp.Before(from) && !sm.Timestamp.After(to) {
			result = append(result, sm)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
