package garden

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/cache"
	"github.com/i474232898/watering-scheduler/internal/metrics"
)

// Backend is a store that both reads and mutates gardens.
type Backend interface {
	Directory
	Registry
}

// CachedDirectory caches ActivePlants per user and invalidates on every
// mutation that goes through it. Cache failures fall through to the backend.
type CachedDirectory struct {
	backend Backend
	cache   cache.Cache
	ttl     time.Duration
	logger  *zap.SugaredLogger
}

// NewCachedDirectory wraps backend with c.
func NewCachedDirectory(backend Backend, c cache.Cache, ttl time.Duration, logger *zap.SugaredLogger) *CachedDirectory {
	return &CachedDirectory{backend: backend, cache: c, ttl: ttl, logger: logger}
}

func membershipKey(userID int64) string {
	return "garden:" + strconv.FormatInt(userID, 10)
}

func (d *CachedDirectory) ActivePlants(ctx context.Context, userID int64) ([]Membership, error) {
	key := membershipKey(userID)

	raw, ok, err := d.cache.Get(ctx, key)
	switch {
	case err != nil:
		d.logger.Warnw("membership cache read failed", "user_id", userID, "error", err)
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	case ok:
		var ms []Membership
		if err := json.Unmarshal(raw, &ms); err == nil {
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
			return ms, nil
		}
		d.logger.Warnw("discarding undecodable membership cache entry", "user_id", userID)
	}
	metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()

	ms, err := d.backend.ActivePlants(ctx, userID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(ms); err == nil {
		if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
			d.logger.Warnw("membership cache write failed", "user_id", userID, "error", err)
		}
	}
	return ms, nil
}

func (d *CachedDirectory) Plants(ctx context.Context, ids []int64) (map[int64]Plant, error) {
	return d.backend.Plants(ctx, ids)
}

func (d *CachedDirectory) Users(ctx context.Context) ([]int64, error) {
	return d.backend.Users(ctx)
}

func (d *CachedDirectory) AddPlant(ctx context.Context, m Membership) error {
	defer d.Invalidate(ctx, m.UserID)
	return d.backend.AddPlant(ctx, m)
}

func (d *CachedDirectory) RemovePlant(ctx context.Context, userID, plantID int64) error {
	defer d.Invalidate(ctx, userID)
	return d.backend.RemovePlant(ctx, userID, plantID)
}

func (d *CachedDirectory) SetSection(ctx context.Context, userID, plantID int64, section string) error {
	defer d.Invalidate(ctx, userID)
	return d.backend.SetSection(ctx, userID, plantID, section)
}

// Invalidate drops the cached membership of userID.
func (d *CachedDirectory) Invalidate(ctx context.Context, userID int64) {
	if err := d.cache.Delete(ctx, membershipKey(userID)); err != nil {
		d.logger.Warnw("membership cache invalidation failed", "user_id", userID, "error", err)
	}
}
