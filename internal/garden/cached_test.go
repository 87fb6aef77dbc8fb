package garden_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/cache"
	"github.com/i474232898/watering-scheduler/internal/garden"
)

type fakeBackend struct {
	members map[int64][]garden.Membership
	reads   int
}

func (b *fakeBackend) ActivePlants(_ context.Context, userID int64) ([]garden.Membership, error) {
	b.reads++
	return b.members[userID], nil
}

func (b *fakeBackend) Plants(_ context.Context, ids []int64) (map[int64]garden.Plant, error) {
	out := make(map[int64]garden.Plant, len(ids))
	for _, id := range ids {
		out[id] = garden.Plant{ID: id}
	}
	return out, nil
}

func (b *fakeBackend) Users(context.Context) ([]int64, error) {
	var ids []int64
	for id := range b.members {
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *fakeBackend) AddPlant(_ context.Context, m garden.Membership) error {
	for _, cur := range b.members[m.UserID] {
		if cur.PlantID == m.PlantID {
			return garden.ErrAlreadyInGarden
		}
	}
	b.members[m.UserID] = append(b.members[m.UserID], m)
	return nil
}

func (b *fakeBackend) RemovePlant(_ context.Context, userID, plantID int64) error {
	ms := b.members[userID]
	for i, m := range ms {
		if m.PlantID == plantID {
			b.members[userID] = append(ms[:i], ms[i+1:]...)
			return nil
		}
	}
	return garden.ErrNotFound
}

func (b *fakeBackend) SetSection(_ context.Context, userID, plantID int64, section string) error {
	for i, m := range b.members[userID] {
		if m.PlantID == plantID {
			b.members[userID][i].Section = section
			return nil
		}
	}
	return garden.ErrNotFound
}

// brokenCache fails every call.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errCacheDown }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}
func (brokenCache) Delete(context.Context, ...string) error { return errCacheDown }

func newDirectory(c cache.Cache) (*garden.CachedDirectory, *fakeBackend) {
	b := &fakeBackend{members: map[int64][]garden.Membership{
		1: {{UserID: 1, PlantID: 10, Section: "Herbs"}},
	}}
	return garden.NewCachedDirectory(b, c, time.Minute, zap.NewNop().Sugar()), b
}

func TestCachedDirectoryServesFromCache(t *testing.T) {
	ctx := context.Background()
	d, b := newDirectory(cache.NewMemory())

	first, err := d.ActivePlants(ctx, 1)
	require.NoError(t, err)
	second, err := d.ActivePlants(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.reads)
}

func TestCachedDirectoryInvalidatesOnMutation(t *testing.T) {
	ctx := context.Background()
	d, b := newDirectory(cache.NewMemory())

	_, err := d.ActivePlants(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, d.AddPlant(ctx, garden.Membership{UserID: 1, PlantID: 11}))
	ms, err := d.ActivePlants(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, ms, 2)
	assert.Equal(t, 2, b.reads)

	require.NoError(t, d.SetSection(ctx, 1, 11, "Pots"))
	ms, err = d.ActivePlants(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Pots", ms[1].Section)

	require.NoError(t, d.RemovePlant(ctx, 1, 10))
	ms, err = d.ActivePlants(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, int64(11), ms[0].PlantID)
	assert.Equal(t, 4, b.reads)
}

func TestCachedDirectoryInvalidatesOnFailedMutation(t *testing.T) {
	ctx := context.Background()
	d, b := newDirectory(cache.NewMemory())

	_, err := d.ActivePlants(ctx, 1)
	require.NoError(t, err)

	err = d.AddPlant(ctx, garden.Membership{UserID: 1, PlantID: 10})
	assert.ErrorIs(t, err, garden.ErrAlreadyInGarden)

	_, err = d.ActivePlants(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, b.reads)
}

func TestCachedDirectoryFallsThroughOnCacheErrors(t *testing.T) {
	ctx := context.Background()
	d, b := newDirectory(brokenCache{})

	for i := 0; i < 2; i++ {
		ms, err := d.ActivePlants(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, ms, 1)
	}
	assert.Equal(t, 2, b.reads)
	require.NoError(t, d.RemovePlant(ctx, 1, 10))
}

func TestCachedDirectoryDiscardsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	require.NoError(t, c.Set(ctx, "garden:1", []byte("{not json"), time.Minute))

	d, b := newDirectory(c)
	ms, err := d.ActivePlants(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, ms, 1)
	assert.Equal(t, 1, b.reads)
}

func TestMembershipSectionOrDefault(t *testing.T) {
	assert.Equal(t, garden.UnassignedSection, garden.Membership{}.SectionOrDefault())
	assert.Equal(t, "Herbs", garden.Membership{Section: "Herbs"}.SectionOrDefault())
}
