package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/watering-scheduler/internal/garden"
	"github.com/i474232898/watering-scheduler/internal/watering"
)

func TestGardenStore_PlantCatalogue(t *testing.T) {
	_, g := openTestDB(t)
	ctx := context.Background()

	req := watering.Requirement{FrequencyDays: 4, DepthMM: 25, VolumeUnits: 1.2, DroughtTolerant: true}
	p, err := g.CreatePlant(ctx, garden.Plant{CommonName: "Rosemary", ImageURL: "https://img/rosemary.png", Watering: "Minimum"}, req)
	require.NoError(t, err)
	require.NotZero(t, p.ID)

	got, gotReq, err := g.GetPlant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	req.PlantID = p.ID
	assert.Equal(t, req, gotReq)

	_, _, err = g.GetPlant(ctx, p.ID+100)
	assert.ErrorIs(t, err, garden.ErrNotFound)
	_, err = g.Requirement(ctx, p.ID+100)
	assert.ErrorIs(t, err, garden.ErrNotFound)

	plants, err := g.Plants(ctx, []int64{p.ID, p.ID + 100})
	require.NoError(t, err)
	assert.Len(t, plants, 1)
	assert.Equal(t, "Rosemary", plants[p.ID].CommonName)
}

func TestGardenStore_Membership(t *testing.T) {
	_, g := openTestDB(t)
	ctx := context.Background()

	p, err := g.CreatePlant(ctx, garden.Plant{CommonName: "Basil"}, watering.Requirement{FrequencyDays: 3, VolumeUnits: 2})
	require.NoError(t, err)

	require.NoError(t, g.AddPlant(ctx, garden.Membership{UserID: 1, PlantID: p.ID, Section: " Herbs "}))
	assert.ErrorIs(t, g.AddPlant(ctx, garden.Membership{UserID: 1, PlantID: p.ID}), garden.ErrAlreadyInGarden)
	assert.ErrorIs(t, g.AddPlant(ctx, garden.Membership{UserID: 1, PlantID: p.ID + 1}), garden.ErrNotFound)
	require.NoError(t, g.AddPlant(ctx, garden.Membership{UserID: 2, PlantID: p.ID}))

	ms, err := g.ActivePlants(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "Herbs", ms[0].Section)

	require.NoError(t, g.SetSection(ctx, 1, p.ID, ""))
	ms, err = g.ActivePlants(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, garden.UnassignedSection, ms[0].SectionOrDefault())

	users, err := g.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, users)

	require.NoError(t, g.RemovePlant(ctx, 1, p.ID))
	assert.ErrorIs(t, g.RemovePlant(ctx, 1, p.ID), garden.ErrNotFound)
	assert.ErrorIs(t, g.SetSection(ctx, 1, p.ID, "A"), garden.ErrNotFound)

	ms, err = g.ActivePlants(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ms)
}
