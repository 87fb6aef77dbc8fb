// Package garden describes which plants a user grows and how each plant
// should be cared for. It is the source of truth the schedule reconciles to.
package garden

import (
	"context"
	"errors"

	"github.com/i474232898/watering-scheduler/internal/watering"
)

// UnassignedSection is used for plants without a section.
const UnassignedSection = "Unassigned"

var (
	// ErrNotFound is returned when a plant, care profile or membership does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyInGarden is returned when adding a plant the user already grows.
	ErrAlreadyInGarden = errors.New("plant already in garden")
)

// Plant is the catalogue entry shown to users.
type Plant struct {
	ID         int64  `json:"id"`
	CommonName string `json:"commonName"`
	ImageURL   string `json:"imageUrl,omitempty"`
	// Watering is the free-text watering summary from the catalogue.
	Watering string `json:"watering,omitempty"`
}

// Membership places a plant in a user's garden.
type Membership struct {
	UserID  int64  `json:"userId"`
	PlantID int64  `json:"plantId"`
	Section string `json:"section,omitempty"`
}

// SectionOrDefault returns the section name used for grouping.
func (m Membership) SectionOrDefault() string {
	if m.Section == "" {
		return UnassignedSection
	}
	return m.Section
}

// CareProfiles provides the watering requirement of a plant.
type CareProfiles interface {
	Requirement(ctx context.Context, plantID int64) (watering.Requirement, error)
}

// Directory answers read queries about gardens.
type Directory interface {
	ActivePlants(ctx context.Context, userID int64) ([]Membership, error)
	Plants(ctx context.Context, ids []int64) (map[int64]Plant, error)
	Users(ctx context.Context) ([]int64, error)
}

// Registry mutates garden membership.
type Registry interface {
	AddPlant(ctx context.Context, m Membership) error
	RemovePlant(ctx context.Context, userID, plantID int64) error
	SetSection(ctx context.Context, userID, plantID int64, section string) error
}
