package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/i474232898/watering-scheduler/internal/garden"
	"github.com/i474232898/watering-scheduler/internal/watering"
)

type plantRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	CommonName string `gorm:"not null"`
	ImageURL   string
	Watering   string
}

func (plantRecord) TableName() string { return "plants" }

type profileRecord struct {
	PlantID         int64   `gorm:"primaryKey;autoIncrement:false"`
	FrequencyDays   int     `gorm:"not null"`
	DepthMM         int     `gorm:"not null"`
	VolumeUnits     float64 `gorm:"not null"`
	DroughtTolerant bool    `gorm:"not null"`
}

func (profileRecord) TableName() string { return "watering_profiles" }

type membershipRecord struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	UserID  int64  `gorm:"not null;uniqueIndex:idx_garden_user_plant,priority:1"`
	PlantID int64  `gorm:"not null;uniqueIndex:idx_garden_user_plant,priority:2"`
	Section string `gorm:"size:100"`
}

func (membershipRecord) TableName() string { return "garden_plants" }

func (r plantRecord) plant() garden.Plant {
	return garden.Plant{ID: r.ID, CommonName: r.CommonName, ImageURL: r.ImageURL, Watering: r.Watering}
}

func (r profileRecord) requirement() watering.Requirement {
	return watering.Requirement{
		PlantID:         r.PlantID,
		FrequencyDays:   r.FrequencyDays,
		DepthMM:         r.DepthMM,
		VolumeUnits:     r.VolumeUnits,
		DroughtTolerant: r.DroughtTolerant,
	}
}

// GardenStore keeps the plant catalogue, care profiles and garden membership.
// It implements garden.Directory, garden.Registry and garden.CareProfiles.
type GardenStore struct {
	db *gorm.DB
}

// NewGardenStore returns a store over db. db must have been migrated by Open.
func NewGardenStore(db *gorm.DB) *GardenStore {
	return &GardenStore{db: db}
}

// CreatePlant adds a catalogue plant together with its care profile. The
// plant's ID is assigned by the database and returned.
func (s *GardenStore) CreatePlant(ctx context.Context, p garden.Plant, req watering.Requirement) (garden.Plant, error) {
	rec := plantRecord{ID: p.ID, CommonName: p.CommonName, ImageURL: p.ImageURL, Watering: p.Watering}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert plant: %w", err)
		}
		prof := profileRecord{
			PlantID:         rec.ID,
			FrequencyDays:   req.FrequencyDays,
			DepthMM:         req.DepthMM,
			VolumeUnits:     req.VolumeUnits,
			DroughtTolerant: req.DroughtTolerant,
		}
		if err := tx.Create(&prof).Error; err != nil {
			return fmt.Errorf("insert watering profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return garden.Plant{}, err
	}
	return rec.plant(), nil
}

// GetPlant returns a catalogue plant and its care profile.
func (s *GardenStore) GetPlant(ctx context.Context, id int64) (garden.Plant, watering.Requirement, error) {
	var rec plantRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return garden.Plant{}, watering.Requirement{}, garden.ErrNotFound
	}
	if err != nil {
		return garden.Plant{}, watering.Requirement{}, fmt.Errorf("get plant %d: %w", id, err)
	}
	req, err := s.Requirement(ctx, id)
	if err != nil && !errors.Is(err, garden.ErrNotFound) {
		return garden.Plant{}, watering.Requirement{}, err
	}
	return rec.plant(), req, nil
}

func (s *GardenStore) Requirement(ctx context.Context, plantID int64) (watering.Requirement, error) {
	var rec profileRecord
	err := s.db.WithContext(ctx).Where("plant_id = ?", plantID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return watering.Requirement{}, fmt.Errorf("watering profile of plant %d: %w", plantID, garden.ErrNotFound)
	}
	if err != nil {
		return watering.Requirement{}, fmt.Errorf("get watering profile of plant %d: %w", plantID, err)
	}
	return rec.requirement(), nil
}

func (s *GardenStore) ActivePlants(ctx context.Context, userID int64) ([]garden.Membership, error) {
	var recs []membershipRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("plant_id").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list garden of user %d: %w", userID, err)
	}
	out := make([]garden.Membership, 0, len(recs))
	for _, r := range recs {
		out = append(out, garden.Membership{UserID: r.UserID, PlantID: r.PlantID, Section: r.Section})
	}
	return out, nil
}

func (s *GardenStore) Plants(ctx context.Context, ids []int64) (map[int64]garden.Plant, error) {
	out := make(map[int64]garden.Plant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var recs []plantRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}
	for _, r := range recs {
		out[r.ID] = r.plant()
	}
	return out, nil
}

func (s *GardenStore) Users(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&membershipRecord{}).Distinct().Order("user_id").Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list garden users: %w", err)
	}
	return ids, nil
}

// AddPlant puts a catalogue plant into a user's garden.
func (s *GardenStore) AddPlant(ctx context.Context, m garden.Membership) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&plantRecord{}).Where("id = ?", m.PlantID).Count(&count).Error; err != nil {
		return fmt.Errorf("check plant %d: %w", m.PlantID, err)
	}
	if count == 0 {
		return fmt.Errorf("plant %d: %w", m.PlantID, garden.ErrNotFound)
	}

	rec := membershipRecord{UserID: m.UserID, PlantID: m.PlantID, Section: strings.TrimSpace(m.Section)}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("add plant %d to garden of user %d: %w", m.PlantID, m.UserID, res.Error)
	}
	if res.RowsAffected == 0 {
		return garden.ErrAlreadyInGarden
	}
	return nil
}

func (s *GardenStore) RemovePlant(ctx context.Context, userID, plantID int64) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND plant_id = ?", userID, plantID).Delete(&membershipRecord{})
	if res.Error != nil {
		return fmt.Errorf("remove plant %d from garden of user %d: %w", plantID, userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return garden.ErrNotFound
	}
	return nil
}

func (s *GardenStore) SetSection(ctx context.Context, userID, plantID int64, section string) error {
	res := s.db.WithContext(ctx).Model(&membershipRecord{}).
		Where("user_id = ? AND plant_id = ?", userID, plantID).
		Update("section", strings.TrimSpace(section))
	if res.Error != nil {
		return fmt.Errorf("set section of plant %d: %w", plantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return garden.ErrNotFound
	}
	return nil
}
