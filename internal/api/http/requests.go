package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/watering-scheduler/internal/garden"
	"github.com/i474232898/watering-scheduler/internal/watering"
	"github.com/i474232898/watering-scheduler/internal/weather"
)

// forecastQuery holds query parameters for the forecast endpoint.
type forecastQuery struct {
	Days int `validate:"required,min=1,max=7"`
}

func (q *forecastQuery) bind(c *fiber.Ctx) error {
	raw := c.Query("days")
	if raw == "" {
		return errors.New("days query parameter is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return errors.New("days must be an integer")
	}
	q.Days = n
	return nil
}

type overviewQuery struct {
	Days int `validate:"min=1,max=60"`
}

func (q *overviewQuery) bind(c *fiber.Ctx) error {
	return optionalInt(c, "days", &q.Days)
}

type upcomingQuery struct {
	Days int `validate:"min=1,max=30"`
}

func (q *upcomingQuery) bind(c *fiber.Ctx) error {
	return optionalInt(c, "days", &q.Days)
}

func optionalInt(c *fiber.Ctx, key string, dst *int) error {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return errors.New(key + " must be an integer")
	}
	*dst = n
	return nil
}

// rangeQuery holds the optional date range of schedule listings.
type rangeQuery struct {
	From *time.Time
	To   *time.Time
}

func (q *rangeQuery) bind(c *fiber.Ctx) error {
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			return err
		}
		*p.dst = &t
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return errors.New("to must not be before from")
	}
	return nil
}

// parseDate accepts a calendar day, RFC3339 or Unix seconds.
func parseDate(s string) (time.Time, error) {
	if d, err := time.ParseInLocation(weather.DateLayout, s, time.UTC); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return weather.Day(ts), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return weather.Day(time.Unix(unix, 0)), nil
	}
	return time.Time{}, errors.New("invalid date format; use YYYY-MM-DD, RFC3339 or unix seconds")
}

type createPlantRequest struct {
	CommonName      string  `json:"commonName" validate:"required,max=200"`
	ImageURL        string  `json:"imageUrl" validate:"omitempty,url"`
	Watering        string  `json:"watering" validate:"max=100"`
	FrequencyDays   int     `json:"frequencyDays" validate:"required,min=1,max=365"`
	DepthMM         int     `json:"depthMm" validate:"min=0"`
	VolumeUnits     float64 `json:"volumeUnits" validate:"required,gt=0"`
	DroughtTolerant bool    `json:"droughtTolerant"`
}

func (r createPlantRequest) plant() garden.Plant {
	return garden.Plant{CommonName: r.CommonName, ImageURL: r.ImageURL, Watering: r.Watering}
}

func (r createPlantRequest) requirement() watering.Requirement {
	return watering.Requirement{
		FrequencyDays:   r.FrequencyDays,
		DepthMM:         r.DepthMM,
		VolumeUnits:     r.VolumeUnits,
		DroughtTolerant: r.DroughtTolerant,
	}
}

type plantResponse struct {
	garden.Plant
	Requirement watering.Requirement `json:"wateringProfile"`
}

type addPlantRequest struct {
	PlantID int64  `json:"plantId" validate:"required,gt=0"`
	Section string `json:"section" validate:"max=100"`
}

type sectionRequest struct {
	Section string `json:"section" validate:"max=100"`
}

type gardenPlant struct {
	garden.Plant
	Section string `json:"section"`
}
