package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/garden"
	"github.com/i474232898/watering-scheduler/internal/schedule"
	"github.com/i474232898/watering-scheduler/internal/store"
	"github.com/i474232898/watering-scheduler/internal/watering"
	"github.com/i474232898/watering-scheduler/internal/weather"
)

var validate = validator.New()

// Catalogue manages catalogue plants and their care profiles.
type Catalogue interface {
	CreatePlant(ctx context.Context, p garden.Plant, req watering.Requirement) (garden.Plant, error)
	GetPlant(ctx context.Context, id int64) (garden.Plant, watering.Requirement, error)
}

// Gardens reads and mutates garden membership.
type Gardens interface {
	garden.Directory
	garden.Registry
}

// ScheduleReconciler performs the schedule mutations exposed over HTTP.
type ScheduleReconciler interface {
	SyncMembership(ctx context.Context, userID int64) (schedule.Report, error)
	Complete(ctx context.Context, entryID string) (schedule.CompletionResult, error)
}

// OverviewBuilder renders a user's calendar view.
type OverviewBuilder interface {
	Build(ctx context.Context, userID int64, windowDays int) ([]schedule.DayOverview, error)
}

// Handlers holds the dependencies of the HTTP API.
type Handlers struct {
	Forecast   schedule.ForecastSource
	Location   weather.Location
	Catalogue  Catalogue
	Gardens    Gardens
	Schedules  schedule.Store
	Reconciler ScheduleReconciler
	Overviews  OverviewBuilder
	Logger     *zap.SugaredLogger
	Now        func() time.Time
}

func (h Handlers) today() time.Time {
	if h.Now == nil {
		return weather.Day(time.Now())
	}
	return weather.Day(h.Now())
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, h Handlers) {
	v1 := app.Group("/api/v1")

	v1.Get("/weather/forecast", h.getForecast)

	v1.Post("/plants", h.createPlant)
	v1.Get("/plants/:plantId", h.getPlant)

	users := v1.Group("/users/:userId")
	users.Get("/garden", h.listGarden)
	users.Post("/garden", h.addToGarden)
	users.Delete("/garden/:plantId", h.removeFromGarden)
	users.Put("/garden/:plantId/section", h.setSection)

	users.Get("/schedule", h.listSchedule)
	users.Get("/schedule/overview", h.getOverview)
	users.Get("/schedule/upcoming", h.upcoming)
	users.Post("/schedule/sync", h.syncSchedule)
	users.Get("/plants/:plantId/schedule", h.listPlantSchedule)

	v1.Post("/schedule/:id/complete", h.completeEntry)
	v1.Delete("/schedule/:id", h.deleteEntry)
}

// toHTTPError maps domain errors onto HTTP status codes.
func toHTTPError(err error, msg string) error {
	switch {
	case errors.Is(err, schedule.ErrNotFound), errors.Is(err, garden.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, schedule.ErrInvalidEntry):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, schedule.ErrDuplicate),
		errors.Is(err, schedule.ErrAlreadyCompleted),
		errors.Is(err, garden.ErrAlreadyInGarden):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, msg)
	}
}

func (h Handlers) getForecast(c *fiber.Ctx) error {
	var q forecastQuery
	if err := q.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	start := h.today()
	end := start.AddDate(0, 0, q.Days).Add(-time.Nanosecond)
	samples, err := h.Forecast.GetForecast(c.UserContext(), h.Location, start, end)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no forecast available yet")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read forecast")
	}

	daily := weather.DailySamples(samples)
	days := make([]weather.Sample, 0, q.Days)
	for i := 0; i < q.Days; i++ {
		if s, ok := daily[start.AddDate(0, 0, i).Format(weather.DateLayout)]; ok {
			days = append(days, s)
		}
	}

	return c.JSON(fiber.Map{
		"location": h.Location,
		"days":     q.Days,
		"daily":    days,
		"samples":  samples,
	})
}

func (h Handlers) createPlant(c *fiber.Ctx) error {
	var body createPlantRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	p, err := h.Catalogue.CreatePlant(c.UserContext(), body.plant(), body.requirement())
	if err != nil {
		return toHTTPError(err, "failed to create plant")
	}
	req := body.requirement()
	req.PlantID = p.ID
	return c.Status(fiber.StatusCreated).JSON(plantResponse{Plant: p, Requirement: req})
}

func (h Handlers) getPlant(c *fiber.Ctx) error {
	id, err := idParam(c, "plantId")
	if err != nil {
		return err
	}
	p, req, err := h.Catalogue.GetPlant(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err, "failed to fetch plant")
	}
	return c.JSON(plantResponse{Plant: p, Requirement: req})
}

func (h Handlers) listGarden(c *fiber.Ctx) error {
	userID, err := idParam(c, "userId")
	if err != nil {
		return err
	}
	ms, err := h.Gardens.ActivePlants(c.UserContext(), userID)
	if err != nil {
		return toHTTPError(err, "failed to list garden")
	}

	ids := make([]int64, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.PlantID)
	}
	plants, err := h.Gardens.Plants(c.UserContext(), ids)
	if err != nil {
		return toHTTPError(err, "failed to list garden")
	}

	out := make([]gardenPlant, 0, len(ms))
	for _, m := range ms {
		out = append(out, gardenPlant{Plant: plants[m.PlantID], Section: m.SectionOrDefault()})
	}
	return c.JSON(fiber.Map{"userId": userID, "plants": out})
}

func (h Handlers) addToGarden(c *fiber.Ctx) error {
	userID, err := idParam(c, "userId")
	if err != nil {
		return err
	}
	var body addPlantRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	m := garden.Membership{UserID: userID, PlantID: body.PlantID, Section: body.Section}
	if err := h.Gardens.AddPlant(c.UserContext(), m); err != nil {
		return toHTTPError(err, "failed to add plant")
	}
	rep := h.sync(c.UserContext(), userID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"membership": m, "sync": rep})
}

func (h Handlers) removeFromGarden(c *fiber.Ctx) error {
	userID, err := idParam(c, "userId")
	if err != nil {
		return err
	}
	plantID, err := idParam(c, "plantId")
	if err != nil {
		return err
	}
	if err := h.Gardens.RemovePlant(c.UserContext(), userID, plantID); err != nil {
		return toHTTPError(err, "failed to remove plant")
	}
	rep := h.sync(c.UserContext(), userID)
	return c.JSON(fiber.Map{"removed": plantID, "sync": rep})
}

func (h Handlers) setSection(c *fiber.Ctx) error {
	userID, err := idParam(c, "userId")
	if err != nil {
		return err
	}
	plantID, err := idParam(c, "plantId")
	if err != nil {
		return err
	}
	var body sectionRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := h.Gardens.SetSection(c.UserContext(), userID, plantID, body.Section); err != nil {
		return toHTTPError(err, "failed to update section")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// sync reconciles membership after a garden change. A failure is logged; the
// next sweep repairs it.
func (h Handlers) sync(ctx context.Context, userID int64) *schedule.Report {
	rep, err := h.Reconciler.SyncMembership(ctx, userID)
	if err != nil {
		h.Logger.Warnw("membership sync after garden change failed", "user_id", userID, "error", err)
		return nil
	}
	return &rep
}

func (h Handlers) listSchedule(c *fiber.Ctx) error {
	return h.list(c, false)
}

func (h Handlers) listPlantSchedule(c *fiber.Ctx) error {
	return h.list(c, true)
}

func (h Handlers) list(c *fiber.Ctx, byPlant bool) error {
	userID, err := idParam(c, "userId")
	if err != nil {
		return err
	}
	f := schedule.Filter{UserID: userID}
	if byPlant {
		if f.PlantID, err = idParam(c, "plantId"); err != nil {
			return err
		}
	}

	var q rangeQuery
	if err := q.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	f.From, f.To = q.From, q.To

	entries, err := h.Schedules.List(c.UserContext(), f)
	if err != nil {
		return toHTTPError(err, "failed to list schedule")
	}
	return c.JSON(fiber.Map{"userId": userID, "entries": entries})
}

func (h Handlers) getOverview(c *fiber.Ctx) error {
	userID, err := idParam(c, "userId")
	if err != nil {
		return err
	}
	q := overviewQuery{Days: schedule.DefaultWindowDays}
	if err := q.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	days, err := h.Overviews.Build(c.UserContext(), userID, q.Days)
	if err != nil {
		return toHTTPError(err, "failed to build schedule overview")
	}
	return c.JSON(fiber.Map{"userId": userID, "schedule": days})
}

func (h Handlers) upcoming(c *fiber.Ctx) error {
	userID, err := idParam(c, "userId")
	if err != nil {
		return err
	}
	q := upcomingQuery{Days: 7}
	if err := q.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	from := h.today()
	to := from.AddDate(0, 0, q.Days-1)
	entries, err := h.Schedules.List(c.UserContext(), schedule.Filter{UserID: userID, From: &from, To: &to, PendingOnly: true})
	if err != nil {
		return toHTTPError(err, "failed to list upcoming waterings")
	}
	return c.JSON(fiber.Map{"userId": userID, "days": q.Days, "entries": entries})
}

func (h Handlers) syncSchedule(c *fiber.Ctx) error {
	userID, err := idParam(c, "userId")
	if err != nil {
		return err
	}
	rep, err := h.Reconciler.SyncMembership(c.UserContext(), userID)
	if err != nil {
		return toHTTPError(err, "failed to sync schedule")
	}
	return c.JSON(rep)
}

func (h Handlers) completeEntry(c *fiber.Ctx) error {
	res, err := h.Reconciler.Complete(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err, "failed to complete watering")
	}
	return c.JSON(res)
}

func (h Handlers) deleteEntry(c *fiber.Ctx) error {
	if err := h.Schedules.Delete(c.UserContext(), c.Params("id")); err != nil {
		return toHTTPError(err, "failed to delete schedule entry")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func idParam(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
