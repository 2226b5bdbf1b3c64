package handler

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ideaforge/api/internal/scheduler"
	"github.com/ideaforge/api/pkg/response"
)

// SchedulerHandler exposes the admin-gated scheduler control surface.
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
	validator *validator.Validate
}

func NewSchedulerHandler(s *scheduler.Scheduler, v *validator.Validate) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: s,
		validator: v,
	}
}

// UpdateScheduleRequest is the body of PATCH /api/admin/scheduler/tasks/:name.
type UpdateScheduleRequest struct {
	Enabled       *bool `json:"enabled,omitempty"`
	IntervalMs    *int  `json:"intervalMs,omitempty" validate:"omitempty,min=100"`
	MaxConcurrent *int  `json:"maxConcurrent,omitempty" validate:"omitempty,min=1"`
	RetryAttempts *int  `json:"retryAttempts,omitempty" validate:"omitempty,min=0"`
}

// Start handles POST /api/admin/scheduler/start
func (h *SchedulerHandler) Start(c *fiber.Ctx) error {
	h.scheduler.Start()
	return response.OK(c, fiber.Map{"isStarted": true})
}

// Stop handles POST /api/admin/scheduler/stop
func (h *SchedulerHandler) Stop(c *fiber.Ctx) error {
	h.scheduler.Stop()
	return response.OK(c, fiber.Map{"isStarted": false})
}

// Status handles GET /api/admin/scheduler/status
func (h *SchedulerHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, h.scheduler.Status())
}

// RunTask handles POST /api/admin/scheduler/tasks/:name/run
func (h *SchedulerHandler) RunTask(c *fiber.Ctx) error {
	name := c.Params("name")

	if err := h.scheduler.RunTaskNow(name); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			return response.NotFound(c, "Scheduled task not found")
		}
		if errors.Is(err, scheduler.ErrTaskAlreadyRunning) {
			return response.Conflict(c, response.CodeTaskRunning, "Task is already running")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"task": name, "executed": true})
}

// UpdateSchedule handles PATCH /api/admin/scheduler/tasks/:name
func (h *SchedulerHandler) UpdateSchedule(c *fiber.Ctx) error {
	name := c.Params("name")

	var req UpdateScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	patch := scheduler.SchedulePatch{
		Enabled:       req.Enabled,
		MaxConcurrent: req.MaxConcurrent,
		RetryAttempts: req.RetryAttempts,
	}
	if req.IntervalMs != nil {
		interval := time.Duration(*req.IntervalMs) * time.Millisecond
		patch.Interval = &interval
	}

	if err := h.scheduler.UpdateSchedule(name, patch); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			return response.NotFound(c, "Scheduled task not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"task": name, "updated": true})
}
