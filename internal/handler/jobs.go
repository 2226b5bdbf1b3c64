package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ideaforge/api/internal/jobs"
	"github.com/ideaforge/api/internal/model"
	"github.com/ideaforge/api/pkg/response"
)

type JobsHandler struct {
	manager   *jobs.Manager
	validator *validator.Validate
}

func NewJobsHandler(mgr *jobs.Manager, v *validator.Validate) *JobsHandler {
	return &JobsHandler{
		manager:   mgr,
		validator: v,
	}
}

// SubmitJobRequest is the body of POST /api/jobs.
type SubmitJobRequest struct {
	Type    string            `json:"type" validate:"required"`
	Payload json.RawMessage   `json:"payload" validate:"required"`
	Options *SubmitJobOptions `json:"options,omitempty"`
}

// SubmitJobOptions overrides the manager defaults per job.
type SubmitJobOptions struct {
	Priority      string `json:"priority,omitempty" validate:"omitempty,oneof=low normal high critical"`
	MaxAttempts   int    `json:"maxAttempts,omitempty" validate:"omitempty,min=1,max=10"`
	BackoffKind   string `json:"backoffKind,omitempty" validate:"omitempty,oneof=fixed exponential"`
	BackoffBaseMs int    `json:"backoffBaseMs,omitempty" validate:"omitempty,min=1"`
	TimeoutMs     int    `json:"timeoutMs,omitempty" validate:"omitempty,min=1"`
	DelayMs       int    `json:"delayMs,omitempty" validate:"omitempty,min=0"`
}

// JobActionRequest is the body of POST /api/jobs/:id.
type JobActionRequest struct {
	Type   string `json:"type" validate:"required"`
	Action string `json:"action" validate:"required,oneof=cancel retry pause resume"`
}

// JobStatusView is the wire form of a job's state.
type JobStatusView struct {
	JobID         string          `json:"jobId"`
	Type          model.JobType   `json:"type"`
	Status        model.JobStatus `json:"status"`
	Priority      string          `json:"priority"`
	Progress      int             `json:"progress"`
	CurrentStep   string          `json:"currentStep,omitempty"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	Stalled       bool            `json:"stalled,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason *string         `json:"failureReason,omitempty"`
}

// Submit handles POST /api/jobs
func (h *JobsHandler) Submit(c *fiber.Ctx) error {
	var req SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if req.Options != nil {
		if err := h.validator.Struct(req.Options); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
	}

	jobType := model.JobType(req.Type)
	payload, err := model.DecodePayload(jobType, req.Payload)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	jobID, err := h.manager.Enqueue(c.Context(), jobType, payload, buildOptions(req.Options))
	if err != nil {
		if errors.Is(err, model.ErrUnknownJobType) || errors.Is(err, jobs.ErrInvalidOptions) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	status := model.JobStatusWaiting
	if req.Options != nil && req.Options.DelayMs > 0 {
		status = model.JobStatusDelayed
	}
	return response.Accepted(c, fiber.Map{
		"jobId":  jobID,
		"type":   jobType,
		"status": status,
	})
}

// Status handles GET /api/jobs/:jobId
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	jobType := model.JobType(c.Query("type"))
	if jobType == "" {
		return response.ValidationError(c, "Query parameter 'type' is required", nil)
	}

	job, err := h.manager.Status(c.Context(), jobID, jobType)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, model.ErrUnknownJobType) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, toStatusView(job))
}

// Stats handles GET /api/jobs
func (h *JobsHandler) Stats(c *fiber.Ctx) error {
	if t := c.Query("type"); t != "" {
		stats, err := h.manager.QueueStats(model.JobType(t))
		if err != nil {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.OK(c, fiber.Map{"type": t, "stats": stats})
	}
	return response.OK(c, fiber.Map{"queues": h.manager.AllQueueStats()})
}

// Cancel handles DELETE /api/jobs/:jobId
func (h *JobsHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	jobType := model.JobType(c.Query("type"))
	if jobType == "" {
		return response.ValidationError(c, "Query parameter 'type' is required", nil)
	}
	return h.cancel(c, jobID, jobType)
}

// Action handles POST /api/jobs/:jobId. Only cancel reaches the core;
// retry, pause and resume are recognized but intentionally
// unimplemented there, so they answer 501 instead of pretending to
// succeed.
func (h *JobsHandler) Action(c *fiber.Ctx) error {
	jobID := c.Params("jobId")

	var req JobActionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	switch req.Action {
	case "cancel":
		return h.cancel(c, jobID, model.JobType(req.Type))
	default:
		return response.NotImplemented(c, fmt.Sprintf("Action %q is not implemented", req.Action))
	}
}

func (h *JobsHandler) cancel(c *fiber.Ctx, jobID string, jobType model.JobType) error {
	cancelled, err := h.manager.Cancel(c.Context(), jobID, jobType)
	if err != nil {
		if errors.Is(err, model.ErrUnknownJobType) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{
		"jobId":     jobID,
		"cancelled": cancelled,
	})
}

func buildOptions(in *SubmitJobOptions) model.JobOptions {
	if in == nil {
		return model.JobOptions{}
	}
	out := model.JobOptions{
		MaxAttempts: in.MaxAttempts,
		Timeout:     time.Duration(in.TimeoutMs) * time.Millisecond,
		Delay:       time.Duration(in.DelayMs) * time.Millisecond,
	}
	if in.Priority != "" {
		out.Priority = model.ParseJobPriority(in.Priority)
	}
	if in.BackoffKind != "" || in.BackoffBaseMs > 0 {
		b := model.Backoff{
			Kind:      model.BackoffKind(in.BackoffKind),
			BaseDelay: time.Duration(in.BackoffBaseMs) * time.Millisecond,
		}
		if b.Kind == "" {
			b.Kind = model.BackoffExponential
		}
		out.Backoff = &b
	}
	return out
}

func toStatusView(job *model.Job) JobStatusView {
	return JobStatusView{
		JobID:         job.ID,
		Type:          job.Type,
		Status:        job.Status,
		Priority:      job.Priority.String(),
		Progress:      job.Progress,
		CurrentStep:   job.CurrentStep,
		Attempts:      job.Attempts,
		MaxAttempts:   job.MaxAttempts,
		Stalled:       job.Stalled,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		FinishedAt:    job.FinishedAt,
		Result:        job.Result,
		FailureReason: job.FailureReason,
	}
}

func formatValidationErrors(err error) []fiber.Map {
	var out []fiber.Map
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out = append(out, fiber.Map{
				"field": fe.Field(),
				"rule":  fe.Tag(),
			})
		}
	}
	return out
}
