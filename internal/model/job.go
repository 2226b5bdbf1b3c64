package model

import (
	"encoding/json"
	"time"
)

// JobType identifies which queue a job belongs to and which payload
// shape it carries. The set is closed; DecodePayload and the manager's
// handler registry switch over it exhaustively.
type JobType string

const (
	JobTypeBlueprintGeneration JobType = "blueprint_generation"
	JobTypeAIProcessing        JobType = "ai_processing"
	JobTypeExportGeneration    JobType = "export_generation"
	JobTypeCacheWarming        JobType = "cache_warming"
	JobTypeAnalyticsProcessing JobType = "analytics_processing"
	JobTypeCleanupTasks        JobType = "cleanup_tasks"
)

var ValidJobTypes = []JobType{
	JobTypeBlueprintGeneration,
	JobTypeAIProcessing,
	JobTypeExportGeneration,
	JobTypeCacheWarming,
	JobTypeAnalyticsProcessing,
	JobTypeCleanupTasks,
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	for _, known := range ValidJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Job status
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobPriority orders jobs within one queue. Higher values are dequeued
// first; ties are FIFO.
type JobPriority int

const (
	PriorityLow      JobPriority = 1
	PriorityNormal   JobPriority = 5
	PriorityHigh     JobPriority = 10
	PriorityCritical JobPriority = 20
)

func (p JobPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// ParseJobPriority maps the wire form to a priority. Unknown or empty
// input falls back to normal.
func ParseJobPriority(s string) JobPriority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// BackoffKind selects how the retry delay grows between attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff describes the delay applied before re-running a failed job.
type Backoff struct {
	Kind      BackoffKind   `json:"kind"`
	BaseDelay time.Duration `json:"baseDelay"`
}

// Job represents one unit of asynchronous work tracked by the manager.
type Job struct {
	ID            string          `json:"id"`
	Type          JobType         `json:"type"`
	Payload       JobPayload      `json:"-"`
	Priority      JobPriority     `json:"priority"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	Backoff       Backoff         `json:"backoff"`
	Timeout       time.Duration   `json:"timeout"`
	Delay         time.Duration   `json:"delay,omitempty"`
	Status        JobStatus       `json:"status"`
	Progress      int             `json:"progress"`
	CurrentStep   string          `json:"currentStep,omitempty"`
	Stalled       bool            `json:"stalled,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason *string         `json:"failureReason,omitempty"`
}

// JobOptions are the caller-overridable knobs of Enqueue. Zero values
// mean "use the manager default".
type JobOptions struct {
	Priority    JobPriority   `json:"priority,omitempty"`
	MaxAttempts int           `json:"maxAttempts,omitempty"`
	Backoff     *Backoff      `json:"backoff,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"`
}

// QueueStats is an atomic snapshot of one queue. Total always equals
// the sum of the other five fields.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}
