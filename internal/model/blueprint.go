package model

import (
	"encoding/json"
	"time"
)

// Durable record status. Mirrors the queue-side job lifecycle for
// blueprint generation so status survives process restarts.
type RecordStatus string

const (
	RecordStatusPending   RecordStatus = "pending"
	RecordStatusRunning   RecordStatus = "running"
	RecordStatusSucceeded RecordStatus = "succeeded"
	RecordStatusFailed    RecordStatus = "failed"
	RecordStatusCancelled RecordStatus = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s RecordStatus) Terminal() bool {
	return s == RecordStatusSucceeded || s == RecordStatusFailed || s == RecordStatusCancelled
}

// BlueprintRecord is the persisted mirror of a blueprint generation
// job. Its ID doubles as the queue-side job ID so the two
// representations never diverge.
type BlueprintRecord struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	ProjectID   string          `json:"projectId"`
	Status      RecordStatus    `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// ProjectBlueprint is the structured output of a blueprint generation
// job.
type ProjectBlueprint struct {
	ID         string            `json:"id"`
	ProjectID  string            `json:"projectId"`
	Title      string            `json:"title"`
	Summary    string            `json:"summary"`
	Modules    []BlueprintModule `json:"modules"`
	Milestones []Milestone       `json:"milestones"`
	TechStack  []string          `json:"techStack"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// BlueprintModule is one functional area of the blueprint.
type BlueprintModule struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tasks       []string `json:"tasks"`
}

// Milestone is a delivery checkpoint.
type Milestone struct {
	Name    string `json:"name"`
	DueWeek int    `json:"dueWeek"`
}
