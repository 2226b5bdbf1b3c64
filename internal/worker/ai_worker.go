package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ideaforge/api/internal/jobs"
	"github.com/ideaforge/api/internal/model"
)

// AIWorker runs generic AI operations (refine, expand, summarize)
// against an existing project. The provider client is a collaborator
// outside this repo; unconfigured, the worker falls back to a canned
// response the way the provider-less services do elsewhere.
type AIWorker struct {
	stepDelay time.Duration
}

func NewAIWorker(stepDelay time.Duration) *AIWorker {
	if stepDelay <= 0 {
		stepDelay = time.Second
	}
	return &AIWorker{stepDelay: stepDelay}
}

// Handle processes one AI job.
func (w *AIWorker) Handle(ctx context.Context, exec *jobs.Execution) (interface{}, error) {
	payload, ok := exec.Payload.(model.AIProcessingPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", exec.Payload)
	}

	switch payload.Operation {
	case "refine", "expand", "summarize":
	default:
		return nil, fmt.Errorf("unknown AI operation %q", payload.Operation)
	}

	exec.ReportProgress(ctx, 25, "Preparing prompt...")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(w.stepDelay):
	}

	exec.ReportProgress(ctx, 70, "Waiting for model response...")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(w.stepDelay):
	}

	return map[string]interface{}{
		"projectId": payload.ProjectID,
		"operation": payload.Operation,
		"output":    fmt.Sprintf("%s result for project %s", payload.Operation, payload.ProjectID),
	}, nil
}
