package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ideaforge/api/internal/jobs"
	"github.com/ideaforge/api/internal/model"
)

// ExportWorker renders a project blueprint into a downloadable
// artifact. File generation itself lives behind the export service; the
// worker produces the artifact descriptor.
type ExportWorker struct {
	stepDelay time.Duration
}

func NewExportWorker(stepDelay time.Duration) *ExportWorker {
	if stepDelay <= 0 {
		stepDelay = time.Second
	}
	return &ExportWorker{stepDelay: stepDelay}
}

var validExportFormats = map[string]string{
	"pdf":      "application/pdf",
	"markdown": "text/markdown",
	"json":     "application/json",
}

// Handle processes one export job.
func (w *ExportWorker) Handle(ctx context.Context, exec *jobs.Execution) (interface{}, error) {
	payload, ok := exec.Payload.(model.ExportGenerationPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", exec.Payload)
	}
	contentType, ok := validExportFormats[payload.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported export format %q", payload.Format)
	}

	exec.ReportProgress(ctx, 30, "Rendering document...")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(w.stepDelay):
	}

	exec.ReportProgress(ctx, 80, "Uploading artifact...")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(w.stepDelay):
	}

	exportID := uuid.New().String()
	return map[string]interface{}{
		"exportId":    exportID,
		"projectId":   payload.ProjectID,
		"format":      payload.Format,
		"contentType": contentType,
		"fileUrl":     fmt.Sprintf("https://cdn.ideaforge.dev/exports/%s/%s.%s", payload.ProjectID, exportID, payload.Format),
	}, nil
}
