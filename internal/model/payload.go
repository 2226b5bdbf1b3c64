package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownJobType is returned for job types outside the closed set.
// It is a caller error and is never retried.
var ErrUnknownJobType = errors.New("unknown job type")

// JobPayload is the tagged-variant interface implemented by one payload
// struct per job type.
type JobPayload interface {
	PayloadType() JobType
}

// BlueprintGenerationPayload asks for a project blueprint to be
// generated from a short text idea. The only payload with a durable
// record mirror.
type BlueprintGenerationPayload struct {
	UserID       string `json:"userId"`
	ProjectID    string `json:"projectId"`
	OriginalIdea string `json:"originalIdea"`
	Title        string `json:"title,omitempty"`
}

func (BlueprintGenerationPayload) PayloadType() JobType { return JobTypeBlueprintGeneration }

// AIProcessingPayload is a generic AI call (refine, expand, summarize)
// against an existing project.
type AIProcessingPayload struct {
	UserID    string          `json:"userId"`
	ProjectID string          `json:"projectId"`
	Operation string          `json:"operation"`
	Input     json.RawMessage `json:"input,omitempty"`
}

func (AIProcessingPayload) PayloadType() JobType { return JobTypeAIProcessing }

// ExportGenerationPayload renders a project into a downloadable format.
type ExportGenerationPayload struct {
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
	Format    string `json:"format"`
}

func (ExportGenerationPayload) PayloadType() JobType { return JobTypeExportGeneration }

// CacheWarmingPayload pre-populates cache keys for a scope.
type CacheWarmingPayload struct {
	Scope string   `json:"scope"`
	Keys  []string `json:"keys,omitempty"`
}

func (CacheWarmingPayload) PayloadType() JobType { return JobTypeCacheWarming }

// AnalyticsProcessingPayload aggregates usage counters for a window.
type AnalyticsProcessingPayload struct {
	Window string `json:"window"`
}

func (AnalyticsProcessingPayload) PayloadType() JobType { return JobTypeAnalyticsProcessing }

// CleanupPayload removes expired artifacts of one target kind.
type CleanupPayload struct {
	Target    string `json:"target"`
	MaxAgeSec int    `json:"maxAgeSec,omitempty"`
}

func (CleanupPayload) PayloadType() JobType { return JobTypeCleanupTasks }

// DecodePayload unmarshals raw into the payload variant for t. The
// switch is exhaustive over ValidJobTypes; adding a type without a case
// here fails at the dispatch site, not at runtime.
func DecodePayload(t JobType, raw json.RawMessage) (JobPayload, error) {
	var (
		p   JobPayload
		err error
	)
	switch t {
	case JobTypeBlueprintGeneration:
		var v BlueprintGenerationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeAIProcessing:
		var v AIProcessingPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeExportGeneration:
		var v ExportGenerationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeCacheWarming:
		var v CacheWarmingPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeAnalyticsProcessing:
		var v AnalyticsProcessingPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeCleanupTasks:
		var v CleanupPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}
