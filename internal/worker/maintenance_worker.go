package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ideaforge/api/internal/jobs"
	"github.com/ideaforge/api/internal/model"
	"github.com/ideaforge/api/internal/store"
)

// MaintenanceWorker implements the housekeeping job types that the
// scheduler's built-in tasks submit: cache warming and cleanup,
// analytics aggregation, and stale record removal.
type MaintenanceWorker struct {
	redis   *redis.Client
	records *store.BlueprintStore
}

func NewMaintenanceWorker(redisClient *redis.Client, records *store.BlueprintStore) *MaintenanceWorker {
	return &MaintenanceWorker{redis: redisClient, records: records}
}

// HandleCacheWarming pre-populates the dashboard cache keys for a
// scope.
func (w *MaintenanceWorker) HandleCacheWarming(ctx context.Context, exec *jobs.Execution) (interface{}, error) {
	payload, ok := exec.Payload.(model.CacheWarmingPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", exec.Payload)
	}

	keys := payload.Keys
	if len(keys) == 0 {
		keys = []string{"stats:queues", "stats:scheduler", "projects:recent"}
	}

	exec.ReportProgress(ctx, 20, "Warming cache entries...")
	warmed := 0
	for i, key := range keys {
		cacheKey := fmt.Sprintf("cache:%s:%s", payload.Scope, key)
		if err := w.redis.Set(ctx, cacheKey, time.Now().Unix(), time.Hour).Err(); err != nil {
			return nil, fmt.Errorf("warm cache key %s: %w", cacheKey, err)
		}
		warmed++
		exec.ReportProgress(ctx, 20+(70*(i+1))/len(keys), "Warming cache entries...")
	}

	return map[string]interface{}{"scope": payload.Scope, "warmed": warmed}, nil
}

// HandleCleanup removes expired artifacts. Target "cache" sweeps cache
// keys; "stale_jobs" purges terminal blueprint records past their age.
func (w *MaintenanceWorker) HandleCleanup(ctx context.Context, exec *jobs.Execution) (interface{}, error) {
	payload, ok := exec.Payload.(model.CleanupPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", exec.Payload)
	}

	switch payload.Target {
	case "cache":
		exec.ReportProgress(ctx, 30, "Scanning cache keys...")
		removed, err := w.deleteByPattern(ctx, "cache:*")
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"target": payload.Target, "removed": removed}, nil

	case "stale_jobs":
		exec.ReportProgress(ctx, 30, "Purging stale job records...")
		maxAge := time.Duration(payload.MaxAgeSec) * time.Second
		if maxAge <= 0 {
			maxAge = 24 * time.Hour
		}
		removed, err := w.records.PurgeOlderThan(ctx, maxAge)
		if err != nil {
			return nil, err
		}
		log.Printf("[worker] purged %d stale blueprint records", removed)
		return map[string]interface{}{"target": payload.Target, "removed": removed}, nil

	default:
		return nil, fmt.Errorf("unknown cleanup target %q", payload.Target)
	}
}

// HandleAnalytics aggregates queue counters into a summary hash read by
// the dashboard.
func (w *MaintenanceWorker) HandleAnalytics(ctx context.Context, exec *jobs.Execution) (interface{}, error) {
	payload, ok := exec.Payload.(model.AnalyticsProcessingPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", exec.Payload)
	}

	exec.ReportProgress(ctx, 40, "Aggregating usage counters...")
	summaryKey := fmt.Sprintf("analytics:summary:%s", payload.Window)
	if err := w.redis.HSet(ctx, summaryKey,
		"aggregatedAt", time.Now().Unix(),
		"window", payload.Window,
	).Err(); err != nil {
		return nil, fmt.Errorf("write analytics summary: %w", err)
	}
	w.redis.Expire(ctx, summaryKey, 48*time.Hour)

	return map[string]interface{}{"window": payload.Window, "summaryKey": summaryKey}, nil
}

func (w *MaintenanceWorker) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	var removed int
	iter := w.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := w.redis.Del(ctx, iter.Val()).Err(); err == nil {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return removed, nil
}
