package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ideaforge/api/internal/jobs"
	"github.com/ideaforge/api/internal/model"
)

// Built-in task names.
const (
	TaskCacheCleanup    = "cache_cleanup"
	TaskAnalyticsAgg    = "analytics_aggregation"
	TaskStaleJobCleanup = "stale_job_cleanup"
	TaskCacheWarming    = "cache_warming"
)

// BuiltinIntervals overrides the cadence of the built-in tasks; zero
// fields use the defaults (hourly cleanup, 30m analytics, daily stale
// job sweep, 15m warming).
type BuiltinIntervals struct {
	CacheCleanup    time.Duration
	Analytics       time.Duration
	StaleJobCleanup time.Duration
	CacheWarming    time.Duration
}

func (bi BuiltinIntervals) withDefaults() BuiltinIntervals {
	if bi.CacheCleanup <= 0 {
		bi.CacheCleanup = time.Hour
	}
	if bi.Analytics <= 0 {
		bi.Analytics = 30 * time.Minute
	}
	if bi.StaleJobCleanup <= 0 {
		bi.StaleJobCleanup = 24 * time.Hour
	}
	if bi.CacheWarming <= 0 {
		bi.CacheWarming = 15 * time.Minute
	}
	return bi
}

// RegisterBuiltins registers the recurring maintenance tasks. Each
// handler only submits a job to the manager; the scheduler itself never
// performs I/O.
func RegisterBuiltins(s *Scheduler, mgr *jobs.Manager, intervals BuiltinIntervals) {
	iv := intervals.withDefaults()

	s.AddTask(Task{
		Name:        TaskCacheCleanup,
		Description: "Remove expired cache entries",
		Schedule:    TaskSchedule{Enabled: true, Interval: iv.CacheCleanup, MaxConcurrent: 1, RetryAttempts: 1},
		Handler: submitJob(mgr, model.JobTypeCleanupTasks,
			model.CleanupPayload{Target: "cache"},
			model.JobOptions{Priority: model.PriorityLow}),
	})

	s.AddTask(Task{
		Name:        TaskAnalyticsAgg,
		Description: "Aggregate usage analytics",
		Schedule:    TaskSchedule{Enabled: true, Interval: iv.Analytics, MaxConcurrent: 1, RetryAttempts: 1},
		Handler: submitJob(mgr, model.JobTypeAnalyticsProcessing,
			model.AnalyticsProcessingPayload{Window: "30m"},
			model.JobOptions{Priority: model.PriorityNormal}),
	})

	s.AddTask(Task{
		Name:        TaskStaleJobCleanup,
		Description: "Delete stale job records",
		Schedule:    TaskSchedule{Enabled: true, Interval: iv.StaleJobCleanup, MaxConcurrent: 1, RetryAttempts: 1},
		Handler: submitJob(mgr, model.JobTypeCleanupTasks,
			model.CleanupPayload{Target: "stale_jobs", MaxAgeSec: int((24 * time.Hour).Seconds())},
			model.JobOptions{Priority: model.PriorityLow}),
	})

	s.AddTask(Task{
		Name:        TaskCacheWarming,
		Description: "Pre-warm dashboard caches",
		Schedule:    TaskSchedule{Enabled: true, Interval: iv.CacheWarming, MaxConcurrent: 1, RetryAttempts: 1},
		Handler: submitJob(mgr, model.JobTypeCacheWarming,
			model.CacheWarmingPayload{Scope: "dashboard"},
			model.JobOptions{Priority: model.PriorityNormal}),
	})
}

func submitJob(mgr *jobs.Manager, t model.JobType, payload model.JobPayload, opts model.JobOptions) TaskHandler {
	return func(ctx context.Context) error {
		if _, err := mgr.Enqueue(ctx, t, payload, opts); err != nil {
			return fmt.Errorf("enqueue %s: %w", t, err)
		}
		return nil
	}
}
