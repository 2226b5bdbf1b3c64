package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideaforge/api/internal/jobs"
	"github.com/ideaforge/api/internal/middleware"
	"github.com/ideaforge/api/internal/model"
	"github.com/ideaforge/api/internal/scheduler"
)

const testSecret = "test-secret"

// fakeRecords is an in-memory jobs.RecordStore for handler tests.
type fakeRecords struct {
	mu   sync.Mutex
	recs map[string]*model.BlueprintRecord
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{recs: make(map[string]*model.BlueprintRecord)}
}

func (f *fakeRecords) Create(_ context.Context, rec *model.BlueprintRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.recs[rec.ID] = &cp
	return nil
}

func (f *fakeRecords) Get(_ context.Context, id string) (*model.BlueprintRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return nil, fmt.Errorf("record %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRecords) mutate(id string, fn func(*model.BlueprintRecord)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	fn(rec)
	return nil
}

func (f *fakeRecords) MarkRunning(_ context.Context, id string) error {
	return f.mutate(id, func(r *model.BlueprintRecord) { r.Status = model.RecordStatusRunning })
}

func (f *fakeRecords) UpdateProgress(_ context.Context, id string, progress int, step string) error {
	return f.mutate(id, func(r *model.BlueprintRecord) {
		r.Progress = progress
		r.CurrentStep = step
	})
}

func (f *fakeRecords) Complete(_ context.Context, id string, output json.RawMessage) error {
	return f.mutate(id, func(r *model.BlueprintRecord) {
		r.Status = model.RecordStatusSucceeded
		r.Progress = 100
		r.Output = output
	})
}

func (f *fakeRecords) Fail(_ context.Context, id string, reason string) error {
	return f.mutate(id, func(r *model.BlueprintRecord) {
		r.Status = model.RecordStatusFailed
		r.Error = &reason
	})
}

func (f *fakeRecords) Cancel(_ context.Context, id string) error {
	return f.mutate(id, func(r *model.BlueprintRecord) { r.Status = model.RecordStatusCancelled })
}

type testEnv struct {
	app        *fiber.App
	manager    *jobs.Manager
	userToken  string
	adminToken string
}

// newTestEnv wires the same route tree as the server, minus redis-backed
// pieces (rate limiter, websocket hub).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mgr := jobs.NewManager(jobs.Config{
		MaxAttempts: 1,
		Backoff:     model.Backoff{Kind: model.BackoffFixed, BaseDelay: 10 * time.Millisecond},
		Timeout:     2 * time.Second,
		Retention:   time.Hour,
	}, newFakeRecords(), nil)
	for _, jt := range model.ValidJobTypes {
		mgr.RegisterHandler(jt, func(_ context.Context, _ *jobs.Execution) (interface{}, error) {
			return map[string]string{"ok": "true"}, nil
		})
	}
	require.NoError(t, mgr.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	sched := scheduler.New(scheduler.Config{RetryDelay: time.Minute, TaskTimeout: time.Minute})
	t.Cleanup(sched.Stop)
	scheduler.RegisterBuiltins(sched, mgr, scheduler.BuiltinIntervals{})

	validate := validator.New()
	jobsHandler := NewJobsHandler(mgr, validate)
	schedulerHandler := NewSchedulerHandler(sched, validate)
	auth := middleware.NewAuthMiddleware(testSecret)

	app := fiber.New()
	api := app.Group("/api", auth.Authenticate())

	jobsGroup := api.Group("/jobs")
	jobsGroup.Post("/", jobsHandler.Submit)
	jobsGroup.Get("/", jobsHandler.Stats)
	jobsGroup.Get("/:jobId", jobsHandler.Status)
	jobsGroup.Delete("/:jobId", jobsHandler.Cancel)
	jobsGroup.Post("/:jobId", jobsHandler.Action)

	admin := api.Group("/admin", auth.RequireAdmin())
	schedGroup := admin.Group("/scheduler")
	schedGroup.Post("/start", schedulerHandler.Start)
	schedGroup.Post("/stop", schedulerHandler.Stop)
	schedGroup.Get("/status", schedulerHandler.Status)
	schedGroup.Post("/tasks/:name/run", schedulerHandler.RunTask)
	schedGroup.Patch("/tasks/:name", schedulerHandler.UpdateSchedule)

	userToken, err := auth.GenerateToken("user-1", "user@example.com", "")
	require.NoError(t, err)
	adminToken, err := auth.GenerateToken("admin-1", "admin@example.com", "admin")
	require.NoError(t, err)

	return &testEnv{app: app, manager: mgr, userToken: userToken, adminToken: adminToken}
}

func (e *testEnv) do(t *testing.T, method, target, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]interface{}) string {
	if e, ok := body["error"].(map[string]interface{}); ok {
		code, _ := e["code"].(string)
		return code
	}
	return ""
}

func TestSubmitJob(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/jobs/", env.userToken, fiber.Map{
		"type":    "cleanup_tasks",
		"payload": fiber.Map{"target": "cache"},
	})
	require.Equal(t, http.StatusAccepted, status)
	assert.NotEmpty(t, body["jobId"])
	assert.Equal(t, "cleanup_tasks", body["type"])
}

func TestSubmitDelayedJobReportsDelayed(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/jobs/", env.userToken, fiber.Map{
		"type":    "cache_warming",
		"payload": fiber.Map{"scope": "dashboard"},
		"options": fiber.Map{"delayMs": 60000},
	})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, string(model.JobStatusDelayed), body["status"])
}

func TestSubmitUnknownType(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/jobs/", env.userToken, fiber.Map{
		"type":    "video_rendering",
		"payload": fiber.Map{},
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))
}

func TestSubmitMissingPayload(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/jobs/", env.userToken, fiber.Map{
		"type": "cleanup_tasks",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))
}

func TestSubmitRejectsBadOptions(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/jobs/", env.userToken, fiber.Map{
		"type":    "cleanup_tasks",
		"payload": fiber.Map{"target": "cache"},
		"options": fiber.Map{"maxAttempts": 50},
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))
}

func TestJobStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/jobs/", env.userToken, fiber.Map{
		"type": "blueprint_generation",
		"payload": fiber.Map{
			"userId":       "user-1",
			"projectId":    "proj-1",
			"originalIdea": "a meal planning app",
		},
	})
	require.Equal(t, http.StatusAccepted, status)
	jobID := body["jobId"].(string)

	require.Eventually(t, func() bool {
		code, view := env.do(t, http.MethodGet, "/api/jobs/"+jobID+"?type=blueprint_generation", env.userToken, nil)
		return code == http.StatusOK && view["status"] == string(model.JobStatusCompleted)
	}, 5*time.Second, 20*time.Millisecond)

	code, view := env.do(t, http.MethodGet, "/api/jobs/"+jobID+"?type=blueprint_generation", env.userToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, jobID, view["jobId"])
	assert.EqualValues(t, 100, view["progress"])
	assert.NotNil(t, view["result"])
}

func TestJobStatusRequiresTypeQuery(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/jobs/some-id", env.userToken, nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))
}

func TestJobStatusNotFound(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/jobs/no-such-job?type=cleanup_tasks", env.userToken, nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestQueueStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/jobs/?type=cleanup_tasks", env.userToken, nil)
	require.Equal(t, http.StatusOK, status)
	stats, ok := body["stats"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 0, stats["total"])

	status, body = env.do(t, http.MethodGet, "/api/jobs/", env.userToken, nil)
	require.Equal(t, http.StatusOK, status)
	queues, ok := body["queues"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, queues, len(model.ValidJobTypes))
}

func TestCancelDelayedJob(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodPost, "/api/jobs/", env.userToken, fiber.Map{
		"type":    "cache_warming",
		"payload": fiber.Map{"scope": "dashboard"},
		"options": fiber.Map{"delayMs": 60000},
	})
	jobID := body["jobId"].(string)

	status, body := env.do(t, http.MethodDelete, "/api/jobs/"+jobID+"?type=cache_warming", env.userToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["cancelled"])

	code, view := env.do(t, http.MethodGet, "/api/jobs/"+jobID+"?type=cache_warming", env.userToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(model.JobStatusCancelled), view["status"])
}

func TestCancelUnknownJobReportsFalse(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodDelete, "/api/jobs/no-such-job?type=cleanup_tasks", env.userToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["cancelled"])
}

func TestUnimplementedActionsAnswer501(t *testing.T) {
	env := newTestEnv(t)

	for _, action := range []string{"retry", "pause", "resume"} {
		status, body := env.do(t, http.MethodPost, "/api/jobs/some-id", env.userToken, fiber.Map{
			"type":   "cleanup_tasks",
			"action": action,
		})
		require.Equal(t, http.StatusNotImplemented, status, action)
		assert.Equal(t, "NOT_IMPLEMENTED", errorCode(body))
	}
}

func TestActionCancel(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodPost, "/api/jobs/", env.userToken, fiber.Map{
		"type":    "analytics_processing",
		"payload": fiber.Map{"window": "30m"},
		"options": fiber.Map{"delayMs": 60000},
	})
	jobID := body["jobId"].(string)

	status, body := env.do(t, http.MethodPost, "/api/jobs/"+jobID, env.userToken, fiber.Map{
		"type":   "analytics_processing",
		"action": "cancel",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["cancelled"])
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/jobs/", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, body = env.do(t, http.MethodGet, "/api/jobs/", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestSchedulerRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/admin/scheduler/status", env.userToken, nil)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))
}

func TestSchedulerControlSurface(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/admin/scheduler/start", env.adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isStarted"])

	status, body = env.do(t, http.MethodGet, "/api/admin/scheduler/status", env.adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isStarted"])
	assert.EqualValues(t, 4, body["totalTasks"])

	status, body = env.do(t, http.MethodPost, "/api/admin/scheduler/stop", env.adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isStarted"])
}

func TestRunTaskEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/admin/scheduler/tasks/cache_warming/run", env.adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["executed"])

	status, body = env.do(t, http.MethodPost, "/api/admin/scheduler/tasks/nope/run", env.adminToken, nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestUpdateScheduleEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPatch, "/api/admin/scheduler/tasks/cache_warming", env.adminToken, fiber.Map{
		"enabled":    false,
		"intervalMs": 600000,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["updated"])

	status, body = env.do(t, http.MethodPatch, "/api/admin/scheduler/tasks/cache_warming", env.adminToken, fiber.Map{
		"intervalMs": 10,
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))

	status, body = env.do(t, http.MethodPatch, "/api/admin/scheduler/tasks/nope", env.adminToken, fiber.Map{
		"enabled": false,
	})
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}
