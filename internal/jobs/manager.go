package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ideaforge/api/internal/model"
)

var (
	// ErrJobNotFound means neither the queue nor the durable record
	// knows the job ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrManagerClosed is returned for submissions after Shutdown.
	ErrManagerClosed = errors.New("job manager closed")
	// ErrInvalidOptions is a caller error in the submitted options.
	ErrInvalidOptions = errors.New("invalid job options")
)

// Notifier receives job lifecycle events. The websocket hub implements
// it in production; a nil notifier disables fan-out.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// RecordStore persists the durable mirror for blueprint generation
// jobs. Implemented by store.BlueprintStore.
type RecordStore interface {
	Create(ctx context.Context, rec *model.BlueprintRecord) error
	Get(ctx context.Context, id string) (*model.BlueprintRecord, error)
	MarkRunning(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress int, step string) error
	Complete(ctx context.Context, id string, output json.RawMessage) error
	Fail(ctx context.Context, id string, reason string) error
	Cancel(ctx context.Context, id string) error
}

// HandlerFunc performs the work for one job type. The returned value is
// marshalled into the job's result. Handlers must tolerate re-runs:
// retries execute the full handler again rather than resuming.
type HandlerFunc func(ctx context.Context, exec *Execution) (interface{}, error)

// Execution is the handler's view of the job it is running.
type Execution struct {
	ID      string
	Type    model.JobType
	Payload model.JobPayload
	Attempt int

	manager *Manager
}

// ReportProgress records handler progress. Values below the current
// progress are ignored so reads stay monotonic; 100 is reserved for
// completion and is capped here.
func (e *Execution) ReportProgress(ctx context.Context, progress int, step string) {
	if e.manager == nil {
		return
	}
	e.manager.setProgress(ctx, e.Type, e.ID, progress, step)
}

// Config carries the manager defaults merged under per-job options.
type Config struct {
	MaxAttempts int
	Backoff     model.Backoff
	Timeout     time.Duration
	// Retention keeps terminal jobs queryable in memory before
	// eviction. Blueprint jobs stay visible through their durable
	// record afterwards.
	Retention time.Duration
}

// DefaultConfig returns the stock defaults: 3 attempts, exponential
// backoff from 2s, 5 minute timeout, 24h retention.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     model.Backoff{Kind: model.BackoffExponential, BaseDelay: 2 * time.Second},
		Timeout:     5 * time.Minute,
		Retention:   24 * time.Hour,
	}
}

// Manager owns one priority queue and one worker goroutine per job
// type. Queue state is in-memory and authoritative; only blueprint
// generation is mirrored to the durable record store.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	queues   map[model.JobType]*queue
	handlers map[model.JobType]HandlerFunc
	records  RecordStore
	notifier Notifier

	seq     uint64
	started bool
	closed  bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager creates a stopped manager. records and notifier may be
// nil; handlers are registered before Start.
func NewManager(cfg Config, records RecordStore, notifier Notifier) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		queues:    make(map[model.JobType]*queue),
		handlers:  make(map[model.JobType]HandlerFunc),
		records:   records,
		notifier:  notifier,
		baseCtx:   ctx,
		cancelAll: cancel,
	}
	for _, t := range model.ValidJobTypes {
		m.queues[t] = newQueue(t)
	}
	return m
}

// RegisterHandler binds the worker function for one job type.
func (m *Manager) RegisterHandler(t model.JobType, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = fn
}

// Start launches one worker per job type. Every known type must have a
// handler registered; a missing handler is a wiring bug surfaced here.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	for _, t := range model.ValidJobTypes {
		if m.handlers[t] == nil {
			return fmt.Errorf("no handler registered for job type %q", t)
		}
	}
	m.started = true
	for _, q := range m.queues {
		m.wg.Add(1)
		go m.worker(q)
	}
	log.Printf("[jobs] manager started with %d queues", len(m.queues))
	return nil
}

// Shutdown stops accepting jobs, cancels in-flight work and waits for
// the workers up to the context deadline. In-flight jobs are abandoned,
// not drained.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, q := range m.queues {
		for _, e := range q.jobs {
			if e.delayTimer != nil {
				e.delayTimer.Stop()
			}
		}
	}
	m.mu.Unlock()

	m.cancelAll()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[jobs] manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job manager shutdown: %w", ctx.Err())
	}
}

// Enqueue validates the submission, creates the durable record for
// blueprint jobs, and inserts the job into its type's queue. It returns
// as soon as the job is queued; execution is asynchronous.
func (m *Manager) Enqueue(ctx context.Context, t model.JobType, payload model.JobPayload, opts model.JobOptions) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", model.ErrUnknownJobType, t)
	}
	if payload == nil || payload.PayloadType() != t {
		return "", fmt.Errorf("%w: payload does not match job type %q", ErrInvalidOptions, t)
	}
	merged, err := m.mergeOptions(opts)
	if err != nil {
		return "", err
	}

	jobID := uuid.New().String()
	if t == model.JobTypeBlueprintGeneration {
		if m.records == nil {
			return "", errors.New("blueprint generation requires a record store")
		}
		bp, ok := payload.(model.BlueprintGenerationPayload)
		if !ok {
			return "", fmt.Errorf("%w: unexpected blueprint payload type", ErrInvalidOptions)
		}
		input, err := json.Marshal(bp)
		if err != nil {
			return "", fmt.Errorf("marshal blueprint input: %w", err)
		}
		rec := &model.BlueprintRecord{
			ID:        jobID,
			UserID:    bp.UserID,
			ProjectID: bp.ProjectID,
			Status:    model.RecordStatusPending,
			Input:     input,
			CreatedAt: time.Now(),
		}
		if err := m.records.Create(ctx, rec); err != nil {
			return "", fmt.Errorf("create blueprint record: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrManagerClosed
	}

	job := &model.Job{
		ID:          jobID,
		Type:        t,
		Payload:     payload,
		Priority:    merged.Priority,
		MaxAttempts: merged.MaxAttempts,
		Backoff:     *merged.Backoff,
		Timeout:     merged.Timeout,
		Delay:       merged.Delay,
		Status:      model.JobStatusWaiting,
		CreatedAt:   time.Now(),
	}
	m.seq++
	e := &jobEntry{job: job, seq: m.seq}
	q := m.queues[t]
	q.jobs[jobID] = e

	if merged.Delay > 0 {
		job.Status = model.JobStatusDelayed
		e.delayTimer = time.AfterFunc(merged.Delay, func() { m.promote(q, e) })
	} else {
		q.push(e)
		q.signal()
	}
	return jobID, nil
}

// mergeOptions overlays caller options onto the manager defaults and
// validates the caller-controlled ranges.
func (m *Manager) mergeOptions(opts model.JobOptions) (model.JobOptions, error) {
	out := opts
	if out.Priority == 0 {
		out.Priority = model.PriorityNormal
	}
	if out.MaxAttempts == 0 {
		out.MaxAttempts = m.cfg.MaxAttempts
	}
	if out.MaxAttempts < 1 || out.MaxAttempts > 10 {
		return out, fmt.Errorf("%w: maxAttempts must be between 1 and 10", ErrInvalidOptions)
	}
	if out.Backoff == nil {
		b := m.cfg.Backoff
		out.Backoff = &b
	}
	if out.Backoff.Kind != model.BackoffFixed && out.Backoff.Kind != model.BackoffExponential {
		return out, fmt.Errorf("%w: unknown backoff kind %q", ErrInvalidOptions, out.Backoff.Kind)
	}
	if out.Backoff.BaseDelay <= 0 {
		out.Backoff.BaseDelay = m.cfg.Backoff.BaseDelay
	}
	if out.Timeout <= 0 {
		out.Timeout = m.cfg.Timeout
	}
	if out.Delay < 0 {
		return out, fmt.Errorf("%w: delay must not be negative", ErrInvalidOptions)
	}
	return out, nil
}

// Status returns the best-known state of a job. For blueprint
// generation a queue-evicted job is still resolvable through its
// durable record; only when both are absent is ErrJobNotFound returned.
func (m *Manager) Status(ctx context.Context, jobID string, t model.JobType) (*model.Job, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownJobType, t)
	}
	m.mu.Lock()
	if e, ok := m.queues[t].jobs[jobID]; ok {
		view := *e.job
		m.mu.Unlock()
		return &view, nil
	}
	m.mu.Unlock()

	if t == model.JobTypeBlueprintGeneration && m.records != nil {
		rec, err := m.records.Get(ctx, jobID)
		if err == nil && rec != nil {
			return recordToJob(rec), nil
		}
	}
	return nil, ErrJobNotFound
}

// Cancel removes a waiting or delayed job and best-effort cancels an
// active one. A missing or already-terminal job returns false without
// an error; that is the normal outcome for finished jobs.
func (m *Manager) Cancel(ctx context.Context, jobID string, t model.JobType) (bool, error) {
	if !t.Valid() {
		return false, fmt.Errorf("%w: %q", model.ErrUnknownJobType, t)
	}
	m.mu.Lock()
	e, ok := m.queues[t].jobs[jobID]
	if !ok || e.job.Status.Terminal() {
		m.mu.Unlock()
		return false, nil
	}
	now := time.Now()
	e.job.Status = model.JobStatusCancelled
	e.job.FinishedAt = &now
	if e.delayTimer != nil {
		e.delayTimer.Stop()
		e.delayTimer = nil
	}
	if e.cancel != nil {
		// Active job: the handler may still run to completion, but
		// its result will be discarded.
		e.cancel()
	}
	m.scheduleEviction(m.queues[t], jobID)
	m.mu.Unlock()

	log.Printf("[jobs] job %s (%s) cancelled", jobID, t)
	if t == model.JobTypeBlueprintGeneration && m.records != nil {
		if err := m.records.Cancel(ctx, jobID); err != nil {
			log.Printf("[jobs] failed to cancel blueprint record %s: %v", jobID, err)
		}
	}
	return true, nil
}

// QueueStats snapshots one queue under the lock, so the Total invariant
// holds at every observation.
func (m *Manager) QueueStats(t model.JobType) (model.QueueStats, error) {
	if !t.Valid() {
		return model.QueueStats{}, fmt.Errorf("%w: %q", model.ErrUnknownJobType, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues[t].stats(), nil
}

// AllQueueStats snapshots every queue in one critical section.
func (m *Manager) AllQueueStats() map[model.JobType]model.QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.JobType]model.QueueStats, len(m.queues))
	for t, q := range m.queues {
		out[t] = q.stats()
	}
	return out
}

// worker drains one queue until shutdown.
func (m *Manager) worker(q *queue) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		e := q.popWaiting()
		m.mu.Unlock()
		if e == nil {
			select {
			case <-q.wake:
				continue
			case <-m.baseCtx.Done():
				return
			}
		}
		m.runJob(q, e)
	}
}

// runJob executes one attempt of a job and applies the outcome
// transition.
func (m *Manager) runJob(q *queue, e *jobEntry) {
	m.mu.Lock()
	if e.job.Status != model.JobStatusWaiting {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	e.job.Status = model.JobStatusActive
	if e.job.StartedAt == nil {
		e.job.StartedAt = &now
	}
	e.job.Attempts++
	attempt := e.job.Attempts
	runCtx, cancel := context.WithTimeout(m.baseCtx, e.job.Timeout)
	e.cancel = cancel
	handler := m.handlers[q.jobType]
	exec := &Execution{
		ID:      e.job.ID,
		Type:    q.jobType,
		Payload: e.job.Payload,
		Attempt: attempt,
		manager: m,
	}
	m.mu.Unlock()

	if q.jobType == model.JobTypeBlueprintGeneration && m.records != nil && attempt == 1 {
		if err := m.records.MarkRunning(context.Background(), e.job.ID); err != nil {
			log.Printf("[jobs] failed to mark blueprint record %s running: %v", e.job.ID, err)
		}
	}

	result, err := handler(runCtx, exec)
	stalled := runCtx.Err() == context.DeadlineExceeded
	cancel()

	if err == nil && !stalled {
		m.completeJob(q, e, result)
		return
	}
	if err == nil {
		err = fmt.Errorf("job exceeded timeout of %s", e.job.Timeout)
	}
	m.failAttempt(q, e, err, stalled)
}

func (m *Manager) completeJob(q *queue, e *jobEntry, result interface{}) {
	data, err := json.Marshal(result)
	if err != nil {
		m.failAttempt(q, e, fmt.Errorf("marshal result: %w", err), false)
		return
	}

	m.mu.Lock()
	if e.job.Status != model.JobStatusActive {
		// Cancelled mid-run; the terminal state wins.
		m.mu.Unlock()
		return
	}
	now := time.Now()
	e.job.Status = model.JobStatusCompleted
	e.job.Progress = 100
	e.job.Result = data
	e.job.FinishedAt = &now
	e.cancel = nil
	q.completed++
	m.scheduleEviction(q, e.job.ID)
	m.mu.Unlock()

	log.Printf("[jobs] job %s (%s) completed after %d attempt(s)", e.job.ID, q.jobType, e.job.Attempts)
	if q.jobType == model.JobTypeBlueprintGeneration && m.records != nil {
		if err := m.records.Complete(context.Background(), e.job.ID, data); err != nil {
			log.Printf("[jobs] failed to complete blueprint record %s: %v", e.job.ID, err)
		}
	}
	if m.notifier != nil {
		m.notifier.BroadcastComplete(e.job.ID, json.RawMessage(data))
	}
}

// failAttempt either re-queues the job with backoff or finalizes it as
// failed. A stalled job (timeout) consumes an attempt like any failure
// but is flagged and reported distinctly.
func (m *Manager) failAttempt(q *queue, e *jobEntry, runErr error, stalled bool) {
	m.mu.Lock()
	if m.closed || e.job.Status != model.JobStatusActive {
		// Shutdown abandons in-flight jobs; a cancelled job keeps its
		// terminal state.
		m.mu.Unlock()
		return
	}
	e.cancel = nil
	e.job.Stalled = stalled

	if e.job.Attempts < e.job.MaxAttempts {
		delay := retryDelay(e.job.Backoff, e.job.Attempts)
		e.job.Status = model.JobStatusDelayed
		e.delayTimer = time.AfterFunc(delay, func() { m.promote(q, e) })
		m.mu.Unlock()
		if stalled {
			log.Printf("[jobs] job %s (%s) stalled on attempt %d/%d, retrying in %s",
				e.job.ID, q.jobType, e.job.Attempts, e.job.MaxAttempts, delay)
		} else {
			log.Printf("[jobs] job %s (%s) failed attempt %d/%d, retrying in %s: %v",
				e.job.ID, q.jobType, e.job.Attempts, e.job.MaxAttempts, delay, runErr)
		}
		return
	}

	now := time.Now()
	reason := runErr.Error()
	if stalled {
		reason = fmt.Sprintf("stalled: %s", reason)
	}
	e.job.Status = model.JobStatusFailed
	e.job.FailureReason = &reason
	e.job.FinishedAt = &now
	q.failed++
	m.scheduleEviction(q, e.job.ID)
	m.mu.Unlock()

	log.Printf("[jobs] job %s (%s) failed terminally after %d attempt(s): %v",
		e.job.ID, q.jobType, e.job.Attempts, runErr)
	if q.jobType == model.JobTypeBlueprintGeneration && m.records != nil {
		if err := m.records.Fail(context.Background(), e.job.ID, reason); err != nil {
			log.Printf("[jobs] failed to fail blueprint record %s: %v", e.job.ID, err)
		}
	}
	if m.notifier != nil {
		code := "JOB_FAILED"
		if stalled {
			code = "JOB_STALLED"
		}
		m.notifier.BroadcastError(e.job.ID, code, reason)
	}
}

// promote moves a delayed job back to waiting once its delay elapses.
func (m *Manager) promote(q *queue, e *jobEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || e.job.Status != model.JobStatusDelayed {
		return
	}
	e.job.Status = model.JobStatusWaiting
	e.delayTimer = nil
	q.push(e)
	q.signal()
}

// setProgress applies a monotonic progress update and mirrors it to the
// durable record and the notifier.
func (m *Manager) setProgress(ctx context.Context, t model.JobType, jobID string, progress int, step string) {
	if progress > 99 {
		progress = 99
	}
	m.mu.Lock()
	e, ok := m.queues[t].jobs[jobID]
	if !ok || e.job.Status != model.JobStatusActive || progress < e.job.Progress {
		m.mu.Unlock()
		return
	}
	e.job.Progress = progress
	e.job.CurrentStep = step
	m.mu.Unlock()

	if t == model.JobTypeBlueprintGeneration && m.records != nil {
		if err := m.records.UpdateProgress(ctx, jobID, progress, step); err != nil {
			log.Printf("[jobs] failed to update blueprint record %s: %v", jobID, err)
		}
	}
	if m.notifier != nil {
		m.notifier.BroadcastProgress(jobID, progress, model.JobStatusActive, step)
	}
}

// scheduleEviction drops a terminal job from the in-memory index after
// the retention window. Counters are untouched. Caller holds the lock.
func (m *Manager) scheduleEviction(q *queue, jobID string) {
	if m.cfg.Retention <= 0 {
		return
	}
	time.AfterFunc(m.cfg.Retention, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if e, ok := q.jobs[jobID]; ok && e.job.Status.Terminal() {
			delete(q.jobs, jobID)
		}
	})
}

// retryDelay computes the backoff before re-running a job that has
// failed `attempt` times. Exponential doubles per attempt, so each
// retry waits strictly longer than the previous one.
func retryDelay(b model.Backoff, attempt int) time.Duration {
	if b.Kind == model.BackoffFixed {
		return b.BaseDelay
	}
	return b.BaseDelay * time.Duration(1<<uint(attempt-1))
}

// recordToJob maps a durable record back into the queue-side view used
// by status queries after eviction.
func recordToJob(rec *model.BlueprintRecord) *model.Job {
	job := &model.Job{
		ID:          rec.ID,
		Type:        model.JobTypeBlueprintGeneration,
		Progress:    rec.Progress,
		CurrentStep: rec.CurrentStep,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.CompletedAt,
		Result:      rec.Output,
	}
	switch rec.Status {
	case model.RecordStatusPending:
		job.Status = model.JobStatusWaiting
	case model.RecordStatusRunning:
		job.Status = model.JobStatusActive
	case model.RecordStatusSucceeded:
		job.Status = model.JobStatusCompleted
	case model.RecordStatusFailed:
		job.Status = model.JobStatusFailed
		job.FailureReason = rec.Error
	case model.RecordStatusCancelled:
		job.Status = model.JobStatusCancelled
	}
	return job
}
