package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	// ErrTaskNotFound means no task is registered under the name.
	ErrTaskNotFound = errors.New("scheduled task not found")
	// ErrTaskAlreadyRunning is returned when a manual run would
	// overlap an in-flight execution of the same task.
	ErrTaskAlreadyRunning = errors.New("scheduled task already running")
)

// TaskHandler is the recurring action. It typically enqueues jobs and
// must not assume it runs at exact interval boundaries.
type TaskHandler func(ctx context.Context) error

// TaskSchedule controls when and how a task runs.
type TaskSchedule struct {
	Enabled       bool          `json:"enabled"`
	Interval      time.Duration `json:"interval"`
	MaxConcurrent int           `json:"maxConcurrent"`
	RetryAttempts int           `json:"retryAttempts"`
}

// SchedulePatch is a partial schedule update; nil fields are left
// unchanged.
type SchedulePatch struct {
	Enabled       *bool
	Interval      *time.Duration
	MaxConcurrent *int
	RetryAttempts *int
}

// Task is a named recurring unit of scheduler-owned work.
type Task struct {
	Name        string
	Description string
	Schedule    TaskSchedule
	Handler     TaskHandler
}

// taskState adds the runtime bookkeeping to a registered task. All
// fields are guarded by the scheduler mutex; isRunning is true only
// while the handler executes.
type taskState struct {
	Task
	lastRun    time.Time
	nextRun    time.Time
	isRunning  bool
	timer      *time.Timer
	retryTimer *time.Timer
}

// Config carries scheduler-wide knobs. RetryDelay is the fixed wait
// before the single retry of a failed task run.
type Config struct {
	RetryDelay  time.Duration
	TaskTimeout time.Duration
}

// DefaultConfig matches production behavior: one retry after 5
// minutes, 5 minute handler budget.
func DefaultConfig() Config {
	return Config{
		RetryDelay:  5 * time.Minute,
		TaskTimeout: 5 * time.Minute,
	}
}

// Scheduler drives a registry of recurring tasks with per-task one-shot
// timers that re-arm after every run. A task never overlaps itself:
// ticks that fire while the handler is running are dropped, not
// buffered.
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	tasks   map[string]*taskState
	started bool
}

func New(cfg Config) *Scheduler {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	return &Scheduler{
		cfg:   cfg,
		tasks: make(map[string]*taskState),
	}
}

// AddTask registers a task. A duplicate name replaces the existing
// task, with a warning; the old task's timers are cancelled first. When
// the scheduler is already started and the task is enabled, its timer
// is armed immediately.
func (s *Scheduler) AddTask(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tasks[task.Name]; ok {
		log.Printf("[scheduler] replacing existing task %q", task.Name)
		stopTimersLocked(old)
	}
	ts := &taskState{Task: task}
	s.tasks[task.Name] = ts
	if s.started && ts.Schedule.Enabled {
		s.armLocked(ts)
	}
}

// RemoveTask unregisters a task and clears any pending timers.
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.tasks[name]; ok {
		stopTimersLocked(ts)
		delete(s.tasks, name)
		log.Printf("[scheduler] removed task %q", name)
	}
}

// UpdateSchedule merges the patch into the task's schedule. When the
// scheduler is running, the pending timer is cancelled and re-armed
// with the new interval; an execution already in flight is unaffected.
func (s *Scheduler) UpdateSchedule(name string, patch SchedulePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tasks[name]
	if !ok {
		return ErrTaskNotFound
	}
	if patch.Enabled != nil {
		ts.Schedule.Enabled = *patch.Enabled
	}
	if patch.Interval != nil {
		ts.Schedule.Interval = *patch.Interval
	}
	if patch.MaxConcurrent != nil {
		ts.Schedule.MaxConcurrent = *patch.MaxConcurrent
	}
	if patch.RetryAttempts != nil {
		ts.Schedule.RetryAttempts = *patch.RetryAttempts
	}
	if s.started {
		stopTimersLocked(ts)
		if ts.Schedule.Enabled {
			s.armLocked(ts)
		}
	}
	return nil
}

// Start arms a timer for every enabled task. Calling Start on a started
// scheduler is a logged no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		log.Printf("[scheduler] already started")
		return
	}
	s.started = true
	for _, ts := range s.tasks {
		if ts.Schedule.Enabled {
			s.armLocked(ts)
		}
	}
	log.Printf("[scheduler] started with %d tasks", len(s.tasks))
}

// Stop clears every timer without running any task. In-flight handlers
// finish on their own; their completion does not re-arm anything once
// stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		log.Printf("[scheduler] already stopped")
		return
	}
	s.started = false
	for _, ts := range s.tasks {
		stopTimersLocked(ts)
	}
	log.Printf("[scheduler] stopped")
}

// RunTaskNow executes a task immediately, bypassing its timer but not
// the overlap guard. The task's regular schedule is untouched.
func (s *Scheduler) RunTaskNow(name string) error {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	if ts.isRunning {
		s.mu.Unlock()
		return ErrTaskAlreadyRunning
	}
	ts.isRunning = true
	ts.lastRun = time.Now()
	s.mu.Unlock()

	err := s.invoke(ts.Handler)

	s.mu.Lock()
	ts.isRunning = false
	s.mu.Unlock()

	if err != nil {
		log.Printf("[scheduler] manual run of %q failed: %v", name, err)
		return err
	}
	log.Printf("[scheduler] manual run of %q completed", name)
	return nil
}

// tick is the per-task timer callback. An overlapping tick is dropped
// entirely but the next one is still armed.
func (s *Scheduler) tick(name string) {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	if !ok || !s.started || !ts.Schedule.Enabled {
		s.mu.Unlock()
		return
	}
	if ts.isRunning {
		log.Printf("[scheduler] task %q still running, skipping tick", name)
		s.armLocked(ts)
		s.mu.Unlock()
		return
	}
	ts.isRunning = true
	ts.lastRun = time.Now()
	handler := ts.Handler
	retryAllowed := ts.Schedule.RetryAttempts > 0
	s.mu.Unlock()

	err := s.invoke(handler)

	s.mu.Lock()
	ts.isRunning = false
	if s.started && ts.Schedule.Enabled {
		s.armLocked(ts)
	}
	if err != nil && retryAllowed {
		delay := s.cfg.RetryDelay
		ts.retryTimer = time.AfterFunc(delay, func() { s.retryRun(name) })
		s.mu.Unlock()
		log.Printf("[scheduler] task %q failed, retrying once in %s: %v", name, delay, err)
		return
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("[scheduler] task %q failed, no retry configured: %v", name, err)
	} else {
		log.Printf("[scheduler] task %q completed", name)
	}
}

// retryRun is the one-shot retry after a failed tick. It is depth one:
// a failure here waits for the next regular tick.
func (s *Scheduler) retryRun(name string) {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	if !ok || !s.started {
		s.mu.Unlock()
		return
	}
	if ts.isRunning {
		s.mu.Unlock()
		log.Printf("[scheduler] task %q running, skipping retry", name)
		return
	}
	ts.isRunning = true
	ts.lastRun = time.Now()
	ts.retryTimer = nil
	handler := ts.Handler
	s.mu.Unlock()

	err := s.invoke(handler)

	s.mu.Lock()
	ts.isRunning = false
	s.mu.Unlock()

	if err != nil {
		log.Printf("[scheduler] retry of task %q failed, waiting for next tick: %v", name, err)
	} else {
		log.Printf("[scheduler] retry of task %q completed", name)
	}
}

func (s *Scheduler) invoke(handler TaskHandler) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()
	return handler(ctx)
}

// armLocked schedules the next tick. Exactly one pending trigger exists
// per task. Caller holds the lock.
func (s *Scheduler) armLocked(ts *taskState) {
	if ts.timer != nil {
		ts.timer.Stop()
	}
	name := ts.Name
	ts.nextRun = time.Now().Add(ts.Schedule.Interval)
	ts.timer = time.AfterFunc(ts.Schedule.Interval, func() { s.tick(name) })
}

func stopTimersLocked(ts *taskState) {
	if ts.timer != nil {
		ts.timer.Stop()
		ts.timer = nil
	}
	if ts.retryTimer != nil {
		ts.retryTimer.Stop()
		ts.retryTimer = nil
	}
}
