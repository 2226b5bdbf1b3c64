package scheduler

import "time"

// Status is a point-in-time view of the scheduler and its tasks.
type Status struct {
	IsStarted    bool         `json:"isStarted"`
	TotalTasks   int          `json:"totalTasks"`
	ActiveTasks  int          `json:"activeTasks"`
	RunningTasks int          `json:"runningTasks"`
	Tasks        []TaskStatus `json:"tasks"`
}

// TaskStatus describes one registered task.
type TaskStatus struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Enabled       bool       `json:"enabled"`
	IntervalMs    int64      `json:"intervalMs"`
	RetryAttempts int        `json:"retryAttempts"`
	IsRunning     bool       `json:"isRunning"`
	LastRun       *time.Time `json:"lastRun,omitempty"`
	NextRun       *time.Time `json:"nextRun,omitempty"`
}

// Status snapshots all tasks in one critical section.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Status{
		IsStarted:  s.started,
		TotalTasks: len(s.tasks),
		Tasks:      make([]TaskStatus, 0, len(s.tasks)),
	}
	for _, ts := range s.tasks {
		if ts.Schedule.Enabled {
			out.ActiveTasks++
		}
		if ts.isRunning {
			out.RunningTasks++
		}
		st := TaskStatus{
			Name:          ts.Name,
			Description:   ts.Description,
			Enabled:       ts.Schedule.Enabled,
			IntervalMs:    ts.Schedule.Interval.Milliseconds(),
			RetryAttempts: ts.Schedule.RetryAttempts,
			IsRunning:     ts.isRunning,
		}
		if !ts.lastRun.IsZero() {
			t := ts.lastRun
			st.LastRun = &t
		}
		if s.started && ts.Schedule.Enabled && !ts.nextRun.IsZero() {
			t := ts.nextRun
			st.NextRun = &t
		}
		out.Tasks = append(out.Tasks, st)
	}
	return out
}
