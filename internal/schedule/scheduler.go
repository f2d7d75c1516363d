// Package schedule runs named periodic jobs on independent cadences.
// A job whose previous invocation is still running has its next tick
// skipped, not queued, so slow upstream responses never pile up
// overlapping cycles.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one named periodic task.
type Job struct {
	name     string
	interval time.Duration
	fn       func(context.Context)

	mu        sync.Mutex
	lastRunAt time.Time
	isRunning bool
	runs      int
}

// Run implements cron.Job. Overlap protection comes from the
// SkipIfStillRunning chain; the flags here are for status reporting.
func (j *Job) Run() {
	j.mu.Lock()
	j.isRunning = true
	j.lastRunAt = time.Now()
	j.runs++
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.isRunning = false
		j.mu.Unlock()
	}()

	j.fn(context.Background())
}

// Status is a point-in-time view of one job.
type Status struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	LastRunAt time.Time     `json:"last_run_at"`
	IsRunning bool          `json:"is_running"`
	Runs      int           `json:"runs"`
}

// Scheduler owns all periodic jobs behind a single cron instance, so
// stopping the pipeline is "stop one scheduler", not "stop N timers".
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu   sync.Mutex
	jobs []*Job
}

// New builds a scheduler whose jobs skip overlapping runs and recover
// from panics.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := &cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		logger: logger,
	}
}

// Add registers a named job with its own cadence. Must be called before
// Start for a deterministic first tick, but is safe at any time.
func (s *Scheduler) Add(name string, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("schedule: job %q needs a positive interval", name)
	}
	job := &Job{name: name, interval: interval, fn: fn}
	if _, err := s.cron.AddJob(fmt.Sprintf("@every %s", interval), job); err != nil {
		return fmt.Errorf("schedule: failed to register job %q: %w", name, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Start launches the ticker loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.Statuses()))
}

// Stop halts ticking and returns a context that is done once in-flight
// jobs finish. Running jobs are allowed to complete, never cancelled.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Statuses reports all jobs for the health endpoint.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		out = append(out, Status{
			Name:      j.name,
			Interval:  j.interval,
			LastRunAt: j.lastRunAt,
			IsRunning: j.isRunning,
			Runs:      j.runs,
		})
		j.mu.Unlock()
	}
	return out
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	l.logger.Error(msg, args...)
}
