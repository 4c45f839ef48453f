// Package scheduler runs periodic jobs next to the listener: the client
// keep-alive and user tasks, on cron expressions or fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// TaskFunc is the signature of every scheduled task. The context is
// cancelled when the scheduler stops.
type TaskFunc func(ctx context.Context) error

// Task describes one job. Exactly one of Schedule (cron, seconds field
// allowed) or Interval must be set.
type Task struct {
	Name     string
	Schedule string
	Interval time.Duration
	Func     TaskFunc
}

func (t Task) validate() error {
	switch {
	case t.Name == "":
		return errors.New("task name is empty")
	case t.Func == nil:
		return fmt.Errorf("task %q has no function", t.Name)
	case t.Schedule == "" && t.Interval <= 0:
		return fmt.Errorf("task %q has neither schedule nor interval", t.Name)
	case t.Schedule != "" && t.Interval > 0:
		return fmt.Errorf("task %q has both schedule and interval", t.Name)
	}
	return nil
}

// Scheduler manages scheduled tasks using the gocron library.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger

	mu      sync.Mutex
	tasks   []Task
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogger{log}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    log,
	}, nil
}

// Add registers a task. Tasks added after Start are scheduled immediately.
func (s *Scheduler) Add(task Task) error {
	if err := task.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.Name == task.Name {
			return fmt.Errorf("task %q already registered", task.Name)
		}
	}
	s.tasks = append(s.tasks, task)
	if s.running {
		return s.schedule(task)
	}
	return nil
}

// Tasks returns the names of the registered tasks in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for _, t := range s.tasks {
		names = append(names, t.Name)
	}
	return names
}

// Start schedules every registered task and starts ticking. ctx is the
// parent of every task context.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.running = true

	scheduled := 0
	for _, task := range s.tasks {
		if err := s.schedule(task); err != nil {
			s.logger.Error("Failed to schedule task", "task_name", task.Name, "error", err)
			continue
		}
		scheduled++
	}

	s.scheduler.Start()
	s.logger.Info("Scheduler started", "tasks_scheduled", scheduled)
	return nil
}

// schedule creates the gocron job for task. Callers hold s.mu.
func (s *Scheduler) schedule(task Task) error {
	ctx := s.runCtx
	var def gocron.JobDefinition
	if task.Schedule != "" {
		def = gocron.CronJob(task.Schedule, true)
	} else {
		def = gocron.DurationJob(task.Interval)
	}

	_, err := s.scheduler.NewJob(
		def,
		gocron.NewTask(func() { s.run(ctx, task) }),
		gocron.WithName(task.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule task %q: %w", task.Name, err)
	}

	s.logger.Info("Scheduled task", "task_name", task.Name, "schedule", task.Schedule, "interval", task.Interval)
	return nil
}

func (s *Scheduler) run(ctx context.Context, task Task) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Debug("Running scheduled task", "task_name", task.Name)
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return task.Func(ctx)
	}()

	if err != nil {
		s.logger.Error("Scheduled task failed", "task_name", task.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("Finished scheduled task", "task_name", task.Name, "duration", time.Since(start))
}

// Stop cancels task contexts and waits for running jobs to complete. A
// stopped scheduler cannot be started again.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()
	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped")
	}

	s.running = false
	return err
}

// gocronLogger routes gocron's internal logs into slog.
type gocronLogger struct {
	log *slog.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any) { l.log.Info(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any) { l.log.Warn(msg, args...) }
