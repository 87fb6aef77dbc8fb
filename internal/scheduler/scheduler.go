// Package scheduler runs the periodic background work of the service: the
// weather refresh and the schedule reconciliation sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/i474232898/watering-scheduler/internal/metrics"
)

// State of a supervised task.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateBackoff   State = "backoff"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Task is a unit of periodic work. A failing run is retried after RetryDelay
// up to MaxAttempts times; the next tick starts a fresh run either way.
type Task struct {
	Name        string
	Interval    time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Run         func(ctx context.Context) error

	state   *atomic.String
	lastErr *atomic.Error
	runs    *atomic.Int64
}

func (t *Task) init() {
	t.state = atomic.NewString(string(StateIdle))
	t.lastErr = atomic.NewError(nil)
	t.runs = atomic.NewInt64(0)
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = 1
	}
}

// State returns the task's current state.
func (t *Task) State() State { return State(t.state.Load()) }

// LastError returns the error of the last failed attempt, if any.
func (t *Task) LastError() error { return t.lastErr.Load() }

// Runs returns how many times the task was started.
func (t *Task) Runs() int64 { return t.runs.Load() }

func (t *Task) setState(s State) { t.state.Store(string(s)) }

// Scheduler supervises Tasks on a gocron scheduler. Stop is the only
// cancellation entry point.
type Scheduler struct {
	cron   *gocron.Scheduler
	tasks  []*Task
	logger *zap.SugaredLogger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates a Scheduler. Nothing runs until Start.
func New(logger *zap.SugaredLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers t. Each task runs once at Start and then every Interval;
// runs of the same task never overlap.
func (s *Scheduler) Add(t *Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %q has no run function", t.Name)
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", t.Name)
	}
	t.init()

	if _, err := s.cron.Every(t.Interval).SingletonMode().Do(s.supervise, t); err != nil {
		return fmt.Errorf("schedule task %q: %w", t.Name, err)
	}
	s.tasks = append(s.tasks, t)
	s.logger.Infow("task scheduled", "task", t.Name, "interval", t.Interval.String(), "max_attempts", t.MaxAttempts)
	return nil
}

// Start begins running scheduled tasks in the background.
func (s *Scheduler) Start() {
	if len(s.tasks) == 0 {
		s.logger.Warn("scheduler: no tasks configured; nothing to schedule")
		return
	}
	s.cron.StartAsync()
}

// Stop cancels running tasks, stops the scheduler and waits for in-flight
// runs to return. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		s.cron.Stop()
		s.wg.Wait()
		for _, t := range s.tasks {
			t.setState(StateCancelled)
		}
		s.logger.Info("scheduler stopped")
	})
}

// States reports the state of every task by name.
func (s *Scheduler) States() map[string]State {
	out := make(map[string]State, len(s.tasks))
	for _, t := range s.tasks {
		out[t.Name] = t.State()
	}
	return out
}

func (s *Scheduler) supervise(t *Task) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	t.runs.Inc()
	for attempt := 1; attempt <= t.MaxAttempts; attempt++ {
		t.setState(StateRunning)
		start := time.Now()
		err := t.Run(s.ctx)
		if err == nil {
			t.setState(StateIdle)
			t.lastErr.Store(nil)
			metrics.TaskRunsTotal.WithLabelValues(t.Name, "success").Inc()
			s.logger.Debugw("task completed", "task", t.Name, "attempt", attempt, "duration", time.Since(start).String())
			return
		}
		if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			t.setState(StateCancelled)
			metrics.TaskRunsTotal.WithLabelValues(t.Name, "cancelled").Inc()
			return
		}

		t.lastErr.Store(err)
		s.logger.Warnw("task attempt failed", "task", t.Name, "attempt", attempt, "max_attempts", t.MaxAttempts, "error", err)
		if attempt == t.MaxAttempts {
			break
		}

		t.setState(StateBackoff)
		select {
		case <-s.ctx.Done():
			t.setState(StateCancelled)
			metrics.TaskRunsTotal.WithLabelValues(t.Name, "cancelled").Inc()
			return
		case <-time.After(t.RetryDelay):
		}
	}

	t.setState(StateFailed)
	metrics.TaskRunsTotal.WithLabelValues(t.Name, "failure").Inc()
	s.logger.Errorw("task failed; waiting for next tick", "task", t.Name, "error", t.LastError())
}
