// Package worker runs periodic maintenance tasks in the background, with
// per-run timeouts, instrumentation hooks, and graceful shutdown handling.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskFunc performs one run of a periodic task.
type TaskFunc func(ctx context.Context) error

// Task is a named unit of periodic work.
type Task struct {
	Name string
	Run  TaskFunc
}

// Instrumentation provides hooks for monitoring task runs
type Instrumentation struct {
	OnStart    func(task string)
	OnComplete func(task string, duration time.Duration)
	OnFail     func(task string, err error, duration time.Duration)
}

// Stats holds worker statistics
type Stats struct {
	RunsStarted     int64
	RunsSucceeded   int64
	RunsFailed      int64
	ActiveRuns      int
	LastRunAt       time.Time
	LastFailureTask string
}

// Config holds worker configuration
type Config struct {
	// Interval is the time between runs of each task
	Interval time.Duration
	// TaskTimeout bounds a single run
	TaskTimeout time.Duration
	// ShutdownTimeout is the maximum time to wait for running tasks during shutdown
	ShutdownTimeout time.Duration
	// RunOnStart runs every task once as soon as the worker starts
	RunOnStart bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		TaskTimeout:     time.Minute,
		ShutdownTimeout: 30 * time.Second,
		RunOnStart:      true,
	}
}

// Worker runs registered tasks on a fixed interval until stopped.
type Worker struct {
	config          Config
	logger          *slog.Logger
	tasks           []Task
	instrumentation *Instrumentation

	wg      sync.WaitGroup
	stopCh  chan struct{}
	started bool
	stopped bool
	mu      sync.RWMutex

	// active tracks running task cancel funcs for shutdown
	active map[string]context.CancelFunc

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a new Worker instance
func New(config Config, logger *slog.Logger) *Worker {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config:          config,
		logger:          logger.With("component", "worker"),
		stopCh:          make(chan struct{}),
		active:          make(map[string]context.CancelFunc),
		instrumentation: &Instrumentation{},
	}
}

// SetInstrumentation sets the instrumentation hooks
func (w *Worker) SetInstrumentation(inst *Instrumentation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if inst == nil {
		inst = &Instrumentation{}
	}
	w.instrumentation = inst
}

// Register adds a task. Tasks registered after Start are ignored.
func (w *Worker) Register(name string, run TaskFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		w.logger.Warn("task registered after start, ignoring", "task", name)
		return
	}
	w.tasks = append(w.tasks, Task{Name: name, Run: run})
}

// Tasks returns the registered task names.
func (w *Worker) Tasks() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.tasks))
	for _, t := range w.tasks {
		names = append(names, t.Name)
	}
	return names
}

// Start launches one loop per registered task.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	tasks := append([]Task(nil), w.tasks...)
	w.mu.Unlock()

	for _, t := range tasks {
		w.wg.Add(1)
		go w.loop(ctx, t)
	}
	w.logger.Info("worker started", "tasks", len(tasks), "interval", w.config.Interval)
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped")
		return nil
	case <-shutdownCtx.Done():
		w.cancelActive()
		return errors.New("worker: shutdown timeout exceeded")
	}
}

// RunOnce runs every registered task a single time in registration order
// and returns the joined errors.
func (w *Worker) RunOnce(ctx context.Context) error {
	w.mu.RLock()
	tasks := append([]Task(nil), w.tasks...)
	w.mu.RUnlock()

	var errs []error
	for _, t := range tasks {
		if err := w.run(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) loop(ctx context.Context, t Task) {
	defer w.wg.Done()

	if w.config.RunOnStart {
		_ = w.run(ctx, t)
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			_ = w.run(ctx, t)
		}
	}
}

// run executes a single task run and records its outcome.
func (w *Worker) run(ctx context.Context, t Task) error {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	w.track(t.Name, cancel)
	defer w.untrack(t.Name)

	w.mu.RLock()
	inst := w.instrumentation
	w.mu.RUnlock()

	if inst.OnStart != nil {
		inst.OnStart(t.Name)
	}
	w.statsMu.Lock()
	w.stats.RunsStarted++
	w.statsMu.Unlock()

	err := t.Run(runCtx)
	duration := time.Since(start)

	w.statsMu.Lock()
	w.stats.LastRunAt = time.Now()
	if err != nil {
		w.stats.RunsFailed++
		w.stats.LastFailureTask = t.Name
	} else {
		w.stats.RunsSucceeded++
	}
	w.statsMu.Unlock()

	if err != nil {
		w.logger.Error("task failed", "task", t.Name, "duration", duration, "error", err)
		if inst.OnFail != nil {
			inst.OnFail(t.Name, err, duration)
		}
		return err
	}

	w.logger.Debug("task completed", "task", t.Name, "duration", duration)
	if inst.OnComplete != nil {
		inst.OnComplete(t.Name, duration)
	}
	return nil
}

func (w *Worker) track(name string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active[name] = cancel
}

func (w *Worker) untrack(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, name)
}

func (w *Worker) cancelActive() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, cancel := range w.active {
		w.logger.Warn("cancelling running task", "task", name)
		cancel()
	}
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() Stats {
	w.statsMu.RLock()
	stats := w.stats
	w.statsMu.RUnlock()

	w.mu.RLock()
	stats.ActiveRuns = len(w.active)
	w.mu.RUnlock()
	return stats
}
