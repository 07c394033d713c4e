// Package scheduler drives the periodic collector cycles. Each task runs
// on its own goroutine with its own interval: a slow or failing category
// never blocks the others. A cycle that overruns its interval skips the
// tick that fired meanwhile instead of queueing it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Task is one periodic cycle owned by the scheduler.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler runs registered tasks until stopped.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []Task
	skips   map[string]*atomic.Uint64
	logger  *zap.Logger
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// New creates an empty scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		skips:  make(map[string]*atomic.Uint64),
		logger: logger,
	}
}

// Add registers a task. Tasks added after Start are ignored until the
// next Start.
func (s *Scheduler) Add(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	s.skips[task.Name] = atomic.NewUint64(0)
}

// Start launches one goroutine per task. Each task runs once immediately
// and then on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(runCtx, task)
	}
}

// Stop cancels all task contexts and waits for in-flight cycles to
// return. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Skips returns how many ticks a task has skipped due to overrun.
func (s *Scheduler) Skips(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counter, ok := s.skips[name]; ok {
		return counter.Load()
	}
	return 0
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, task)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
			// A tick that queued up while the cycle overran would fire
			// immediately; drop it so overruns skip instead of stacking.
			select {
			case <-ticker.C:
				s.skip(task.Name)
			default:
			}
		}
	}
}

// runOnce executes a single cycle, containing panics so no task failure
// can take down the scheduler or other categories.
func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked, abandoned",
				zap.String("task", task.Name), zap.Any("panic", r))
		}
	}()
	task.Run(ctx)
}

func (s *Scheduler) skip(name string) {
	s.mu.Lock()
	counter := s.skips[name]
	s.mu.Unlock()
	if counter != nil {
		counter.Inc()
	}
	s.logger.Debug("cycle overran its interval, tick skipped", zap.String("task", name))
}
