package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrAlreadyRegistered = errors.New("task already registered")
	ErrSchedulerClosed   = errors.New("scheduler closed")
)

// TaskFunc is one invocation of a periodic task.
type TaskFunc func(ctx context.Context) Result

// Scheduler runs named tasks no more often than their minimum interval.
type Scheduler interface {
	Register(name string, minInterval time.Duration, fn TaskFunc) error
	Unregister(name string) bool
}

// TickerScheduler runs each registered task on its own ticker goroutine
// until it is unregistered or the scheduler is closed.
type TickerScheduler struct {
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTickerScheduler returns a scheduler whose tasks stop when ctx ends.
func NewTickerScheduler(ctx context.Context, logger *slog.Logger) *TickerScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &TickerScheduler{
		logger: logger,
		tasks:  make(map[string]context.CancelFunc),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register starts fn on a ticker of minInterval. The first run happens
// after one interval.
func (s *TickerScheduler) Register(name string, minInterval time.Duration, fn TaskFunc) error {
	if minInterval <= 0 {
		return fmt.Errorf("register %q: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrAlreadyRegistered)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.tasks[name] = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, name, minInterval, fn)
	}()
	s.logger.Debug("task registered", "task", name, "interval", minInterval)
	return nil
}

// Unregister stops the named task. It reports whether the task existed.
func (s *TickerScheduler) Unregister(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.tasks[name]
	if ok {
		cancel()
		delete(s.tasks, name)
	}
	return ok
}

// Close stops every task and waits for in-flight runs to return.
func (s *TickerScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.tasks = map[string]context.CancelFunc{}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *TickerScheduler) run(ctx context.Context, name string, interval time.Duration, fn TaskFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := fn(ctx)
			s.logger.Debug("task ran", "task", name, "result", res.String())
		}
	}
}
