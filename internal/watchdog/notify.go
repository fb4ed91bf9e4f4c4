package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/porta/internal/clock"
	"github.com/roach88/porta/internal/ids"
	"github.com/roach88/porta/internal/session"
)

// Notification text shown when a session's deadline passes.
const (
	EndTitle = "Game over"
	EndBody  = "Open the app to see the result"
)

// Notifier schedules one-shot informational notifications. Delivering a
// notification never changes session state.
type Notifier interface {
	ScheduleAt(ctx context.Context, at time.Time, title, body string) (string, error)
	Cancel(ctx context.Context, id string) error
}

// LogNotifier "delivers" notifications by logging them when due.
type LogNotifier struct {
	logger *slog.Logger
	clock  clock.Clock
	ids    ids.Generator

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewLogNotifier returns a notifier writing to logger.
func NewLogNotifier(logger *slog.Logger, clk clock.Clock) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &LogNotifier{
		logger: logger,
		clock:  clk,
		ids:    ids.UUIDv7Generator{},
		timers: make(map[string]*time.Timer),
	}
}

// ScheduleAt fires no sooner than one second from now.
func (n *LogNotifier) ScheduleAt(_ context.Context, at time.Time, title, body string) (string, error) {
	delay := max(time.Second, at.Sub(n.clock.Now()))
	id := n.ids.Generate()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.timers[id] = time.AfterFunc(delay, func() {
		n.mu.Lock()
		delete(n.timers, id)
		n.mu.Unlock()
		n.logger.Info("notification", "title", title, "body", body)
	})
	return id, nil
}

// Cancel drops a pending notification. Unknown ids are an error.
func (n *LogNotifier) Cancel(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.timers[id]
	if !ok {
		return fmt.Errorf("cancel notification %q: not pending", id)
	}
	t.Stop()
	delete(n.timers, id)
	return nil
}

// Pending reports how many notifications have not fired yet.
func (n *LogNotifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.timers)
}

// ScheduleForSession registers the periodic expiry check and the end
// notification for snap. Re-registering the check is not an error.
func ScheduleForSession(ctx context.Context, sched Scheduler, notifier Notifier, sessions Expirer, snap session.Snapshot, interval time.Duration, logger *slog.Logger) (string, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	sched.Unregister(TaskName)
	if err := sched.Register(TaskName, interval, Task(sessions, logger)); err != nil {
		return "", fmt.Errorf("schedule watchdog: %w", err)
	}
	id, err := notifier.ScheduleAt(ctx, clock.FromMillis(snap.EndsAt), EndTitle, EndBody)
	if err != nil {
		return "", fmt.Errorf("schedule end notification: %w", err)
	}
	return id, nil
}

