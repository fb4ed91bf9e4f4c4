// Package watchdog force-expires overdue sessions outside the interactive
// loop. Check is the single expiry path shared by the background scheduler
// and the foreground Countdown; both go through SessionStore.ExpireIfOverdue
// so whichever observes the deadline first wins and the other is a no-op.
package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/porta/internal/session"
)

const (
	// TaskName identifies the periodic expiry check.
	TaskName = "session-tick"

	// DefaultInterval is the coarse background cadence.
	DefaultInterval = 15 * time.Minute
)

// Result is reported back to the scheduler after each invocation.
type Result int

const (
	NoData Result = iota
	NewData
	Failed
)

func (r Result) String() string {
	switch r {
	case NewData:
		return "new_data"
	case Failed:
		return "failed"
	default:
		return "no_data"
	}
}

// Expirer is the slice of the session store the watchdog needs.
type Expirer interface {
	ExpireIfOverdue(ctx context.Context) (bool, error)
}

// Snapshotter reads the current session.
type Snapshotter interface {
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

// Check runs one expiry pass. A missing session is not a failure.
func Check(ctx context.Context, sessions Expirer, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}
	expired, err := sessions.ExpireIfOverdue(ctx)
	switch {
	case errors.Is(err, session.ErrNoSession):
		return NoData
	case err != nil:
		logger.Warn("watchdog check failed", "error", err)
		return Failed
	case expired:
		logger.Info("watchdog expired session")
		return NewData
	default:
		return NoData
	}
}

// Task returns the scheduler callback for sessions.
func Task(sessions Expirer, logger *slog.Logger) TaskFunc {
	return func(ctx context.Context) Result {
		return Check(ctx, sessions, logger)
	}
}
