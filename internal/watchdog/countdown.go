package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/porta/internal/clock"
	"github.com/roach88/porta/internal/session"
)

// DefaultTick is the foreground poll cadence.
const DefaultTick = time.Second

// Sessions is what the foreground countdown polls.
type Sessions interface {
	Expirer
	Snapshotter
}

// Countdown polls the live session while it is active, reporting the time
// left and expiring it at the deadline through the same path as Check.
type Countdown struct {
	Sessions Sessions
	Clock    clock.Clock
	Tick     time.Duration
	Logger   *slog.Logger

	// OnTick receives the remaining time after every poll.
	OnTick func(left time.Duration)
	// OnExpire runs once if this countdown performed the expiry.
	OnExpire func()
}

// Run blocks until the session is gone or terminal, or ctx ends. It
// returns ctx.Err() only on cancellation.
func (c *Countdown) Run(ctx context.Context) error {
	tick := c.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		done, err := c.poll(ctx, clk)
		if err != nil {
			logger.Warn("countdown poll failed", "error", err)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Countdown) poll(ctx context.Context, clk clock.Clock) (bool, error) {
	snap, err := c.Sessions.Snapshot(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if snap.Status.IsTerminal() {
		return true, nil
	}

	left := time.Duration(snap.TimeLeftAt(clock.Millis(clk.Now()))) * time.Millisecond
	if c.OnTick != nil {
		c.OnTick(left)
	}
	if left > 0 {
		return false, nil
	}

	expired, err := c.Sessions.ExpireIfOverdue(ctx)
	if err != nil {
		return false, err
	}
	if expired {
		if c.OnExpire != nil {
			c.OnExpire()
		}
		return true, nil
	}

	// Either another path finished it or the store's clock is still short
	// of the deadline; only the first ends the countdown.
	snap, err = c.Sessions.Snapshot(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return snap.Status.IsTerminal(), nil
}
