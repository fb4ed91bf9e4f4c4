package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/porta/internal/watchdog"
)

// WatchdogOptions holds flags for the watchdog command.
type WatchdogOptions struct {
	*RootOptions
	Every time.Duration
}

// NewWatchdogCommand creates the watchdog command.
func NewWatchdogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchdogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Expire an overdue session",
		Long: `Check the stored session and expire it if its deadline has passed.
Without --every the check runs once, which suits cron. With --every it
repeats until interrupted.

Example:
  porta watchdog
  porta watchdog --every 15m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchdog(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Every, "every", 0, "repeat the check at this interval")
	return cmd
}

func runWatchdog(opts *WatchdogOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := openRuntime(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	if opts.Every <= 0 {
		res := watchdog.Check(ctx, rt.sessions, rt.logger)
		if res == watchdog.Failed {
			_ = f.Error(CodeInternal, "watchdog check failed", nil)
			return NewExitError(ExitFailure, "watchdog check failed")
		}
		return f.Success(map[string]any{"result": res.String()}, "watchdog: "+res.String())
	}

	ctx, cancel := signalContext(ctx, rt.logger)
	defer cancel()

	sched := watchdog.NewTickerScheduler(ctx, rt.logger)
	defer sched.Close()
	if err := sched.Register(watchdog.TaskName, opts.Every, watchdog.Task(rt.sessions, rt.logger)); err != nil {
		return WrapExitError(ExitCommandError, "failed to schedule watchdog", err)
	}
	fmt.Fprintf(f.GetErrWriter(), "Watchdog running every %s. Press Ctrl-C to stop.\n", opts.Every)

	<-ctx.Done()
	rt.logger.Info("watchdog stopped")
	return nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
