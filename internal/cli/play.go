package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/porta/internal/clock"
	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/game"
	"github.com/roach88/porta/internal/session"
	"github.com/roach88/porta/internal/watchdog"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Difficulty string
	Duration   time.Duration
}

// NewPlayCommand creates the interactive play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play interactively",
		Long: `Resume the running contract or pick a new one, then type attempts line by
line. The session expires on its deadline even while waiting for input.

Example:
  porta play
  porta play --difficulty hard`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Difficulty, "difficulty", "", "start a contract at this difficulty without the menu")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "contract length (default PORTA_CONTRACT_DURATION)")
	return cmd
}

func runPlay(opts *PlayOptions, cmd *cobra.Command) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	rt, err := openRuntime(parent, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext(parent, rt.logger)
	defer cancel()

	clk := clock.System{}
	w := cmd.OutOrStdout()
	lines := readLines(ctx, cmd.InOrStdin())

	snap, err := rt.sessions.Snapshot(ctx)
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return WrapExitError(ExitCommandError, "play", err)
	}
	if err == nil && snap.Status.IsTerminal() {
		if _, err := rt.game.ReturnHome(ctx); err != nil {
			return WrapExitError(ExitCommandError, "play", err)
		}
	}
	if err != nil || snap.Status.IsTerminal() {
		snap, err = choose(ctx, opts, rt, w, lines)
		if err != nil {
			return err
		}
		if snap.ID == "" {
			return nil
		}
	} else {
		fmt.Fprintf(w, "Resuming session %s (%s).\n", snap.ID, snap.Level)
	}
	printTask(ctx, rt, w)

	sched := watchdog.NewTickerScheduler(ctx, rt.logger)
	defer sched.Close()
	notifier := watchdog.NewLogNotifier(rt.logger, clk)
	noteID, err := watchdog.ScheduleForSession(ctx, sched, notifier, rt.sessions, snap, opts.Config.WatchdogInterval, rt.logger)
	if err != nil {
		rt.logger.Warn("could not schedule watchdog", "error", err)
	}
	defer func() {
		if noteID != "" {
			_ = notifier.Cancel(context.Background(), noteID)
		}
	}()

	expired := make(chan struct{})
	var once sync.Once
	countdown := &watchdog.Countdown{
		Sessions: rt.sessions,
		Clock:    clk,
		Logger:   rt.logger,
		OnExpire: func() { once.Do(func() { close(expired) }) },
	}
	cdCtx, stopCountdown := context.WithCancel(ctx)
	defer stopCountdown()
	go func() { _ = countdown.Run(cdCtx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-expired:
			fmt.Fprintln(w, session.ExpiredMessage)
			return nil
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			out, err := rt.game.SubmitInput(ctx, text)
			if errors.Is(err, session.ErrNoSession) {
				return nil
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "submit", err)
			}
			// The echo line is what the player just typed.
			for _, line := range out.Lines[1:] {
				fmt.Fprintln(w, line)
			}
			if out.Status.IsTerminal() {
				fmt.Fprintln(w, finishLine(out.Status))
				return nil
			}
			if len(out.Lines) > 1 && out.Lines[len(out.Lines)-1] == game.NextTask {
				printTask(ctx, rt, w)
			}
		}
	}
}

// choose starts a contract from the flag or the menu. A zero snapshot
// means the player quit at the menu.
func choose(ctx context.Context, opts *PlayOptions, rt *runtime, w io.Writer, lines <-chan string) (session.Snapshot, error) {
	dur := opts.Duration
	if dur <= 0 {
		dur = opts.Config.ContractDuration
	}

	level := contract.Difficulty(opts.Difficulty)
	if opts.Difficulty == "" {
		fmt.Fprintln(w, "Available contracts:")
		for _, line := range offerLines() {
			fmt.Fprintln(w, "  "+line)
		}
		for {
			fmt.Fprintf(w, "Choose 1-%d (q to quit): ", len(game.Offers))
			var text string
			var ok bool
			select {
			case <-ctx.Done():
				return session.Snapshot{}, nil
			case text, ok = <-lines:
			}
			if !ok || strings.EqualFold(strings.TrimSpace(text), "q") {
				return session.Snapshot{}, nil
			}
			n, err := strconv.Atoi(strings.TrimSpace(text))
			if err == nil && n >= 1 && n <= len(game.Offers) {
				offer := game.Offers[n-1]
				level = offer.Difficulty
				if opts.Duration <= 0 {
					dur = offer.Duration
				}
				break
			}
			fmt.Fprintln(w, "Invalid choice.")
		}
	}

	parsed, err := contract.ParseDifficulty(string(level))
	if err != nil {
		return session.Snapshot{}, WrapExitError(ExitCommandError, "play", err)
	}
	snap, err := rt.game.StartContract(ctx, parsed, dur)
	if err != nil {
		return session.Snapshot{}, WrapExitError(ExitFailure, "play", err)
	}
	fmt.Fprintln(w, session.StartedMessage)
	return snap, nil
}

func printTask(ctx context.Context, rt *runtime, w io.Writer) {
	st, err := rt.game.RequestStatus(ctx)
	if err != nil || st.Task == "" {
		return
	}
	fmt.Fprintf(w, "Task %d of %d: %s (%ds left)\n", st.TaskIndex+1, st.TaskCount, st.Task, int64(st.TimeLeft/time.Second))
}

func finishLine(s session.Status) string {
	switch s {
	case session.Won:
		return "Contract complete. Rewards credited."
	case session.Expired:
		return session.ExpiredMessage
	default:
		return "Contract lost."
	}
}

// readLines feeds lines from r until EOF or ctx ends. The channel is
// closed at EOF.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
