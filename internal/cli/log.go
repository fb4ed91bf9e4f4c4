package cli

import (
	"github.com/spf13/cobra"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	History bool
	Tail    int
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the session log",
		Long: `Show the log of the current session, oldest first, or with --history the
recent inputs, newest first.

Examples:
  porta log
  porta log --tail 10
  porta log --history --tail 5
  porta log --history --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			rt, err := openRuntime(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer rt.Close()

			snap, err := rt.sessions.Snapshot(cmd.Context())
			if err != nil {
				return report(f, "log", err)
			}
			lines, key := tail(snap.Logs, opts.Tail), "logs"
			if opts.History {
				lines, key = head(snap.InputHistory, opts.Tail), "input_history"
			}
			if lines == nil {
				lines = []string{}
			}
			return f.Success(map[string]any{"id": snap.ID, key: lines}, lines...)
		},
	}

	cmd.Flags().BoolVar(&opts.History, "history", false, "show input history instead of the log")
	cmd.Flags().IntVar(&opts.Tail, "tail", 0, "show only the last N entries")
	return cmd
}

// tail returns the last n entries, or all of them when n <= 0.
func tail(lines []string, n int) []string {
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

// head is tail for newest-first lists.
func head(lines []string, n int) []string {
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[:n]
}
