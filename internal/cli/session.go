package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/game"
	"github.com/roach88/porta/internal/session"
)

// SessionView is the JSON shape of a started session.
type SessionView struct {
	ID        string              `json:"id"`
	Level     contract.Difficulty `json:"level"`
	Seed      string              `json:"seed"`
	EndsAt    int64               `json:"ends_at"`
	TaskCount int                 `json:"task_count"`
	Task      string              `json:"task"`
}

// StatusView is the JSON shape of a status report.
type StatusView struct {
	ID        string              `json:"id"`
	Level     contract.Difficulty `json:"level"`
	Status    session.Status      `json:"status"`
	TimeLeftS int64               `json:"time_left_s"`
	TaskIndex int                 `json:"task_index"`
	TaskCount int                 `json:"task_count"`
	Task      string              `json:"task,omitempty"`
}

func statusView(st game.Status) StatusView {
	return StatusView{
		ID:        st.ID,
		Level:     st.Level,
		Status:    st.Status,
		TimeLeftS: int64(st.TimeLeft / time.Second),
		TaskIndex: st.TaskIndex,
		TaskCount: st.TaskCount,
		Task:      st.Task,
	}
}

// NewContractsCommand lists the contract menu.
func NewContractsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "contracts",
		Short: "List available contracts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			type offerView struct {
				Name       string              `json:"name"`
				Rating     int                 `json:"rating"`
				Difficulty contract.Difficulty `json:"difficulty"`
				DurationS  int64               `json:"duration_s"`
			}
			views := make([]offerView, 0, len(game.Offers))
			for _, o := range game.Offers {
				views = append(views, offerView{o.Name, o.Rating, o.Difficulty, int64(o.Duration / time.Second)})
			}
			return opts.formatter(cmd).Success(views, offerLines()...)
		},
	}
}

func offerLines() []string {
	lines := make([]string, 0, len(game.Offers))
	for i, o := range game.Offers {
		lines = append(lines, fmt.Sprintf("%d. %s  rating %d  %s  %s",
			i+1, o.Name, o.Rating, o.Difficulty, o.Duration))
	}
	return lines
}

// StartOptions holds flags for the start command.
type StartOptions struct {
	*RootOptions
	Duration time.Duration
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start <easy|medium|hard>",
		Short: "Start a contract",
		Long: `Start a new contract at the given difficulty. A contract still running
must be abandoned first; a finished one is replaced.

Example:
  porta start medium
  porta start hard --duration 5m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			level, err := contract.ParseDifficulty(args[0])
			if err != nil {
				return report(f, "start", err)
			}
			dur := opts.Duration
			if dur <= 0 {
				dur = opts.Config.ContractDuration
			}

			rt, err := openRuntime(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer rt.Close()

			snap, err := rt.game.StartContract(cmd.Context(), level, dur)
			if err != nil {
				return report(f, "start", err)
			}
			view := SessionView{
				ID:        snap.ID,
				Level:     snap.Level,
				Seed:      snap.Contract.Seed,
				EndsAt:    snap.EndsAt,
				TaskCount: len(snap.Contract.Tasks),
			}
			if len(snap.Contract.Tasks) > 0 {
				view.Task = snap.Contract.Tasks[0].Description
			}
			return f.Success(view,
				session.StartedMessage,
				fmt.Sprintf("Session %s (%s), %d tasks, %s", snap.ID, snap.Level, view.TaskCount, dur),
				"Task 1: "+view.Task,
			)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "contract length (default PORTA_CONTRACT_DURATION)")
	return cmd
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <text>",
		Short: "Submit text or a command to the running contract",
		Long: `Submit one line to the current session. The words status, win, lose,
abandon and help are commands; anything else attempts the current task.

Example:
  porta submit 'AB'
  porta submit status`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			out, err := rt.game.SubmitInput(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return report(f, "submit", err)
			}
			return f.Success(map[string]any{
				"status":   out.Status,
				"finished": out.Finished,
				"lines":    out.Lines,
			}, out.Lines...)
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.sessions.ExpireIfOverdue(cmd.Context()); err != nil {
				return report(f, "status", err)
			}
			st, err := rt.game.RequestStatus(cmd.Context())
			if err != nil {
				return report(f, "status", err)
			}
			lines := st.Lines()
			if st.Task != "" && st.Status == session.Active {
				lines = append(lines, "Task: "+st.Task)
			}
			return f.Success(statusView(st), lines...)
		},
	}
}

// NewAbandonCommand creates the abandon command.
func NewAbandonCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon",
		Short: "Give up the running contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			lost, err := rt.game.Abandon(cmd.Context())
			if err != nil {
				return report(f, "abandon", err)
			}
			msg := "No contract in progress."
			if lost {
				msg = session.LostMessage
			}
			return f.Success(map[string]any{"lost": lost}, msg)
		},
	}
}

// NewSignOutCommand creates the sign-out command.
func NewSignOutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "signout",
		Aliases: []string{"logout"},
		Short:   "Stop sync and clear local state",
		Long: `Stop syncing and delete the local session and profile. Remote copies
are left untouched and are restored on the next sign-in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			// Flush first so nothing made before sign-out is lost remotely.
			if rt.sync != nil {
				rt.sync.Flush(cmd.Context())
			}
			if err := rt.game.SignOut(cmd.Context()); err != nil {
				return report(f, "signout", err)
			}
			rt.sync = nil
			return f.Success(map[string]any{"signed_out": true}, "Signed out.")
		},
	}
}
