package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/porta/internal/clock"
	"github.com/roach88/porta/internal/reconcile"
	"github.com/roach88/porta/internal/store"
)

// LedgerView is one aggregate's sync bookkeeping.
type LedgerView struct {
	Aggregate         string `json:"aggregate"`
	Pending           bool   `json:"pending"`
	LastRemoteApplied int64  `json:"last_remote_applied,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	UpdatedAt         int64  `json:"updated_at,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local state with the remote now",
		Long: `Connect to PORTA_REMOTE, adopt newer remote state, push pending local
changes and report what is still unpushed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			if opts.Config.RemoteURL == "" {
				return NewExitError(ExitCommandError, "PORTA_REMOTE is not set")
			}
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.sync.Resume(cmd.Context())
			rt.sync.Flush(cmd.Context())

			views, err := readLedger(cmd.Context(), rt.store)
			if err != nil {
				return WrapExitError(ExitCommandError, "sync", err)
			}
			return f.Success(views, ledgerLines(views)...)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show sync bookkeeping without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			st, err := store.Open(opts.Config.DBPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer st.Close()

			views, err := readLedger(cmd.Context(), st)
			if err != nil {
				return WrapExitError(ExitCommandError, "sync status", err)
			}
			return f.Success(views, ledgerLines(views)...)
		},
	})
	return cmd
}

func readLedger(ctx context.Context, l reconcile.Ledger) ([]LedgerView, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var views []LedgerView
	for _, agg := range []string{reconcile.AggregateProfile, reconcile.AggregateSession} {
		st, err := l.GetSyncState(ctx, agg)
		if err != nil {
			return nil, err
		}
		views = append(views, LedgerView{
			Aggregate:         st.Aggregate,
			Pending:           st.Pending,
			LastRemoteApplied: st.LastRemoteApplied,
			LastError:         st.LastError,
			UpdatedAt:         st.UpdatedAt,
		})
	}
	return views, nil
}

func ledgerLines(views []LedgerView) []string {
	lines := make([]string, 0, len(views))
	for _, v := range views {
		state := "in sync"
		if v.Pending {
			state = "pending"
		}
		line := fmt.Sprintf("%-8s %s", v.Aggregate, state)
		if v.LastRemoteApplied > 0 {
			line += ", remote applied " + clock.FromMillis(v.LastRemoteApplied).UTC().Format("2006-01-02 15:04:05Z")
		}
		if v.LastError != "" {
			line += ", last error: " + v.LastError
		}
		lines = append(lines, line)
	}
	return lines
}
