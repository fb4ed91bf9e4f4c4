package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/porta/internal/profile"
)

// NewProfileCommand creates the profile command and its subcommands.
func NewProfileCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or change the player profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showProfile(opts, cmd)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show balances and stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showProfile(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <username>",
		Short: "Change the username",
		Long: fmt.Sprintf(`Change the username. Surrounding whitespace is trimmed and the result
must be %d to %d characters.`, profile.MinUsername, profile.MaxUsername),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			p, err := rt.profiles.UpdateUsername(cmd.Context(), args[0])
			if err != nil {
				return report(f, "rename", err)
			}
			return f.Success(p, "Username set to "+p.Username+".")
		},
	})
	return cmd
}

func showProfile(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	rt, err := openRuntime(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	p, err := rt.profiles.Snapshot(cmd.Context())
	if err != nil {
		return report(f, "profile", err)
	}
	return f.Success(p, profileLines(p)...)
}

func profileLines(p profile.Snapshot) []string {
	return []string{
		"User: " + p.Username,
		fmt.Sprintf("Money: %d", p.Money),
		fmt.Sprintf("Tokens: %d", p.Tokens),
		fmt.Sprintf("Level: %d (%d/%d xp)", p.Stats.Level, p.Stats.XP, p.Stats.XPToNextLevel),
		fmt.Sprintf("Contracts: %d completed, %d failed (%.0f%% win rate)",
			p.Stats.ContractsCompleted, p.Stats.ContractsFailed, p.WinRate()*100),
		fmt.Sprintf("Total earnings: %d", p.Stats.TotalEarnings),
	}
}
