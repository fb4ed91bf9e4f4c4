package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/porta/internal/auth"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	TTL time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a document-server token",
		Long: `Sign a bearer token for the document server with PORTA_JWT_SECRET.
Clients pass it as PORTA_TOKEN.

Example:
  PORTA_JWT_SECRET=s3cret porta token player-1 --ttl 24h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			authority, err := auth.New(opts.Config.JWTSecret, auth.WithIssuer(opts.Config.JWTIssuer))
			if err != nil {
				return WrapExitError(ExitCommandError, "token", err)
			}
			token, err := authority.Issue(args[0], opts.TTL)
			if err != nil {
				return WrapExitError(ExitCommandError, "token", err)
			}
			return f.Success(map[string]any{"token": token, "uid": args[0]}, token)
		},
	}

	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
