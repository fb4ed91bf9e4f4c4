package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/porta/internal/auth"
	"github.com/roach88/porta/internal/clock"
	"github.com/roach88/porta/internal/remote"
	"github.com/roach88/porta/internal/remote/wsdoc"
)

// DocumentPath is where the document server accepts websocket clients.
const DocumentPath = "/v1/doc"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Postgres string

	// Ready, when set, receives the bound address once listening.
	Ready func(addr net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remote document server",
		Long: `Serve per-user profile and session documents over websocket at
/v1/doc. Clients authenticate with tokens from "porta token". Documents
live in memory unless a Postgres DSN is given.

Example:
  PORTA_JWT_SECRET=s3cret porta serve --listen :8787
  porta serve --postgres postgres://localhost/porta`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default PORTA_LISTEN)")
	cmd.Flags().StringVar(&opts.Postgres, "postgres", "", "Postgres DSN for documents (default PORTA_POSTGRES_DSN)")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	listen := firstNonEmpty(opts.Listen, cfg.ListenAddr)
	dsn := firstNonEmpty(opts.Postgres, cfg.PostgresDSN)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signalContext(parent, logger)
	defer cancel()

	authority, err := auth.New(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid auth configuration", err)
	}

	var backend remote.Remote
	if dsn != "" {
		pg, err := openPostgres(ctx, dsn, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open postgres", err)
		}
		defer pg.Close()
		backend = pg
		logger.Info("documents stored in postgres")
	} else {
		mem := remote.NewMemory(clock.System{})
		defer mem.Close()
		backend = mem
		logger.Info("documents stored in memory")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DocumentPath, wsdoc.NewServer(backend, authority, logger).Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("document server listening", "addr", ln.Addr().String(), "path", DocumentPath)
	fmt.Fprintf(cmd.ErrOrStderr(), "Serving documents on %s%s. Press Ctrl-C to stop.\n", ln.Addr(), DocumentPath)
	if opts.Ready != nil {
		opts.Ready(ln.Addr())
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("document server stopped")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
