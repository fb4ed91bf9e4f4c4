package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/porta/internal/catalog"
	"github.com/roach88/porta/internal/config"
	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/game"
	"github.com/roach88/porta/internal/generator"
	"github.com/roach88/porta/internal/profile"
	"github.com/roach88/porta/internal/reconcile"
	"github.com/roach88/porta/internal/remote"
	"github.com/roach88/porta/internal/remote/pgdoc"
	"github.com/roach88/porta/internal/remote/wsdoc"
	"github.com/roach88/porta/internal/rules"
	"github.com/roach88/porta/internal/session"
	"github.com/roach88/porta/internal/state"
	"github.com/roach88/porta/internal/store"
)

// LocalUser owns the profile when no PORTA_USER is configured.
const LocalUser = "local"

// flushTimeout bounds the final push when a command exits.
const flushTimeout = 5 * time.Second

// runtime is the wired application behind the game commands.
type runtime struct {
	uid      string
	store    *store.Store
	sessions *state.SessionStore
	profiles *state.ProfileStore
	game     *game.Controller
	sync     *reconcile.Sync
	logger   *slog.Logger

	closeRemote func()
}

// openRuntime opens local state and, when a remote is configured, starts
// sync for the configured user.
func openRuntime(ctx context.Context, opts *RootOptions) (*runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	factory, err := contractFactory(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load task catalog", err)
	}

	logger.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	rt := &runtime{
		uid:      cfg.UserID,
		store:    st,
		sessions: state.NewSessionStore(st, logger, session.WithFactory(factory)),
		profiles: state.NewProfileStore(st, logger, nil),
		logger:   logger,
	}
	if rt.uid == "" {
		rt.uid = LocalUser
	}

	var gameOpts []game.Option
	gameOpts = append(gameOpts, game.WithLogger(logger))

	if cfg.RemoteURL == "" {
		if _, _, err := rt.profiles.Ensure(ctx, rt.uid, profile.Defaults{}); err != nil {
			rt.closeStore()
			return nil, WrapExitError(ExitCommandError, "failed to load profile", err)
		}
	} else {
		if err := rt.startSync(ctx, cfg); err != nil {
			rt.closeStore()
			return nil, err
		}
		gameOpts = append(gameOpts, game.WithSync(rt.sync))
	}

	rt.game = game.New(rt.sessions, rt.profiles, gameOpts...)
	return rt, nil
}

func (rt *runtime) startSync(ctx context.Context, cfg config.Config) error {
	if cfg.UserID == "" {
		return NewExitError(ExitCommandError, "PORTA_USER is required when PORTA_REMOTE is set")
	}
	r, closeRemote, err := dialRemote(ctx, cfg, rt.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to remote", err)
	}

	s, err := reconcile.ForUser(ctx, cfg.UserID, r, rt.sessions, rt.profiles,
		reconcile.WithLogger(rt.logger),
		reconcile.WithLedger(rt.store),
		reconcile.WithDebounce(cfg.Debounce),
	)
	if err != nil {
		closeRemote()
		return WrapExitError(ExitCommandError, "failed to start sync", err)
	}
	rt.sync = s
	rt.closeRemote = closeRemote
	return nil
}

// dialRemote connects to the remote named by cfg.RemoteURL.
func dialRemote(ctx context.Context, cfg config.Config, logger *slog.Logger) (remote.Remote, func(), error) {
	switch config.RemoteKind(cfg.RemoteURL) {
	case config.RemoteWebSocket:
		c, err := wsdoc.Dial(ctx, cfg.RemoteURL, cfg.Token, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	case config.RemotePostgres:
		s, err := openPostgres(ctx, cfg.RemoteURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported remote %q", cfg.RemoteURL)
	}
}

func openPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*pgdoc.Store, error) {
	s, err := pgdoc.Open(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureTable(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// contractFactory builds the contract factory, applying PORTA_CATALOG and
// PORTA_TUNING when set.
func contractFactory(cfg config.Config) (*contract.Factory, error) {
	if cfg.CatalogPath == "" && cfg.TuningPath == "" {
		return contract.NewFactory(nil, nil), nil
	}
	cat, tuning, err := loadGeneratorInputs(cfg.CatalogPath, cfg.TuningPath)
	if err != nil {
		return nil, err
	}
	return contract.NewFactory(generator.New(cat, tuning), nil), nil
}

// loadGeneratorInputs reads a catalog and tuning, using the embedded ones
// for empty paths.
func loadGeneratorInputs(catalogPath, tuningPath string) (*catalog.Catalog, generator.Tuning, error) {
	cat := catalog.Default()
	if catalogPath != "" {
		src, err := os.ReadFile(catalogPath)
		if err != nil {
			return nil, generator.Tuning{}, fmt.Errorf("failed to read catalog: %w", err)
		}
		cat, err = catalog.Load(src, catalogPath, rules.Default())
		if err != nil {
			return nil, generator.Tuning{}, err
		}
	}
	tuning := generator.DefaultTuning()
	if tuningPath != "" {
		var err error
		tuning, err = generator.LoadTuning(tuningPath)
		if err != nil {
			return nil, generator.Tuning{}, err
		}
	}
	return cat, tuning, nil
}

// Close flushes pending pushes and releases everything openRuntime opened.
func (rt *runtime) Close() {
	rt.game.Close()
	if rt.sync != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		rt.sync.Flush(ctx)
		cancel()
		if rt.sync.Pending() {
			rt.logger.Warn("changes not yet pushed; they will be retried next run")
		}
		rt.sync.Stop()
	}
	if rt.closeRemote != nil {
		rt.closeRemote()
	}
	rt.closeStore()
}

func (rt *runtime) closeStore() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Error("error closing database", "error", err)
	}
}

// report prints err in JSON mode and maps it to an exit error.
func report(f *OutputFormatter, action string, err error) error {
	code, exit := CodeInternal, ExitCommandError
	switch {
	case errors.Is(err, session.ErrNoSession):
		code, exit = CodeNoSession, ExitFailure
	case errors.Is(err, state.ErrNoProfile):
		code, exit = CodeNoProfile, ExitFailure
	case errors.Is(err, game.ErrSessionActive):
		code, exit = CodeSessionActive, ExitFailure
	case errors.Is(err, generator.ErrUnknownDifficulty),
		errors.Is(err, profile.ErrUsernameTooShort),
		errors.Is(err, profile.ErrUsernameTooLong):
		code, exit = CodeInvalidInput, ExitCommandError
	}
	if f.Format == "json" {
		_ = f.Error(code, err.Error(), nil)
	}
	return WrapExitError(exit, action, err)
}
