package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/game"
	"github.com/roach88/porta/internal/profile"
	"github.com/roach88/porta/internal/session"
	"github.com/roach88/porta/internal/state"
	"github.com/roach88/porta/internal/store"
	"github.com/roach88/porta/internal/testutil"
	"github.com/roach88/porta/internal/watchdog"
)

// DefaultUser is the user id when a scenario names none.
const DefaultUser = "player-1"

// Action names a scenario step can invoke.
const (
	ActionStart    = "Game.start"
	ActionSubmit   = "Game.submit"
	ActionStatus   = "Game.status"
	ActionAbandon  = "Game.abandon"
	ActionSignOut  = "Game.signOut"
	ActionAdvance  = "Clock.advance"
	ActionWatchdog = "Watchdog.check"
)

// Output cases.
const (
	CaseSuccess       = "Success"
	CaseNoSession     = "NoSession"
	CaseNoProfile     = "NoProfile"
	CaseSessionActive = "SessionActive"
	CaseError         = "Error"
)

func knownAction(a string) bool {
	switch a {
	case ActionStart, ActionSubmit, ActionStatus, ActionAbandon, ActionSignOut, ActionAdvance, ActionWatchdog:
		return true
	}
	return false
}

// Harness executes one scenario against fresh stores.
type Harness struct {
	store    *store.Store
	sessions *state.SessionStore
	profiles *state.ProfileStore
	game     *game.Controller
	clock    *testutil.FakeClock
	logger   *slog.Logger
	seq      int64
}

// Run executes a scenario and returns the result. Failed expectations and
// assertions are reported in the result; the error is for runs that could
// not be set up at all.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	start := scenario.StartMillis
	if start == 0 {
		start = DefaultStartMillis
	}
	user := scenario.User
	if user == "" {
		user = DefaultUser
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := testutil.NewFakeClockMillis(start)
	sessions := state.NewSessionStore(st, logger,
		session.WithClock(clk),
		session.WithIDs(testutil.NewSequenceGenerator("session")),
		session.WithSeeds(newSeedList(scenario.Seeds)),
	)
	profiles := state.NewProfileStore(st, logger, clk)

	h := &Harness{
		store:    st,
		sessions: sessions,
		profiles: profiles,
		clock:    clk,
		logger:   logger,
	}
	h.game = game.New(sessions, profiles, game.WithClock(clk), game.WithLogger(logger))
	defer h.game.Close()

	ctx := context.Background()

	var seed profile.Defaults
	if p := scenario.Profile; p != nil {
		seed = profile.Defaults{Username: p.Username, Money: p.Money, Tokens: p.Tokens}
	}
	if _, _, err := profiles.Ensure(ctx, user, seed); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	h.executeFlow(ctx, scenario.Flow, result)

	if err := h.captureState(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup runs setup steps. Any case other than Success aborts.
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep, result *Result) error {
	for i, step := range setup {
		outCase, out := h.step(ctx, step.Action, step.Args, result)
		if outCase != CaseSuccess {
			return fmt.Errorf("setup step %d (%s): %s %v", i, step.Action, outCase, out)
		}
		h.logger.Info("setup step completed", "step", i, "action", step.Action)
	}
	return nil
}

// executeFlow runs flow steps and checks their expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	for i, step := range flow {
		outCase, out := h.step(ctx, step.Invoke, step.Args, result)
		if step.Expect == nil {
			continue
		}
		if outCase != step.Expect.Case {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected case %q, got %q (%v)",
				i, step.Invoke, step.Expect.Case, outCase, out))
			continue
		}
		for key, want := range step.Expect.Result {
			got, ok := lookup(out, key)
			if !ok || !valuesEqual(got, want) {
				result.AddError(fmt.Sprintf("flow[%d] %s: result %s: expected %v, got %v",
					i, step.Invoke, key, normalize(want), got))
			}
		}
	}
}

// step invokes one action and records it in the trace.
func (h *Harness) step(ctx context.Context, action string, args map[string]any, result *Result) (string, map[string]any) {
	h.seq++
	result.AddInvocationTrace(action, normalizeArgs(args), h.seq)

	out, err := h.invoke(ctx, action, args)
	outCase := CaseSuccess
	if err != nil {
		outCase = errorCase(err)
		out = map[string]any{"error": err.Error()}
	}
	generic, _ := normalize(out).(map[string]any)

	h.seq++
	result.AddCompletionTrace(outCase, generic, h.seq)
	return outCase, generic
}

func (h *Harness) invoke(ctx context.Context, action string, args map[string]any) (any, error) {
	switch action {
	case ActionStart:
		level, err := contract.ParseDifficulty(stringArg(args, "difficulty", string(contract.Medium)))
		if err != nil {
			return nil, err
		}
		dur, err := durationArg(args, "duration", game.DefaultDuration)
		if err != nil {
			return nil, err
		}
		snap, err := h.game.StartContract(ctx, level, dur)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"id":         snap.ID,
			"level":      snap.Level,
			"seed":       snap.Contract.Seed,
			"ends_at":    snap.EndsAt,
			"task_count": len(snap.Contract.Tasks),
		}, nil

	case ActionSubmit:
		out, err := h.game.SubmitInput(ctx, stringArg(args, "input", ""))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":   out.Status,
			"finished": out.Finished,
			"lines":    out.Lines,
		}, nil

	case ActionStatus:
		st, err := h.game.RequestStatus(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":      st.Status,
			"time_left_s": int64(st.TimeLeft / time.Second),
			"task":        st.Task,
			"task_index":  st.TaskIndex,
			"task_count":  st.TaskCount,
		}, nil

	case ActionAbandon:
		lost, err := h.game.Abandon(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"lost": lost}, nil

	case ActionSignOut:
		return map[string]any{}, h.game.SignOut(ctx)

	case ActionAdvance:
		by, err := durationArg(args, "by", 0)
		if err != nil {
			return nil, err
		}
		now := h.clock.Advance(by)
		return map[string]any{"now": now.UnixMilli()}, nil

	case ActionWatchdog:
		res := watchdog.Check(ctx, h.sessions, h.logger)
		return map[string]any{"result": res.String()}, nil
	}
	return nil, fmt.Errorf("unknown action %q", action)
}

// captureState stores the final aggregates as generic JSON values.
func (h *Harness) captureState(ctx context.Context, result *Result) error {
	snap, err := h.sessions.Snapshot(ctx)
	switch {
	case err == nil:
		result.State[TableSession] = normalize(snap)
	case !errors.Is(err, session.ErrNoSession):
		return err
	}

	p, err := h.profiles.Snapshot(ctx)
	switch {
	case err == nil:
		result.State[TableProfile] = normalize(p)
	case !errors.Is(err, state.ErrNoProfile):
		return err
	}
	return nil
}

func errorCase(err error) string {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return CaseNoSession
	case errors.Is(err, state.ErrNoProfile):
		return CaseNoProfile
	case errors.Is(err, game.ErrSessionActive):
		return CaseSessionActive
	default:
		return CaseError
	}
}

func stringArg(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// durationArg accepts a Go duration string or a number of seconds.
func durationArg(args map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("%s: unsupported duration %v", key, v)
	}
}

func normalizeArgs(args map[string]any) any {
	if len(args) == 0 {
		return nil
	}
	return normalize(args)
}

// normalize converts v to the generic shape encoding/json decodes into,
// so values from YAML and from Go structs compare equal.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// seedList hands out seeds in order, then repeats the last one.
type seedList struct {
	mu    sync.Mutex
	seeds []string
	idx   int
}

func newSeedList(seeds []string) *seedList {
	return &seedList{seeds: seeds}
}

func (s *seedList) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seeds) == 0 {
		return ""
	}
	seed := s.seeds[min(s.idx, len(s.seeds)-1)]
	s.idx++
	return seed
}
