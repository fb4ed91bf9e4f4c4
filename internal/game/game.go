// Package game maps player commands onto the session and profile stores.
// It owns no state of its own: every effect goes through a store action.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/porta/internal/clock"
	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/profile"
	"github.com/roach88/porta/internal/session"
	"github.com/roach88/porta/internal/state"
)

// DefaultDuration is the contract length offered by the menu.
const DefaultDuration = 3 * time.Minute

// Log lines written by the controller.
const (
	EchoPrefix    = ">.>*!* "
	TaskCompleted = "Task completed successfully!"
	NextTask      = "Moving to next task..."
	HelpCommands  = "Available commands: status, win, lose, abandon, help"
	HelpAttempt   = "Enter any text to attempt solving the current task."
)

var (
	ErrSessionActive = errors.New("a session is already active")
	ErrNotActive     = errors.New("session is not active")
)

// Offer is one selectable contract.
type Offer struct {
	Name       string
	Rating     int
	Difficulty contract.Difficulty
	Duration   time.Duration
}

// Offers is the fixed contract menu.
var Offers = []Offer{
	{Name: "Contract A", Rating: 5, Difficulty: contract.Medium, Duration: DefaultDuration},
	{Name: "Contract B", Rating: 3, Difficulty: contract.Easy, Duration: DefaultDuration},
	{Name: "Contract C", Rating: 7, Difficulty: contract.Hard, Duration: DefaultDuration},
}

// Closer is stopped on sign-out. A running sync is the usual value.
type Closer interface {
	Stop()
}

// Controller is the command surface. Construct with New and call Close
// when done.
type Controller struct {
	sessions *state.SessionStore
	profiles *state.ProfileStore
	clock    clock.Clock
	logger   *slog.Logger
	sync     Closer

	unsubscribe func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for status reports.
func WithClock(c clock.Clock) Option {
	return func(g *Controller) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Controller) { g.logger = l }
}

// WithSync attaches the sync to stop on sign-out.
func WithSync(s Closer) Option {
	return func(g *Controller) { g.sync = s }
}

// New wires a controller to the stores. Results of local sessions that
// reach a terminal status are credited to the profile, whichever path
// finished them.
func New(sessions *state.SessionStore, profiles *state.ProfileStore, opts ...Option) *Controller {
	g := &Controller{
		sessions: sessions,
		profiles: profiles,
		clock:    clock.System{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.unsubscribe = sessions.Subscribe(g.onSessionChange)
	return g
}

// Close detaches the controller from the session store.
func (g *Controller) Close() {
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
}

// StartContract begins a session. A session still running must be
// abandoned first; a finished one is replaced.
func (g *Controller) StartContract(ctx context.Context, difficulty contract.Difficulty, duration time.Duration) (session.Snapshot, error) {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if _, err := g.sessions.ExpireIfOverdue(ctx); err != nil {
		return session.Snapshot{}, err
	}
	cur, err := g.sessions.Snapshot(ctx)
	switch {
	case err == nil && cur.Status == session.Active:
		return session.Snapshot{}, ErrSessionActive
	case err != nil && !errors.Is(err, session.ErrNoSession):
		return session.Snapshot{}, err
	}
	snap, err := g.sessions.Start(ctx, difficulty, duration)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("start contract: %w", err)
	}
	g.logger.Info("contract started", "session", snap.ID, "difficulty", difficulty, "seed", snap.Contract.Seed)
	return snap, nil
}

// Outcome is what one submitted line produced.
type Outcome struct {
	Lines  []string
	Status session.Status
	// Finished is set when this submission ended the session.
	Finished bool
}

// SubmitInput handles one line typed during a session: a command word or
// an attempt at the current task. The lines it produces are appended to
// the session log as one change.
func (g *Controller) SubmitInput(ctx context.Context, text string) (Outcome, error) {
	if _, err := g.sessions.ExpireIfOverdue(ctx); err != nil {
		return Outcome{}, err
	}
	snap, err := g.sessions.Snapshot(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if err := g.sessions.AddToInputHistory(ctx, text); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Lines: []string{EchoPrefix + text}, Status: snap.Status}
	active := snap.Status == session.Active

	switch strings.ToLower(strings.TrimSpace(text)) {
	case "win":
		if active {
			out.Finished, err = g.sessions.Finish(ctx, session.Won)
		}
	case "lose":
		if active {
			out.Finished, err = g.sessions.Finish(ctx, session.Lost)
		}
	case "status":
		st, serr := g.RequestStatus(ctx)
		if serr != nil {
			return Outcome{}, serr
		}
		out.Lines = append(out.Lines, st.Lines()...)
	case "abandon":
		// The session is gone afterwards, so nothing is logged.
		_, err = g.Abandon(ctx)
		if err != nil {
			return Outcome{}, err
		}
		out.Status = session.Lost
		out.Finished = active
		return out, nil
	case "help":
		out.Lines = append(out.Lines, HelpCommands, HelpAttempt)
	default:
		if active {
			err = g.attempt(ctx, text, &out)
		}
	}
	if err != nil {
		return Outcome{}, err
	}

	if err := g.sessions.AddLogs(ctx, out.Lines...); err != nil {
		return Outcome{}, err
	}
	if st, err := g.sessions.Snapshot(ctx); err == nil {
		out.Status = st.Status
	}
	return out, nil
}

func (g *Controller) attempt(ctx context.Context, text string, out *Outcome) error {
	ok, err := g.sessions.ValidateInput(ctx, text)
	if err != nil || !ok {
		return err
	}
	out.Lines = append(out.Lines, TaskCompleted)

	done, err := g.sessions.AllTasksCompleted(ctx)
	if err != nil {
		return err
	}
	if done {
		out.Finished, err = g.sessions.Finish(ctx, session.Won)
		return err
	}
	advanced, err := g.sessions.AdvanceTask(ctx)
	if err != nil {
		return err
	}
	if advanced {
		out.Lines = append(out.Lines, NextTask)
	}
	return nil
}

// Status is a point-in-time summary of the session.
type Status struct {
	ID        string
	Level     contract.Difficulty
	Status    session.Status
	TimeLeft  time.Duration
	TaskIndex int
	TaskCount int
	Task      string
}

// Lines renders the summary the way the in-game status command prints it.
func (s Status) Lines() []string {
	return []string{
		"Session ID: " + s.ID,
		"Difficulty: " + string(s.Level),
		"Status: " + string(s.Status),
		fmt.Sprintf("Time remaining: %d seconds", int64(s.TimeLeft/time.Second)),
		fmt.Sprintf("Current task: %d of %d", s.TaskIndex+1, s.TaskCount),
	}
}

// RequestStatus reports the current session.
func (g *Controller) RequestStatus(ctx context.Context) (Status, error) {
	snap, err := g.sessions.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	left := time.Duration(snap.TimeLeftAt(clock.Millis(g.clock.Now()))) * time.Millisecond
	st := Status{
		ID:        snap.ID,
		Level:     snap.Level,
		Status:    snap.Status,
		TimeLeft:  left,
		TaskIndex: snap.Contract.CurrentTaskIndex,
		TaskCount: len(snap.Contract.Tasks),
	}
	if i := snap.Contract.CurrentTaskIndex; i < len(snap.Contract.Tasks) {
		st.Task = snap.Contract.Tasks[i].Description
	}
	return st, nil
}

// Abandon loses a running session and clears it. It reports whether a
// running session was lost.
func (g *Controller) Abandon(ctx context.Context) (bool, error) {
	lost, err := g.sessions.Finish(ctx, session.Lost)
	if errors.Is(err, session.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("abandon: %w", err)
	}
	if err := g.sessions.Clear(ctx); err != nil {
		return lost, fmt.Errorf("abandon: %w", err)
	}
	return lost, nil
}

// ReturnHome drops a finished session so the home screen starts clean. A
// running session is left alone.
func (g *Controller) ReturnHome(ctx context.Context) (bool, error) {
	cleared, err := g.sessions.ClearFinished(ctx)
	if err != nil {
		return false, fmt.Errorf("return home: %w", err)
	}
	return cleared, nil
}

// SignOut stops sync and drops both local aggregates. The remote copies
// are left untouched.
func (g *Controller) SignOut(ctx context.Context) error {
	if g.sync != nil {
		g.sync.Stop()
		g.sync = nil
	}
	// Clearing here must not count as a result.
	g.Close()
	return errors.Join(g.sessions.Clear(ctx), g.profiles.Clear(ctx))
}

// onSessionChange credits a session that just ended locally.
func (g *Controller) onSessionChange(c state.Change[session.Snapshot]) {
	if c.Origin != state.OriginLocal || c.Prev == nil || c.Next == nil {
		return
	}
	if c.Prev.ID != c.Next.ID || c.Prev.Status.IsTerminal() || !c.Next.Status.IsTerminal() {
		return
	}
	if err := g.credit(context.Background(), *c.Next); err != nil {
		g.logger.Error("credit result failed", "session", c.Next.ID, "error", err)
	}
}

func (g *Controller) credit(ctx context.Context, snap session.Snapshot) error {
	won := snap.Status == session.Won
	_, err := g.profiles.Update(ctx, func(p profile.Snapshot) (profile.Snapshot, error) {
		if won {
			elapsed := time.Duration(snap.UpdatedAt-snap.StartedAt) * time.Millisecond
			limit := time.Duration(snap.EndsAt-snap.StartedAt) * time.Millisecond
			p = p.Award(profile.CalculateReward(snap.Level, elapsed, limit))
		}
		return p.RecordResult(won), nil
	})
	if errors.Is(err, state.ErrNoProfile) {
		g.logger.Debug("no profile to credit", "session", snap.ID)
		return nil
	}
	if err != nil {
		return err
	}
	g.logger.Info("session result recorded", "session", snap.ID, "status", snap.Status)
	return nil
}
