// Package session implements the time-boxed game session: one contract, a
// wall-clock deadline, a status that only moves from active to a terminal
// value, and bounded logs and input history.
//
// A GameSession is not safe for concurrent use. The state store owns the
// only instance and serializes access to it.
package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/porta/internal/clock"
	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/ids"
)

const (
	MaxLogs    = 100
	MaxHistory = 50
)

// Log lines written by the state machine.
const (
	StartedMessage = "Game Session started."
	WonMessage     = "Mission completed successfully!"
	LostMessage    = "Mission failed."
	ExpiredMessage = "Session expired. Game over."
)

var (
	// ErrNoSession is returned by every accessor before Start or Hydrate.
	ErrNoSession = errors.New("no active session")

	// ErrNotTerminal is returned when Finish is given a non-terminal status.
	ErrNotTerminal = errors.New("finish requires a terminal status")
)

// Status is the session lifecycle state.
type Status string

const (
	Active  Status = "active"
	Won     Status = "won"
	Lost    Status = "lost"
	Expired Status = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == Won || s == Lost || s == Expired
}

func (s Status) valid() bool {
	return s == Active || s.IsTerminal()
}

// finishMessage is the log line appended on entering a terminal status.
func finishMessage(s Status) string {
	switch s {
	case Won:
		return WonMessage
	case Lost:
		return LostMessage
	default:
		return ExpiredMessage
	}
}

// Option configures a GameSession.
type Option func(*GameSession)

// WithClock sets the wall clock. Defaults to the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *GameSession) { s.clock = c }
}

// WithIDs sets the session id generator. Defaults to UUIDv7.
func WithIDs(g ids.Generator) Option {
	return func(s *GameSession) { s.ids = g }
}

// WithSeeds sets the contract seed generator. Defaults to random UUIDs.
func WithSeeds(g ids.Generator) Option {
	return func(s *GameSession) { s.seeds = g }
}

// WithFactory sets the contract factory.
func WithFactory(f *contract.Factory) Option {
	return func(s *GameSession) { s.factory = f }
}

// GameSession is the live session aggregate. The zero state (before Start
// or Hydrate) has no session.
type GameSession struct {
	clock   clock.Clock
	ids     ids.Generator
	seeds   ids.Generator
	factory *contract.Factory

	present      bool
	id           string
	level        contract.Difficulty
	startedAt    time.Time
	endsAt       time.Time
	status       Status
	contract     *contract.Contract
	logs         []string
	inputHistory []string
	updatedAt    int64
	version      int64
}

// New returns an empty GameSession.
func New(opts ...Option) *GameSession {
	s := &GameSession{
		clock: clock.System{},
		ids:   ids.UUIDv7Generator{},
		seeds: ids.RandomGenerator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.factory == nil {
		s.factory = contract.NewFactory(nil, nil)
	}
	return s
}

// Present reports whether a session has been started or hydrated.
func (s *GameSession) Present() bool { return s.present }

// Start begins a fresh active session with a new id and seed. Any previous
// session is discarded.
func (s *GameSession) Start(level contract.Difficulty, duration time.Duration) error {
	now := s.clock.Now()
	seed := s.seeds.Generate()

	c, err := s.factory.New(level, duration, seed, 0, now)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	s.present = true
	s.id = s.ids.Generate()
	s.level = level
	s.startedAt = now
	s.endsAt = now.Add(duration)
	s.status = Active
	s.contract = c
	s.logs = []string{StartedMessage, "Seed: " + seed}
	s.inputHistory = []string{}
	s.version = 0
	s.touch()
	return nil
}

// Hydrate replaces the session wholesale from snap. UpdatedAt and Version
// are kept as given. On error the session is left empty.
func (s *GameSession) Hydrate(snap Snapshot) error {
	if !snap.Status.valid() {
		s.Reset()
		return fmt.Errorf("hydrate session: %w: status %q", contract.ErrCorruptSnapshot, snap.Status)
	}
	c, err := s.factory.FromSnapshot(snap.Contract)
	if err != nil {
		s.Reset()
		return fmt.Errorf("hydrate session: %w", err)
	}

	logs := slices.Clone(snap.Logs)
	if logs == nil {
		logs = []string{StartedMessage}
	}
	history := slices.Clone(snap.InputHistory)
	if history == nil {
		history = []string{}
	}

	s.present = true
	s.id = snap.ID
	s.level = snap.Level
	s.startedAt = clock.FromMillis(snap.StartedAt)
	s.endsAt = clock.FromMillis(snap.EndsAt)
	s.status = snap.Status
	s.contract = c
	s.logs = trimLogs(logs)
	s.inputHistory = trimHistory(history)
	s.updatedAt = snap.UpdatedAt
	s.version = snap.Version
	return nil
}

// Reset drops the session.
func (s *GameSession) Reset() {
	*s = GameSession{clock: s.clock, ids: s.ids, seeds: s.seeds, factory: s.factory}
}

// ValidateInput checks text against the current task and records the
// outcome on that task.
func (s *GameSession) ValidateInput(text string) (bool, error) {
	if !s.present {
		return false, ErrNoSession
	}
	task := s.contract.CurrentTask()
	if task == nil {
		return false, nil
	}
	ok := s.contract.ValidateTask(task, text)
	s.touch()
	return ok, nil
}

// AdvanceTask moves to the next task. It returns false at the last task and
// never completes the session by itself.
func (s *GameSession) AdvanceTask() (bool, error) {
	if !s.present {
		return false, ErrNoSession
	}
	if !s.contract.Advance() {
		return false, nil
	}
	s.touch()
	return true, nil
}

// AllTasksCompleted is the win condition: on the last task and that task is
// completed.
func (s *GameSession) AllTasksCompleted() (bool, error) {
	if !s.present {
		return false, ErrNoSession
	}
	return s.contract.IsLast() && s.contract.IsCurrentTaskCompleted(), nil
}

// Finish moves an active session to result and appends the matching log
// line. On an already terminal session it does nothing and returns false.
func (s *GameSession) Finish(result Status) (bool, error) {
	if !s.present {
		return false, ErrNoSession
	}
	if !result.IsTerminal() {
		return false, fmt.Errorf("%w: %q", ErrNotTerminal, result)
	}
	if s.status.IsTerminal() {
		return false, nil
	}
	s.status = result
	s.appendLog(finishMessage(result))
	s.touch()
	return true, nil
}

// IsOverdue reports an active session whose deadline has passed.
func (s *GameSession) IsOverdue() bool {
	return s.present && s.status == Active && !s.clock.Now().Before(s.endsAt)
}

// AddLog appends text, dropping the oldest lines beyond MaxLogs.
func (s *GameSession) AddLog(text string) error {
	if !s.present {
		return ErrNoSession
	}
	s.appendLog(text)
	s.touch()
	return nil
}

// AddToInputHistory prepends text, dropping the oldest entries beyond
// MaxHistory. Blank input is ignored.
func (s *GameSession) AddToInputHistory(text string) error {
	if !s.present {
		return ErrNoSession
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s.inputHistory = trimHistory(append([]string{text}, s.inputHistory...))
	s.touch()
	return nil
}

// TimeLeft is max(0, endsAt-now), derived on every call.
func (s *GameSession) TimeLeft() (time.Duration, error) {
	if !s.present {
		return 0, ErrNoSession
	}
	left := s.endsAt.Sub(s.clock.Now())
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Status returns the current status.
func (s *GameSession) Status() (Status, error) {
	if !s.present {
		return "", ErrNoSession
	}
	return s.status, nil
}

// CurrentTask returns a snapshot of the task under the cursor.
func (s *GameSession) CurrentTask() (contract.TaskSnapshot, int, error) {
	if !s.present {
		return contract.TaskSnapshot{}, 0, ErrNoSession
	}
	snap := s.contract.Snapshot()
	return snap.Tasks[snap.CurrentTaskIndex], snap.CurrentTaskIndex, nil
}

// Snapshot returns a deep copy of the session's persisted form.
func (s *GameSession) Snapshot() (Snapshot, error) {
	if !s.present {
		return Snapshot{}, ErrNoSession
	}
	return Snapshot{
		ID:           s.id,
		Level:        s.level,
		StartedAt:    clock.Millis(s.startedAt),
		EndsAt:       clock.Millis(s.endsAt),
		Status:       s.status,
		Contract:     s.contract.Snapshot(),
		Logs:         slices.Clone(s.logs),
		InputHistory: slices.Clone(s.inputHistory),
		UpdatedAt:    s.updatedAt,
		Version:      s.version,
	}, nil
}

func (s *GameSession) appendLog(text string) {
	s.logs = trimLogs(append(s.logs, text))
}

func (s *GameSession) touch() {
	s.updatedAt = clock.Millis(s.clock.Now())
	s.version++
}

func trimLogs(logs []string) []string {
	if len(logs) > MaxLogs {
		return slices.Clone(logs[len(logs)-MaxLogs:])
	}
	return logs
}

func trimHistory(history []string) []string {
	if len(history) > MaxHistory {
		return history[:MaxHistory]
	}
	return history
}
