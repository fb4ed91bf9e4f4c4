package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/schema"
	"github.com/roach88/porta/internal/session"
	"github.com/roach88/porta/internal/store"
)

// SessionStore is the durable, observable owner of the current game
// session.
type SessionStore struct {
	mu       sync.Mutex
	backend  Backend
	logger   *slog.Logger
	sessOpts []session.Option
	live     *session.GameSession
	loaded   bool

	subs listeners[session.Snapshot]
}

// NewSessionStore returns a store persisting under store.KeySession.
// sessOpts configure every GameSession the store constructs.
func NewSessionStore(backend Backend, logger *slog.Logger, sessOpts ...session.Option) *SessionStore {
	return &SessionStore{
		backend:  backend,
		logger:   loggerOrDefault(logger),
		sessOpts: sessOpts,
		live:     session.New(sessOpts...),
	}
}

// Subscribe registers fn for every committed change and returns a function
// that removes it.
func (s *SessionStore) Subscribe(fn func(Change[session.Snapshot])) func() {
	return s.subs.add(fn)
}

// Load reads the persisted snapshot into memory. A missing key yields no
// session. A corrupt snapshot is deleted, logged, and reported as
// ErrCorruptSnapshot.
func (s *SessionStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	return s.ensureLoaded(ctx)
}

// ensureLoaded lazily reconstructs the live session. Caller holds mu.
func (s *SessionStore) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	s.loaded = true
	s.live.Reset()

	raw, err := s.backend.Get(ctx, store.KeySession)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.loaded = false
		return fmt.Errorf("load session: %w", err)
	}

	if err := decodeSession(raw, s.live); err != nil {
		s.live.Reset()
		s.logger.Error("discarding corrupt session snapshot", "error", err)
		if derr := s.backend.Delete(ctx, store.KeySession); derr != nil {
			s.logger.Warn("failed to delete corrupt session snapshot", "error", derr)
		}
		return fmt.Errorf("load session: %w", err)
	}
	return nil
}

func decodeSession(raw []byte, into *session.GameSession) error {
	if err := schema.ValidateSession(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return into.Hydrate(snap)
}

// current returns a copy of the live snapshot, or nil. Caller holds mu.
func (s *SessionStore) current() *session.Snapshot {
	snap, err := s.live.Snapshot()
	if err != nil {
		return nil
	}
	return &snap
}

// persist writes next, or deletes the key when there is no session.
// Caller holds mu.
func (s *SessionStore) persist(ctx context.Context, next *session.Snapshot) error {
	if next == nil {
		if err := s.backend.Delete(ctx, store.KeySession); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := s.backend.Put(ctx, store.KeySession, raw); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// mutate runs fn against the live session under the lock. When fn reports
// a change the new snapshot is persisted and listeners are notified.
func (s *SessionStore) mutate(ctx context.Context, origin Origin, fn func(live *session.GameSession) (bool, error)) error {
	s.mu.Lock()
	if err := s.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrCorruptSnapshot) {
		s.mu.Unlock()
		return err
	}
	prev := s.current()
	changed, err := fn(s.live)
	if err != nil || !changed {
		s.mu.Unlock()
		return err
	}
	next := s.current()
	perr := s.persist(ctx, next)
	s.mu.Unlock()

	if perr != nil {
		s.logger.Error("session persist failed", "error", perr)
	}
	s.subs.notify(Change[session.Snapshot]{Prev: prev, Next: next, Origin: origin})
	return perr
}

// read runs fn against the live session under the lock without persisting.
func (s *SessionStore) read(ctx context.Context, fn func(live *session.GameSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrCorruptSnapshot) {
		return err
	}
	return fn(s.live)
}

// Snapshot returns the current session snapshot or session.ErrNoSession.
func (s *SessionStore) Snapshot(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := s.read(ctx, func(live *session.GameSession) error {
		var err error
		snap, err = live.Snapshot()
		return err
	})
	return snap, err
}

// Start begins a new active session, replacing any current one.
func (s *SessionStore) Start(ctx context.Context, level contract.Difficulty, duration time.Duration) (session.Snapshot, error) {
	var snap session.Snapshot
	err := s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		if err := live.Start(level, duration); err != nil {
			return false, err
		}
		snap, _ = live.Snapshot()
		return true, nil
	})
	return snap, err
}

// Hydrate replaces the session with snap as a local change. On failure the
// local session is cleared and ErrCorruptSnapshot is returned.
func (s *SessionStore) Hydrate(ctx context.Context, snap session.Snapshot) error {
	var herr error
	err := s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		had := live.Present()
		if herr = live.Hydrate(snap); herr != nil {
			s.logger.Error("session hydrate failed, clearing", "session_id", snap.ID, "error", herr)
			return had, nil
		}
		return true, nil
	})
	if herr != nil {
		return herr
	}
	return err
}

// ApplyRemote adopts a snapshot received from the remote document. The
// snapshot is rebuilt in isolation first; if that fails the local session
// is left untouched.
func (s *SessionStore) ApplyRemote(ctx context.Context, snap session.Snapshot) error {
	scratch := session.New(s.sessOpts...)
	if err := scratch.Hydrate(snap); err != nil {
		s.logger.Warn("rejecting remote session", "session_id", snap.ID, "error", err)
		return err
	}
	return s.mutate(ctx, OriginRemote, func(live *session.GameSession) (bool, error) {
		*live = *scratch
		return true, nil
	})
}

// ValidateInput checks text against the current task.
func (s *SessionStore) ValidateInput(ctx context.Context, text string) (bool, error) {
	var ok bool
	err := s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		var err error
		ok, err = live.ValidateInput(text)
		return err == nil, err
	})
	return ok, err
}

// AdvanceTask moves to the next task.
func (s *SessionStore) AdvanceTask(ctx context.Context) (bool, error) {
	var ok bool
	err := s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		var err error
		ok, err = live.AdvanceTask()
		return ok, err
	})
	return ok, err
}

// AllTasksCompleted reports the win condition.
func (s *SessionStore) AllTasksCompleted(ctx context.Context) (bool, error) {
	var done bool
	err := s.read(ctx, func(live *session.GameSession) error {
		var err error
		done, err = live.AllTasksCompleted()
		return err
	})
	return done, err
}

// Finish moves an active session to result. It returns false when the
// session was already terminal.
func (s *SessionStore) Finish(ctx context.Context, result session.Status) (bool, error) {
	var ok bool
	err := s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		var err error
		ok, err = live.Finish(result)
		return ok, err
	})
	return ok, err
}

// ExpireIfOverdue finishes an active session whose deadline has passed.
// The check and the transition happen under one lock, so concurrent
// callers see exactly one of them return true.
func (s *SessionStore) ExpireIfOverdue(ctx context.Context) (bool, error) {
	var expired bool
	err := s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		if !live.IsOverdue() {
			return false, nil
		}
		var err error
		expired, err = live.Finish(session.Expired)
		return expired, err
	})
	return expired, err
}

// AddLog appends one log line.
func (s *SessionStore) AddLog(ctx context.Context, text string) error {
	return s.AddLogs(ctx, text)
}

// AddLogs appends several log lines as one change.
func (s *SessionStore) AddLogs(ctx context.Context, lines ...string) error {
	return s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		for _, line := range lines {
			if err := live.AddLog(line); err != nil {
				return false, err
			}
		}
		return len(lines) > 0, nil
	})
}

// AddToInputHistory records a submitted input.
func (s *SessionStore) AddToInputHistory(ctx context.Context, text string) error {
	return s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		if strings.TrimSpace(text) == "" {
			return false, nil
		}
		if err := live.AddToInputHistory(text); err != nil {
			return false, err
		}
		return true, nil
	})
}

// TimeLeft is derived from the live session's deadline.
func (s *SessionStore) TimeLeft(ctx context.Context) (time.Duration, error) {
	var left time.Duration
	err := s.read(ctx, func(live *session.GameSession) error {
		var err error
		left, err = live.TimeLeft()
		return err
	})
	return left, err
}

// CurrentTask returns the task under the cursor and its index.
func (s *SessionStore) CurrentTask(ctx context.Context) (contract.TaskSnapshot, int, error) {
	var task contract.TaskSnapshot
	var idx int
	err := s.read(ctx, func(live *session.GameSession) error {
		var err error
		task, idx, err = live.CurrentTask()
		return err
	})
	return task, idx, err
}

// ClearFinished drops the session if it is terminal.
func (s *SessionStore) ClearFinished(ctx context.Context) (bool, error) {
	var cleared bool
	err := s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		st, err := live.Status()
		if err != nil || !st.IsTerminal() {
			return false, nil
		}
		live.Reset()
		cleared = true
		return true, nil
	})
	return cleared, err
}

// Clear drops the session regardless of status.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.mutate(ctx, OriginLocal, func(live *session.GameSession) (bool, error) {
		had := live.Present()
		live.Reset()
		return had, nil
	})
}
