package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/porta/internal/clock"
	"github.com/roach88/porta/internal/profile"
	"github.com/roach88/porta/internal/schema"
	"github.com/roach88/porta/internal/store"
)

// ErrNoProfile is returned when no profile has been created or loaded.
var ErrNoProfile = errors.New("no profile")

// ProfileStore is the durable, observable owner of the player profile.
// Every local change increments Version and stamps UpdatedAt.
type ProfileStore struct {
	mu      sync.Mutex
	backend Backend
	logger  *slog.Logger
	clock   clock.Clock
	live    *profile.Snapshot
	loaded  bool

	subs listeners[profile.Snapshot]
}

// NewProfileStore returns a store persisting under store.KeyProfile. A nil
// clock means the system clock.
func NewProfileStore(backend Backend, logger *slog.Logger, clk clock.Clock) *ProfileStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &ProfileStore{
		backend: backend,
		logger:  loggerOrDefault(logger),
		clock:   clk,
	}
}

// Subscribe registers fn for every committed change.
func (p *ProfileStore) Subscribe(fn func(Change[profile.Snapshot])) func() {
	return p.subs.add(fn)
}

// Load reads the persisted profile into memory.
func (p *ProfileStore) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
	return p.ensureLoaded(ctx)
}

func (p *ProfileStore) ensureLoaded(ctx context.Context) error {
	if p.loaded {
		return nil
	}
	p.loaded = true
	p.live = nil

	raw, err := p.backend.Get(ctx, store.KeyProfile)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		p.loaded = false
		return fmt.Errorf("load profile: %w", err)
	}

	snap, err := decodeProfile(raw)
	if err != nil {
		p.logger.Error("discarding corrupt profile snapshot", "error", err)
		if derr := p.backend.Delete(ctx, store.KeyProfile); derr != nil {
			p.logger.Warn("failed to delete corrupt profile snapshot", "error", derr)
		}
		return fmt.Errorf("load profile: %w", err)
	}
	p.live = &snap
	return nil
}

func decodeProfile(raw []byte) (profile.Snapshot, error) {
	var snap profile.Snapshot
	if err := schema.ValidateProfile(raw); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return snap, nil
}

// checkProfile rejects profiles that could not have been produced locally.
func checkProfile(snap profile.Snapshot) error {
	switch {
	case snap.ID == "":
		return fmt.Errorf("%w: profile id is empty", ErrCorruptSnapshot)
	case snap.Money < 0 || snap.Tokens < 0:
		return fmt.Errorf("%w: negative balance", ErrCorruptSnapshot)
	case snap.Version < 0:
		return fmt.Errorf("%w: negative version", ErrCorruptSnapshot)
	}
	return nil
}

func (p *ProfileStore) persist(ctx context.Context, next *profile.Snapshot) error {
	if next == nil {
		if err := p.backend.Delete(ctx, store.KeyProfile); err != nil {
			return fmt.Errorf("persist profile: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	if err := p.backend.Put(ctx, store.KeyProfile, raw); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	return nil
}

// commit swaps in next (nil clears) under the lock held by the caller,
// persists it, releases the lock and notifies.
func (p *ProfileStore) commit(ctx context.Context, prev, next *profile.Snapshot, origin Origin) error {
	p.live = next
	err := p.persist(ctx, next)
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("profile persist failed", "error", err)
	}
	p.subs.notify(Change[profile.Snapshot]{Prev: clone(prev), Next: clone(next), Origin: origin})
	return err
}

func clone(s *profile.Snapshot) *profile.Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Snapshot returns the current profile or ErrNoProfile.
func (p *ProfileStore) Snapshot(ctx context.Context) (profile.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrCorruptSnapshot) {
		return profile.Snapshot{}, err
	}
	if p.live == nil {
		return profile.Snapshot{}, ErrNoProfile
	}
	return *p.live, nil
}

// Set replaces the profile as a local change. The stored version is one
// past the larger of the current and supplied versions.
func (p *ProfileStore) Set(ctx context.Context, snap profile.Snapshot) (profile.Snapshot, error) {
	if err := checkProfile(snap); err != nil {
		return profile.Snapshot{}, err
	}
	p.mu.Lock()
	if err := p.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrCorruptSnapshot) {
		p.mu.Unlock()
		return profile.Snapshot{}, err
	}
	prev := p.live
	if prev != nil {
		snap.Version = max(snap.Version, prev.Version)
	}
	snap.Version++
	snap.UpdatedAt = clock.Millis(p.clock.Now())
	return snap, p.commit(ctx, prev, &snap, OriginLocal)
}

// Ensure returns the current profile, creating and persisting
// profile.Default(uid, d) when there is none.
func (p *ProfileStore) Ensure(ctx context.Context, uid string, d profile.Defaults) (profile.Snapshot, bool, error) {
	p.mu.Lock()
	if err := p.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrCorruptSnapshot) {
		p.mu.Unlock()
		return profile.Snapshot{}, false, err
	}
	if p.live != nil {
		snap := *p.live
		p.mu.Unlock()
		return snap, false, nil
	}
	snap := profile.Default(uid, d)
	snap.Version = 1
	snap.UpdatedAt = clock.Millis(p.clock.Now())
	p.logger.Info("created default profile", "uid", uid, "username", snap.Username)
	return snap, true, p.commit(ctx, nil, &snap, OriginLocal)
}

// ApplyRemote adopts a remote profile verbatim, keeping its version and
// timestamp.
func (p *ProfileStore) ApplyRemote(ctx context.Context, snap profile.Snapshot) error {
	if err := checkProfile(snap); err != nil {
		p.logger.Warn("rejecting remote profile", "error", err)
		return err
	}
	p.mu.Lock()
	if err := p.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrCorruptSnapshot) {
		p.mu.Unlock()
		return err
	}
	return p.commit(ctx, p.live, &snap, OriginRemote)
}

// CatchUp moves the profile version past seen, stamping UpdatedAt, when it
// is not already ahead. The change is reported with OriginSync.
func (p *ProfileStore) CatchUp(ctx context.Context, seen int64) (profile.Snapshot, error) {
	p.mu.Lock()
	if err := p.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrCorruptSnapshot) {
		p.mu.Unlock()
		return profile.Snapshot{}, err
	}
	if p.live == nil {
		p.mu.Unlock()
		return profile.Snapshot{}, ErrNoProfile
	}
	if p.live.Version > seen {
		snap := *p.live
		p.mu.Unlock()
		return snap, nil
	}
	next := *p.live
	next.Version = seen + 1
	next.UpdatedAt = clock.Millis(p.clock.Now())
	return next, p.commit(ctx, p.live, &next, OriginSync)
}

// Update applies fn to the current profile as one local change. Returning
// an error from fn aborts without persisting.
func (p *ProfileStore) Update(ctx context.Context, fn func(profile.Snapshot) (profile.Snapshot, error)) (profile.Snapshot, error) {
	p.mu.Lock()
	if err := p.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrCorruptSnapshot) {
		p.mu.Unlock()
		return profile.Snapshot{}, err
	}
	if p.live == nil {
		p.mu.Unlock()
		return profile.Snapshot{}, ErrNoProfile
	}
	prev := p.live
	next, err := fn(*prev)
	if err != nil {
		p.mu.Unlock()
		return profile.Snapshot{}, err
	}
	next.ID = prev.ID
	next.Version = prev.Version + 1
	next.UpdatedAt = clock.Millis(p.clock.Now())
	return next, p.commit(ctx, prev, &next, OriginLocal)
}

// UpdateBalances applies deltas, clamping both balances at zero.
func (p *ProfileStore) UpdateBalances(ctx context.Context, deltaMoney, deltaTokens int64) (profile.Snapshot, error) {
	return p.Update(ctx, func(s profile.Snapshot) (profile.Snapshot, error) {
		return s.WithBalances(deltaMoney, deltaTokens), nil
	})
}

// Award credits a contract reward.
func (p *ProfileStore) Award(ctx context.Context, r profile.Reward) (profile.Snapshot, error) {
	return p.Update(ctx, func(s profile.Snapshot) (profile.Snapshot, error) {
		return s.Award(r), nil
	})
}

// Deduct subtracts a cost or fails with profile.ErrInsufficientFunds.
func (p *ProfileStore) Deduct(ctx context.Context, money, tokens int64) (profile.Snapshot, error) {
	return p.Update(ctx, func(s profile.Snapshot) (profile.Snapshot, error) {
		return s.Deduct(money, tokens)
	})
}

// UpdateUsername validates and sets the display name.
func (p *ProfileStore) UpdateUsername(ctx context.Context, name string) (profile.Snapshot, error) {
	name, err := profile.ValidateUsername(name)
	if err != nil {
		return profile.Snapshot{}, err
	}
	return p.Update(ctx, func(s profile.Snapshot) (profile.Snapshot, error) {
		s.Username = name
		return s, nil
	})
}

// RecordResult counts a finished contract.
func (p *ProfileStore) RecordResult(ctx context.Context, won bool) (profile.Snapshot, error) {
	return p.Update(ctx, func(s profile.Snapshot) (profile.Snapshot, error) {
		return s.RecordResult(won), nil
	})
}

// Clear drops the profile, as on sign-out.
func (p *ProfileStore) Clear(ctx context.Context) error {
	p.mu.Lock()
	if err := p.ensureLoaded(ctx); err != nil && !errors.Is(err, ErrCorruptSnapshot) {
		p.mu.Unlock()
		return err
	}
	if p.live == nil {
		p.mu.Unlock()
		return nil
	}
	return p.commit(ctx, p.live, nil, OriginLocal)
}
