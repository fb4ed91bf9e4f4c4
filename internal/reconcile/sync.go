package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/porta/internal/profile"
	"github.com/roach88/porta/internal/remote"
	"github.com/roach88/porta/internal/schema"
	"github.com/roach88/porta/internal/session"
	"github.com/roach88/porta/internal/state"
)

// Ledger rows.
const (
	AggregateProfile = "profile"
	AggregateSession = "session"
)

// Sync is the pair of reconcilers for one signed-in user.
type Sync struct {
	Profile *Reconciler[profile.Snapshot]
	Session *Reconciler[session.Snapshot]
}

// ForUser starts profile and session sync for uid. The initial remote read
// happens before ForUser returns. Call Stop on sign-out or disconnect.
func ForUser(ctx context.Context, uid string, r remote.Remote, sessions *state.SessionStore, profiles *state.ProfileStore, opts ...Option) (*Sync, error) {
	o := buildOptions(opts)

	s := &Sync{
		Profile: newReconciler(ProfileAggregate(uid, r, profiles, o.defaults), r, uid, o),
		Session: newReconciler(SessionAggregate(uid, r, sessions), r, uid, o),
	}
	if err := s.Profile.Start(ctx); err != nil {
		s.Profile.Stop()
		return nil, fmt.Errorf("start profile sync: %w", err)
	}
	if err := s.Session.Start(ctx); err != nil {
		s.Profile.Stop()
		s.Session.Stop()
		return nil, fmt.Errorf("start session sync: %w", err)
	}
	o.logger.Info("sync started", "uid", uid)
	return s, nil
}

// Stop ends both reconcilers.
func (s *Sync) Stop() {
	s.Session.Stop()
	s.Profile.Stop()
}

// Resume retries failed pushes and lost subscriptions.
func (s *Sync) Resume(ctx context.Context) {
	s.Profile.Resume(ctx)
	s.Session.Resume(ctx)
}

// Flush pushes anything still waiting on a debounce timer.
func (s *Sync) Flush(ctx context.Context) {
	s.Profile.Flush(ctx)
	s.Session.Flush(ctx)
}

// Pending reports whether either aggregate has unpushed changes.
func (s *Sync) Pending() bool {
	return s.Profile.Pending() || s.Session.Pending()
}

// ProfileAggregate binds the profile store to the remote document. Every
// local change is pushed; before a push the local version is moved past
// any version seen remotely.
func ProfileAggregate(uid string, r remote.Remote, profiles *state.ProfileStore, defaults profile.Defaults) Aggregate[profile.Snapshot] {
	return Aggregate[profile.Snapshot]{
		Name:       AggregateProfile,
		Decode:     decodeProfile,
		RemoteWins: ProfileRemoteWins,
		Local: func(ctx context.Context) (*profile.Snapshot, error) {
			snap, err := profiles.Snapshot(ctx)
			if errors.Is(err, state.ErrNoProfile) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &snap, nil
		},
		Apply: profiles.ApplyRemote,
		Watch: profiles.Subscribe,
		Push: func(ctx context.Context, v profile.Snapshot) error {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode profile: %w", err)
			}
			return r.PutProfile(ctx, uid, raw)
		},
		Stamp: func(v profile.Snapshot) (int64, int64) { return v.UpdatedAt, v.Version },
		Prepare: func(ctx context.Context, v profile.Snapshot, seen int64) (profile.Snapshot, error) {
			if v.Version > seen {
				return v, nil
			}
			return profiles.CatchUp(ctx, seen)
		},
		Bootstrap: func(ctx context.Context) (bool, error) {
			_, created, err := profiles.Ensure(ctx, uid, defaults)
			return created, err
		},
	}
}

// SessionAggregate binds the session store to the remote document. Only a
// new active session or a status change is pushed.
func SessionAggregate(uid string, r remote.Remote, sessions *state.SessionStore) Aggregate[session.Snapshot] {
	return Aggregate[session.Snapshot]{
		Name:       AggregateSession,
		Decode:     decodeSession,
		RemoteWins: SessionRemoteWins,
		Local: func(ctx context.Context) (*session.Snapshot, error) {
			snap, err := sessions.Snapshot(ctx)
			if errors.Is(err, session.ErrNoSession) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &snap, nil
		},
		Apply: sessions.ApplyRemote,
		Watch: sessions.Subscribe,
		PushWorthy: func(c state.Change[session.Snapshot]) bool {
			return SessionPushWorthy(c.Prev, c.Next)
		},
		SkipStale: true,
		Push: func(ctx context.Context, v session.Snapshot) error {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode session: %w", err)
			}
			return r.PutSession(ctx, uid, raw)
		},
		Stamp: func(v session.Snapshot) (int64, int64) { return v.UpdatedAt, v.Version },
	}
}

// decodeProfile validates and decodes the profile half of doc. A payload
// without a client timestamp takes the server timestamp.
func decodeProfile(doc remote.Document) (*profile.Snapshot, error) {
	if !doc.HasProfile() {
		return nil, nil
	}
	if err := schema.ValidateProfile(doc.Profile); err != nil {
		return nil, err
	}
	var snap profile.Snapshot
	if err := json.Unmarshal(doc.Profile, &snap); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if snap.UpdatedAt == 0 {
		snap.UpdatedAt = doc.ProfileUpdatedAt
	}
	return &snap, nil
}

func decodeSession(doc remote.Document) (*session.Snapshot, error) {
	if !doc.HasSession() {
		return nil, nil
	}
	if err := schema.ValidateSession(doc.Session); err != nil {
		return nil, err
	}
	var snap session.Snapshot
	if err := json.Unmarshal(doc.Session, &snap); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if snap.UpdatedAt == 0 {
		snap.UpdatedAt = doc.SessionUpdatedAt
	}
	return &snap, nil
}
