package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/profile"
	"github.com/roach88/porta/internal/remote"
	"github.com/roach88/porta/internal/session"
	"github.com/roach88/porta/internal/state"
	"github.com/roach88/porta/internal/store"
	"github.com/roach88/porta/internal/testutil"
)

const (
	uid         = "user-abcdef"
	startMillis = 1_700_000_000_000
	debounce    = 10 * time.Millisecond
	waitFor     = 2 * time.Second
	tick        = 5 * time.Millisecond
)

var errOffline = errors.New("offline")

// countingRemote counts writes and can simulate being offline.
type countingRemote struct {
	*remote.Memory
	profilePuts atomic.Int32
	sessionPuts atomic.Int32
	offline     atomic.Bool
}

func (c *countingRemote) Fetch(ctx context.Context, uid string) (remote.Document, error) {
	if c.offline.Load() {
		return remote.Document{}, errOffline
	}
	return c.Memory.Fetch(ctx, uid)
}

func (c *countingRemote) PutProfile(ctx context.Context, uid string, raw json.RawMessage) error {
	if c.offline.Load() {
		return errOffline
	}
	c.profilePuts.Add(1)
	return c.Memory.PutProfile(ctx, uid, raw)
}

func (c *countingRemote) PutSession(ctx context.Context, uid string, raw json.RawMessage) error {
	if c.offline.Load() {
		return errOffline
	}
	c.sessionPuts.Add(1)
	return c.Memory.PutSession(ctx, uid, raw)
}

type harness struct {
	db       *store.Store
	clock    *testutil.FakeClock
	remote   *countingRemote
	sessions *state.SessionStore
	profiles *state.ProfileStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := testutil.NewFakeClockMillis(startMillis)
	return &harness{
		db:     db,
		clock:  clk,
		remote: &countingRemote{Memory: remote.NewMemory(clk)},
		sessions: state.NewSessionStore(db, nil,
			session.WithClock(clk),
			session.WithIDs(testutil.NewSequenceGenerator("session")),
			session.WithSeeds(testutil.NewSequenceGenerator("seed")),
		),
		profiles: state.NewProfileStore(db, nil, clk),
	}
}

func (h *harness) start(t *testing.T) *Sync {
	t.Helper()
	s, err := ForUser(context.Background(), uid, h.remote, h.sessions, h.profiles,
		WithDebounce(debounce),
		WithLedger(h.db),
		WithProfileDefaults(profile.Defaults{Money: 500}),
	)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func (h *harness) remoteProfile(t *testing.T) *profile.Snapshot {
	t.Helper()
	doc, err := h.remote.Memory.Fetch(context.Background(), uid)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	p, err := decodeProfile(doc)
	require.NoError(t, err)
	return p
}

func (h *harness) remoteSession(t *testing.T) *session.Snapshot {
	t.Helper()
	doc, err := h.remote.Memory.Fetch(context.Background(), uid)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	s, err := decodeSession(doc)
	require.NoError(t, err)
	return s
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestForUser_BootstrapsMissingProfile(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	local, err := h.profiles.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user_user-a", local.Username)
	assert.Equal(t, int64(500), local.Money)

	remoteSnap := h.remoteProfile(t)
	require.NotNil(t, remoteSnap, "default profile is pushed immediately")
	assert.Equal(t, local, *remoteSnap)
}

func TestForUser_RemoteProfileWinsOnStartup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.profiles.Set(ctx, profile.Snapshot{ID: uid, Username: "local", Version: 1})
	require.NoError(t, err)

	incoming := profile.Snapshot{ID: uid, Username: "remote", Money: 42, Version: 5, UpdatedAt: 10}
	h.remote.Set(uid, remote.Document{Profile: mustJSON(t, incoming), ProfileUpdatedAt: 10})

	h.start(t)

	got, err := h.profiles.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, incoming, got)
	assert.Equal(t, int32(0), h.remote.profilePuts.Load(), "adopted remote is not echoed back")
}

func TestForUser_LocalProfileKeptWhenAhead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	local, err := h.profiles.Set(ctx, profile.Snapshot{ID: uid, Username: "local", Version: 6})
	require.NoError(t, err)

	h.remote.Set(uid, remote.Document{
		Profile: mustJSON(t, profile.Snapshot{ID: uid, Username: "remote", Version: 3, UpdatedAt: startMillis + 99999}),
	})
	h.start(t)

	got, err := h.profiles.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, local, got)
}

func TestProfileChangesAreDebounced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start(t)
	base := h.remote.profilePuts.Load()

	for range 5 {
		_, err := h.profiles.UpdateBalances(ctx, 10, 1)
		require.NoError(t, err)
	}

	local, err := h.profiles.Snapshot(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p := h.remoteProfile(t)
		return p != nil && p.Version == local.Version
	}, waitFor, tick)
	assert.Equal(t, base+1, h.remote.profilePuts.Load(), "burst coalesces into one write")
}

func TestSessionPushPolicy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start(t)

	started, err := h.sessions.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.remote.sessionPuts.Load() == 1 }, waitFor, tick)
	assert.Equal(t, started.ID, h.remoteSession(t).ID)

	h.clock.Advance(time.Second)
	require.NoError(t, h.sessions.AddLog(ctx, "routine"))
	_, err = h.sessions.ValidateInput(ctx, "x")
	require.NoError(t, err)
	time.Sleep(5 * debounce)
	assert.Equal(t, int32(1), h.remote.sessionPuts.Load(), "progress stays local")

	h.clock.Advance(time.Second)
	_, err = h.sessions.Finish(ctx, session.Lost)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.remote.sessionPuts.Load() == 2 }, waitFor, tick)
	assert.Equal(t, session.Lost, h.remoteSession(t).Status)
}

func TestClearedSessionStillPushesFinalStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	// The timer never fires on its own; only Flush pushes.
	s, err := ForUser(ctx, uid, h.remote, h.sessions, h.profiles,
		WithDebounce(time.Hour),
		WithLedger(h.db),
		WithProfileDefaults(profile.Defaults{Money: 500}),
	)
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	started, err := h.sessions.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)
	s.Flush(ctx)
	require.Equal(t, session.Active, h.remoteSession(t).Status)

	h.clock.Advance(time.Second)
	_, err = h.sessions.Finish(ctx, session.Lost)
	require.NoError(t, err)
	require.NoError(t, h.sessions.Clear(ctx))
	s.Flush(ctx)

	got := h.remoteSession(t)
	require.NotNil(t, got)
	assert.Equal(t, started.ID, got.ID)
	assert.Equal(t, session.Lost, got.Status)
	assert.False(t, s.Pending())

	// A second device adopts the finished session, never an active one.
	s.Stop()
	other := newHarness(t)
	other.remote = h.remote
	other.start(t)
	snap, err := other.sessions.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, started.ID, snap.ID)
	assert.Equal(t, session.Lost, snap.Status)
}

func TestRemoteSessionUpdateIsNotEchoed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start(t)

	local, err := h.sessions.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.remote.sessionPuts.Load() == 1 }, waitFor, tick)

	won := local
	won.Status = session.Won
	won.UpdatedAt = local.UpdatedAt + 1000
	h.remote.Set(uid, remote.Document{Session: mustJSON(t, won), SessionUpdatedAt: won.UpdatedAt})

	require.Eventually(t, func() bool {
		snap, err := h.sessions.Snapshot(ctx)
		return err == nil && snap.Status == session.Won
	}, waitFor, tick)

	time.Sleep(5 * debounce)
	assert.Equal(t, int32(1), h.remote.sessionPuts.Load())
}

func TestStaleRemoteSessionIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start(t)

	local, err := h.sessions.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)

	stale := local
	stale.Status = session.Lost
	stale.UpdatedAt = local.UpdatedAt - 1
	h.remote.Set(uid, remote.Document{Session: mustJSON(t, stale)})

	time.Sleep(5 * debounce)
	got, err := h.sessions.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.Active, got.Status)
}

func TestFailedPushRetriedOnResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start(t)

	h.remote.offline.Store(true)
	_, err := h.profiles.UpdateUsername(ctx, "neo")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := h.db.GetSyncState(ctx, AggregateProfile)
		return err == nil && st.Pending && st.LastError != ""
	}, waitFor, tick)
	assert.True(t, s.Pending())

	h.remote.offline.Store(false)
	s.Resume(ctx)

	assert.False(t, s.Pending())
	assert.Equal(t, "neo", h.remoteProfile(t).Username)
	st, err := h.db.GetSyncState(ctx, AggregateProfile)
	require.NoError(t, err)
	assert.False(t, st.Pending)
}

func TestPendingSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.start(t)

	h.remote.offline.Store(true)
	_, err := h.profiles.UpdateUsername(ctx, "trinity")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _ := h.db.GetSyncState(ctx, AggregateProfile)
		return st.Pending && st.LastError != ""
	}, waitFor, tick)
	s.Stop()

	h.remote.offline.Store(false)
	h.start(t)

	require.Eventually(t, func() bool {
		p := h.remoteProfile(t)
		return p != nil && p.Username == "trinity"
	}, waitFor, tick)
}

func TestStopEndsSubscription(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)

	assert.Equal(t, 2, h.remote.Subscribers(uid))
	s.Stop()
	assert.Equal(t, 0, h.remote.Subscribers(uid))
}

func TestCatchUpBeforePush(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// An unpushed local v5 meets a remote v5 from another device with an
	// older timestamp. Local wins, and its push must move past v5.
	local, err := h.profiles.Set(ctx, profile.Snapshot{ID: uid, Username: "local", Version: 4})
	require.NoError(t, err)
	require.Equal(t, int64(5), local.Version)
	require.NoError(t, h.db.PutSyncState(ctx, store.SyncState{Aggregate: AggregateProfile, Pending: true}))

	h.remote.Set(uid, remote.Document{
		Profile: mustJSON(t, profile.Snapshot{ID: uid, Username: "remote", Version: 5, UpdatedAt: 1}),
	})
	h.start(t)

	require.Eventually(t, func() bool {
		p := h.remoteProfile(t)
		return p != nil && p.Username == "local" && p.Version == 6
	}, waitFor, tick)

	got, err := h.profiles.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Version)
}
