package state

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/session"
	"github.com/roach88/porta/internal/store"
)

func TestSessionStore_StartPersists(t *testing.T) {
	ctx := context.Background()
	s, db, clk := newSessionStore(t)

	snap, err := s.Start(ctx, contract.Medium, 3*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, session.Active, snap.Status)

	reopened := NewSessionStore(db, nil, sessionOpts(clk)...)
	got, err := reopened.Snapshot(ctx)
	require.NoError(t, err)

	want, _ := json.Marshal(snap)
	have, _ := json.Marshal(got)
	assert.JSONEq(t, string(want), string(have))
}

func TestSessionStore_NoSession(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSessionStore(t)

	_, err := s.Snapshot(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)
	_, err = s.ValidateInput(ctx, "x")
	assert.ErrorIs(t, err, session.ErrNoSession)
	_, err = s.Finish(ctx, session.Won)
	assert.ErrorIs(t, err, session.ErrNoSession)

	expired, err := s.ExpireIfOverdue(ctx)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestSessionStore_NotifiesAfterPersist(t *testing.T) {
	ctx := context.Background()
	s, db, _ := newSessionStore(t)

	var rec recorder[session.Snapshot]
	s.Subscribe(func(c Change[session.Snapshot]) {
		rec.record(c)
		// The persisted bytes already reflect the change.
		_, err := db.Get(ctx, store.KeySession)
		assert.NoError(t, err)
	})

	_, err := s.Start(ctx, contract.Medium, time.Minute)
	require.NoError(t, err)

	require.Len(t, rec.changes, 1)
	assert.Nil(t, rec.changes[0].Prev)
	require.NotNil(t, rec.changes[0].Next)
	assert.Equal(t, OriginLocal, rec.changes[0].Origin)
	assert.Equal(t, session.Active, rec.changes[0].Next.Status)
}

func TestSessionStore_PlayToWin(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSessionStore(t)

	_, err := s.Start(ctx, contract.Medium, 3*time.Minute)
	require.NoError(t, err)

	for i, in := range []string{"AB", "!?", "abcdefg", "bc"} {
		ok, err := s.ValidateInput(ctx, in)
		require.NoError(t, err)
		require.True(t, ok, "task %d", i)
		_, err = s.AdvanceTask(ctx)
		require.NoError(t, err)
	}

	done, err := s.AllTasksCompleted(ctx)
	require.NoError(t, err)
	require.True(t, done)

	ok, err := s.Finish(ctx, session.Won)
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.Won, snap.Status)
	assert.Equal(t, session.WonMessage, snap.Logs[len(snap.Logs)-1])
}

func TestSessionStore_FinishTerminalIsSilent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSessionStore(t)

	_, err := s.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)
	_, err = s.Finish(ctx, session.Lost)
	require.NoError(t, err)

	var rec recorder[session.Snapshot]
	s.Subscribe(rec.record)

	ok, err := s.Finish(ctx, session.Won)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, rec.changes)

	snap, _ := s.Snapshot(ctx)
	assert.Equal(t, session.Lost, snap.Status)
}

func TestSessionStore_ExpireIfOverdueOnce(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newSessionStore(t)

	_, err := s.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)

	expired, err := s.ExpireIfOverdue(ctx)
	require.NoError(t, err)
	assert.False(t, expired, "not yet due")

	clk.Advance(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ExpireIfOverdue(ctx)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	snap, _ := s.Snapshot(ctx)
	assert.Equal(t, session.Expired, snap.Status)
	assert.Equal(t, session.ExpiredMessage, snap.Logs[len(snap.Logs)-1])
}

func TestSessionStore_CorruptLoadClears(t *testing.T) {
	ctx := context.Background()
	s, db, _ := newSessionStore(t)

	require.NoError(t, db.Put(ctx, store.KeySession, []byte(`{"id":"x","status":"bogus"}`)))

	err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	_, err = s.Snapshot(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)

	_, err = db.Get(ctx, store.KeySession)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionStore_HydrateFailureClears(t *testing.T) {
	ctx := context.Background()
	s, db, _ := newSessionStore(t)

	snap, err := s.Start(ctx, contract.Medium, time.Minute)
	require.NoError(t, err)

	bad := snap
	bad.Contract.CurrentTaskIndex = 42
	err = s.Hydrate(ctx, bad)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	_, err = s.Snapshot(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)
	_, err = db.Get(ctx, store.KeySession)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionStore_ApplyRemote(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSessionStore(t)

	local, err := s.Start(ctx, contract.Medium, time.Minute)
	require.NoError(t, err)

	var rec recorder[session.Snapshot]
	s.Subscribe(rec.record)

	t.Run("rejects corrupt and keeps local", func(t *testing.T) {
		bad := local
		bad.Status = "paused"
		assert.ErrorIs(t, s.ApplyRemote(ctx, bad), ErrCorruptSnapshot)

		got, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, local, got)
		assert.Empty(t, rec.changes)
	})

	t.Run("adopts valid remote verbatim", func(t *testing.T) {
		remote := local
		remote.Status = session.Won
		remote.UpdatedAt = local.UpdatedAt + 500
		remote.Version = 9

		require.NoError(t, s.ApplyRemote(ctx, remote))

		got, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, session.Won, got.Status)
		assert.Equal(t, remote.UpdatedAt, got.UpdatedAt)
		assert.Equal(t, int64(9), got.Version)

		require.Len(t, rec.changes, 1)
		assert.Equal(t, OriginRemote, rec.changes[0].Origin)
	})
}

func TestSessionStore_InputHistoryBlankIgnored(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSessionStore(t)

	_, err := s.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)

	var rec recorder[session.Snapshot]
	s.Subscribe(rec.record)

	require.NoError(t, s.AddToInputHistory(ctx, "   "))
	assert.Empty(t, rec.changes)

	require.NoError(t, s.AddToInputHistory(ctx, "hello"))
	require.Len(t, rec.changes, 1)
	assert.Equal(t, []string{"hello"}, rec.changes[0].Next.InputHistory)
}

func TestSessionStore_AddLogsIsOneChange(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSessionStore(t)

	_, err := s.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)

	var rec recorder[session.Snapshot]
	s.Subscribe(rec.record)

	require.NoError(t, s.AddLogs(ctx, "one", "two"))
	require.Len(t, rec.changes, 1)
	logs := rec.changes[0].Next.Logs
	assert.Equal(t, []string{"one", "two"}, logs[len(logs)-2:])
}

func TestSessionStore_ClearFinished(t *testing.T) {
	ctx := context.Background()
	s, db, _ := newSessionStore(t)

	_, err := s.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)

	cleared, err := s.ClearFinished(ctx)
	require.NoError(t, err)
	assert.False(t, cleared, "active sessions are kept")

	_, err = s.Finish(ctx, session.Lost)
	require.NoError(t, err)

	cleared, err = s.ClearFinished(ctx)
	require.NoError(t, err)
	assert.True(t, cleared)

	_, err = db.Get(ctx, store.KeySession)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionStore_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSessionStore(t)

	var rec recorder[session.Snapshot]
	cancel := s.Subscribe(rec.record)
	cancel()

	_, err := s.Start(ctx, contract.Easy, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, rec.changes)
}
