package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/porta/internal/contract"
	"github.com/roach88/porta/internal/ids"
	"github.com/roach88/porta/internal/testutil"
)

const startMillis = 1_700_000_000_000

func newSession(t *testing.T) (*GameSession, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClockMillis(startMillis)
	s := New(
		WithClock(clk),
		WithIDs(ids.NewFixedGenerator("session-1", "session-2")),
		WithSeeds(ids.NewFixedGenerator("abc123", "abc124")),
	)
	return s, clk
}

func started(t *testing.T) (*GameSession, *testutil.FakeClock) {
	t.Helper()
	s, clk := newSession(t)
	require.NoError(t, s.Start(contract.Medium, 3*time.Minute))
	return s, clk
}

func TestStart(t *testing.T) {
	s, _ := started(t)

	snap, err := s.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, "session-1", snap.ID)
	assert.Equal(t, contract.Medium, snap.Level)
	assert.Equal(t, Active, snap.Status)
	assert.Equal(t, int64(startMillis), snap.StartedAt)
	assert.Equal(t, int64(startMillis+180_000), snap.EndsAt)
	assert.Equal(t, []string{"Game Session started.", "Seed: abc123"}, snap.Logs)
	assert.Empty(t, snap.InputHistory)
	assert.Equal(t, "abc123", snap.Contract.Seed)
	assert.Equal(t, int64(startMillis), snap.UpdatedAt)
	assert.Len(t, snap.Contract.Tasks, 4)
}

func TestNoSession(t *testing.T) {
	s, _ := newSession(t)

	assert.False(t, s.Present())

	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = s.ValidateInput("x")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = s.AdvanceTask()
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = s.AllTasksCompleted()
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = s.Finish(Won)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = s.TimeLeft()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, s.AddLog("x"), ErrNoSession)
	assert.ErrorIs(t, s.AddToInputHistory("x"), ErrNoSession)
}

func TestPlayThroughToWin(t *testing.T) {
	s, _ := started(t)

	// abc123 on medium yields b2, b3, b1, i3.
	inputs := []string{"AB", "!?", "abcdefg", "bc"}
	for i, in := range inputs {
		ok, err := s.ValidateInput(in)
		require.NoError(t, err)
		require.True(t, ok, "task %d rejected %q", i, in)

		done, err := s.AllTasksCompleted()
		require.NoError(t, err)
		assert.Equal(t, i == len(inputs)-1, done)

		advanced, err := s.AdvanceTask()
		require.NoError(t, err)
		assert.Equal(t, i < len(inputs)-1, advanced)
	}

	finished, err := s.Finish(Won)
	require.NoError(t, err)
	assert.True(t, finished)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, Won, snap.Status)
	assert.Equal(t, WonMessage, snap.Logs[len(snap.Logs)-1])
}

func TestValidateInput_FailureMarksTask(t *testing.T) {
	s, _ := started(t)

	ok, err := s.ValidateInput("no uppercase")
	require.NoError(t, err)
	assert.False(t, ok)

	task, idx, err := s.CurrentTask()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, contract.Failed, task.Completed)
}

func TestFinish_TerminalIsFinal(t *testing.T) {
	s, _ := started(t)

	ok, err := s.Finish(Lost)
	require.NoError(t, err)
	assert.True(t, ok)

	for _, next := range []Status{Won, Expired, Lost} {
		ok, err = s.Finish(next)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	snap, _ := s.Snapshot()
	assert.Equal(t, Lost, snap.Status)
	assert.Equal(t, []string{"Game Session started.", "Seed: abc123", LostMessage}, snap.Logs)
}

func TestFinish_RejectsActive(t *testing.T) {
	s, _ := started(t)

	_, err := s.Finish(Active)
	assert.ErrorIs(t, err, ErrNotTerminal)

	st, _ := s.Status()
	assert.Equal(t, Active, st)
}

func TestLogs_Bounded(t *testing.T) {
	s, _ := started(t)

	for i := 0; i < 150; i++ {
		require.NoError(t, s.AddLog(fmt.Sprintf("log-%d", i)))
	}

	snap, _ := s.Snapshot()
	require.Len(t, snap.Logs, MaxLogs)
	assert.Equal(t, "log-50", snap.Logs[0])
	assert.Equal(t, "log-149", snap.Logs[MaxLogs-1])
}

func TestInputHistory_BoundedNewestFirst(t *testing.T) {
	s, _ := started(t)

	for i := 0; i < 60; i++ {
		require.NoError(t, s.AddToInputHistory(fmt.Sprintf("in-%d", i)))
	}
	require.NoError(t, s.AddToInputHistory("   "))
	require.NoError(t, s.AddToInputHistory(""))

	snap, _ := s.Snapshot()
	require.Len(t, snap.InputHistory, MaxHistory)
	assert.Equal(t, "in-59", snap.InputHistory[0])
	assert.Equal(t, "in-10", snap.InputHistory[MaxHistory-1])
}

func TestTimeLeft(t *testing.T) {
	s, clk := started(t)

	left, err := s.TimeLeft()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, left)

	clk.Advance(time.Minute)
	left, _ = s.TimeLeft()
	assert.Equal(t, 2*time.Minute, left)
	assert.False(t, s.IsOverdue())

	clk.Advance(2 * time.Minute)
	left, _ = s.TimeLeft()
	assert.Equal(t, time.Duration(0), left)
	assert.True(t, s.IsOverdue())

	clk.Advance(time.Hour)
	left, _ = s.TimeLeft()
	assert.Equal(t, time.Duration(0), left)
}

func TestMutationsStampUpdatedAt(t *testing.T) {
	s, clk := started(t)

	clk.Advance(5 * time.Second)
	require.NoError(t, s.AddLog("hello"))

	snap, _ := s.Snapshot()
	assert.Equal(t, int64(startMillis+5_000), snap.UpdatedAt)
}

func TestHydrate_RoundTrip(t *testing.T) {
	s, clk := started(t)
	_, _ = s.ValidateInput("AB")
	_, _ = s.AdvanceTask()
	_ = s.AddToInputHistory("AB")
	want, _ := s.Snapshot()

	clk.Advance(time.Minute)
	other, _ := newSession(t)
	require.NoError(t, other.Hydrate(want))

	got, err := other.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHydrate_DefaultsMissingCollections(t *testing.T) {
	s, _ := started(t)
	snap, _ := s.Snapshot()
	snap.Logs = nil
	snap.InputHistory = nil

	other, _ := newSession(t)
	require.NoError(t, other.Hydrate(snap))

	got, _ := other.Snapshot()
	assert.Equal(t, []string{StartedMessage}, got.Logs)
	assert.Equal(t, []string{}, got.InputHistory)
}

func TestHydrate_CorruptClearsSession(t *testing.T) {
	s, _ := started(t)
	snap, _ := s.Snapshot()

	bad := snap
	bad.Contract.CurrentTaskIndex = 99
	err := s.Hydrate(bad)
	assert.ErrorIs(t, err, contract.ErrCorruptSnapshot)
	assert.False(t, s.Present())

	bad = snap
	bad.Status = "paused"
	err = s.Hydrate(bad)
	assert.ErrorIs(t, err, contract.ErrCorruptSnapshot)
	assert.False(t, s.Present())
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s, _ := started(t)
	snap, _ := s.Snapshot()
	snap.Logs[0] = "mutated"
	snap.Contract.Tasks[0].Completed = contract.Completed

	again, _ := s.Snapshot()
	assert.Equal(t, StartedMessage, again.Logs[0])
	assert.Equal(t, contract.Pending, again.Contract.Tasks[0].Completed)
}

func TestSnapshot_TimeLeftAt(t *testing.T) {
	snap := Snapshot{EndsAt: 1_000}
	assert.Equal(t, int64(400), snap.TimeLeftAt(600))
	assert.Equal(t, int64(0), snap.TimeLeftAt(2_000))
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, Active.IsTerminal())
	assert.True(t, Won.IsTerminal())
	assert.True(t, Lost.IsTerminal())
	assert.True(t, Expired.IsTerminal())
}
