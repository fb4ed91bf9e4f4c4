package state

import (
	"path/filepath"
	"testing"

	"github.com/roach88/porta/internal/ids"
	"github.com/roach88/porta/internal/session"
	"github.com/roach88/porta/internal/store"
	"github.com/roach88/porta/internal/testutil"
)

const startMillis = 1_700_000_000_000

// createTestStore opens a SQLite store in a temp directory.
func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sessionOpts(clk *testutil.FakeClock) []session.Option {
	return []session.Option{
		session.WithClock(clk),
		session.WithIDs(testutil.NewSequenceGenerator("session")),
		session.WithSeeds(ids.NewFixedGenerator("abc123", "abc124", "abc125")),
	}
}

func newSessionStore(t *testing.T) (*SessionStore, *store.Store, *testutil.FakeClock) {
	t.Helper()
	db := createTestStore(t)
	clk := testutil.NewFakeClockMillis(startMillis)
	return NewSessionStore(db, nil, sessionOpts(clk)...), db, clk
}

// recorder collects changes delivered to a subscriber.
type recorder[T any] struct {
	changes []Change[T]
}

func (r *recorder[T]) record(c Change[T]) { r.changes = append(r.changes, c) }
