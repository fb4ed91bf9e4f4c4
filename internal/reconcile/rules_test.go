package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/porta/internal/profile"
	"github.com/roach88/porta/internal/session"
)

func TestProfileRemoteWins(t *testing.T) {
	tests := []struct {
		name   string
		local  *profile.Snapshot
		remote profile.Snapshot
		want   bool
	}{
		{"no local", nil, profile.Snapshot{Version: 1}, true},
		{"version dominates timestamp", &profile.Snapshot{Version: 2, UpdatedAt: 100}, profile.Snapshot{Version: 3, UpdatedAt: 50}, true},
		{"equal version later timestamp", &profile.Snapshot{Version: 2, UpdatedAt: 100}, profile.Snapshot{Version: 2, UpdatedAt: 150}, true},
		{"equal version earlier timestamp", &profile.Snapshot{Version: 2, UpdatedAt: 100}, profile.Snapshot{Version: 2, UpdatedAt: 50}, false},
		{"identical", &profile.Snapshot{Version: 2, UpdatedAt: 100}, profile.Snapshot{Version: 2, UpdatedAt: 100}, false},
		{"older version newer clock", &profile.Snapshot{Version: 4, UpdatedAt: 100}, profile.Snapshot{Version: 3, UpdatedAt: 900}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProfileRemoteWins(tt.local, tt.remote))
		})
	}
}

func TestSessionRemoteWins(t *testing.T) {
	assert.True(t, SessionRemoteWins(nil, session.Snapshot{}))
	assert.True(t, SessionRemoteWins(&session.Snapshot{UpdatedAt: 100}, session.Snapshot{UpdatedAt: 101}))
	assert.False(t, SessionRemoteWins(&session.Snapshot{UpdatedAt: 100}, session.Snapshot{UpdatedAt: 100}))
	assert.False(t, SessionRemoteWins(&session.Snapshot{UpdatedAt: 100, Version: 1}, session.Snapshot{UpdatedAt: 99, Version: 50}))
}

func TestSessionPushWorthy(t *testing.T) {
	active := &session.Snapshot{ID: "s1", Status: session.Active}
	progressed := &session.Snapshot{ID: "s1", Status: session.Active, Logs: []string{"x"}}
	won := &session.Snapshot{ID: "s1", Status: session.Won}
	fresh := &session.Snapshot{ID: "s2", Status: session.Active}

	assert.True(t, SessionPushWorthy(nil, active), "new session")
	assert.True(t, SessionPushWorthy(won, fresh), "replaced by a new session")
	assert.False(t, SessionPushWorthy(active, progressed), "routine progress")
	assert.True(t, SessionPushWorthy(active, won), "status transition")
	assert.False(t, SessionPushWorthy(active, nil), "cleared")
	assert.False(t, SessionPushWorthy(nil, won), "terminal without transition")
}
