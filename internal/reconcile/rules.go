package reconcile

import (
	"github.com/roach88/porta/internal/profile"
	"github.com/roach88/porta/internal/session"
)

// ProfileRemoteWins reports whether remote should replace local. Version
// decides; the client timestamp breaks ties. A missing local always loses.
func ProfileRemoteWins(local *profile.Snapshot, remote profile.Snapshot) bool {
	if local == nil {
		return true
	}
	if remote.Version != local.Version {
		return remote.Version > local.Version
	}
	return remote.UpdatedAt > local.UpdatedAt
}

// SessionRemoteWins reports whether remote should replace local. Sessions
// carry no version for sync; the later client timestamp wins.
func SessionRemoteWins(local *session.Snapshot, remote session.Snapshot) bool {
	if local == nil {
		return true
	}
	return remote.UpdatedAt > local.UpdatedAt
}

// SessionPushWorthy reports whether a local session change should reach the
// remote: a brand new active session, or any status transition. Routine
// progress and log updates stay local.
func SessionPushWorthy(prev, next *session.Snapshot) bool {
	if next == nil {
		return false
	}
	if prev == nil || prev.ID != next.ID {
		return next.Status == session.Active
	}
	return prev.Status != next.Status
}
