// Package clock abstracts wall-clock time so session deadlines can be
// driven from tests.
package clock

import "time"

// Clock reports the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// System reads the host clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Millis converts t to epoch milliseconds, the unit used in snapshots.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis converts epoch milliseconds back to a time.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
