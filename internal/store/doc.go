// Package store provides SQLite-backed local storage for porta snapshots.
//
// The store is a small key/value table holding one serialized snapshot per
// aggregate key (profile, session), plus per-aggregate sync bookkeeping so a
// failed remote push survives a restart.
//
// # Values
//
//   - Stored as JSON bytes under a codec tag
//   - Values of 1 KiB or more are zstd-compressed (codec "zstd")
//   - Reads decode transparently; callers only see JSON
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
