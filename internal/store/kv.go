package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	data, codec := encodeValue(value)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, value, codec, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			codec = excluded.codec,
			updated_at = excluded.updated_at
	`, key, data, codec, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var codec string
	err := s.db.QueryRowContext(ctx, `
		SELECT value, codec FROM snapshots WHERE key = ?
	`, key).Scan(&data, &codec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	value, err := decodeValue(data, codec)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// SyncState is the per-aggregate sync bookkeeping.
type SyncState struct {
	Aggregate string
	// Pending is set while a local change has not reached the remote.
	Pending           bool
	LastRemoteApplied int64
	LastError         string
	UpdatedAt         int64
}

// GetSyncState returns the bookkeeping for aggregate. A missing row yields
// the zero state.
func (s *Store) GetSyncState(ctx context.Context, aggregate string) (SyncState, error) {
	st := SyncState{Aggregate: aggregate}
	var pending int
	err := s.db.QueryRowContext(ctx, `
		SELECT pending, last_remote_applied, last_error, updated_at
		FROM sync_state WHERE aggregate = ?
	`, aggregate).Scan(&pending, &st.LastRemoteApplied, &st.LastError, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("get sync state %s: %w", aggregate, err)
	}
	st.Pending = pending != 0
	return st, nil
}

// PutSyncState writes the bookkeeping for st.Aggregate.
func (s *Store) PutSyncState(ctx context.Context, st SyncState) error {
	pending := 0
	if st.Pending {
		pending = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (aggregate, pending, last_remote_applied, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(aggregate) DO UPDATE SET
			pending = excluded.pending,
			last_remote_applied = excluded.last_remote_applied,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, st.Aggregate, pending, st.LastRemoteApplied, st.LastError, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put sync state %s: %w", st.Aggregate, err)
	}
	return nil
}
