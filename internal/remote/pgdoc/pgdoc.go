// Package pgdoc stores remote documents in PostgreSQL.
//
// Each user has one row in user_documents with JSONB profile and session
// columns. Writes notify the porta_documents channel with the user id, and
// subscriptions LISTEN on a dedicated pooled connection.
package pgdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/porta/internal/remote"
)

// Channel is the NOTIFY channel carrying changed user ids.
const Channel = "porta_documents"

// serverMillis is the database clock in epoch milliseconds.
const serverMillis = `(extract(epoch from clock_timestamp()) * 1000)::bigint`

// Store is a PostgreSQL-backed remote.Remote.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ remote.Remote = (*Store)(nil)

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Open connects to dsn and ensures the table exists.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(pool, logger)
	if err := s.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureTable creates the documents table if it doesn't exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_documents (
			uid                TEXT PRIMARY KEY,
			profile            JSONB,
			profile_updated_at BIGINT NOT NULL DEFAULT 0,
			session            JSONB,
			session_updated_at BIGINT NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("ensure user_documents: %w", err)
	}
	return nil
}

// Fetch returns uid's document or remote.ErrNotFound.
func (s *Store) Fetch(ctx context.Context, uid string) (remote.Document, error) {
	var doc remote.Document
	var profile, session []byte
	err := s.pool.QueryRow(ctx, `
		SELECT profile, profile_updated_at, session, session_updated_at
		FROM user_documents WHERE uid = $1`, uid).
		Scan(&profile, &doc.ProfileUpdatedAt, &session, &doc.SessionUpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return remote.Document{}, remote.ErrNotFound
	}
	if err != nil {
		return remote.Document{}, fmt.Errorf("fetch document %s: %w", uid, err)
	}
	doc.Profile = profile
	doc.Session = session
	return doc, nil
}

// PutProfile upserts the profile column and notifies subscribers.
func (s *Store) PutProfile(ctx context.Context, uid string, profile json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		WITH up AS (
			INSERT INTO user_documents (uid, profile, profile_updated_at)
			VALUES ($1, $2::jsonb, `+serverMillis+`)
			ON CONFLICT (uid) DO UPDATE SET
				profile = EXCLUDED.profile,
				profile_updated_at = EXCLUDED.profile_updated_at
			RETURNING uid
		)
		SELECT pg_notify('`+Channel+`', uid) FROM up`,
		uid, jsonArg(profile))
	if err != nil {
		return fmt.Errorf("put profile %s: %w", uid, err)
	}
	return nil
}

// PutSession upserts the session column and notifies subscribers. A nil
// payload stores NULL.
func (s *Store) PutSession(ctx context.Context, uid string, session json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		WITH up AS (
			INSERT INTO user_documents (uid, session, session_updated_at)
			VALUES ($1, $2::jsonb, `+serverMillis+`)
			ON CONFLICT (uid) DO UPDATE SET
				session = EXCLUDED.session,
				session_updated_at = EXCLUDED.session_updated_at
			RETURNING uid
		)
		SELECT pg_notify('`+Channel+`', uid) FROM up`,
		uid, jsonArg(session))
	if err != nil {
		return fmt.Errorf("put session %s: %w", uid, err)
	}
	return nil
}

func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

// Subscribe holds one pooled connection in LISTEN mode until ctx is done or
// the subscription is closed. The current document is delivered first so
// that writes racing the LISTEN are not missed.
func (s *Store) Subscribe(ctx context.Context, uid string) (remote.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", uid, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("subscribe %s: %w", uid, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		box:     remote.NewMailbox(),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go s.listen(ctx, conn, uid, sub)
	return sub, nil
}

func (s *Store) listen(ctx context.Context, conn *pgxpool.Conn, uid string, sub *subscription) {
	var err error
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, uerr := conn.Exec(cleanup, "UNLISTEN "+Channel); uerr != nil {
			s.logger.Debug("unlisten failed", "uid", uid, "error", uerr)
		}
		conn.Release()
		sub.end(err)
	}()

	s.deliver(ctx, uid, sub)
	for {
		var n *pgconn.Notification
		n, err = conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil && sub.closed() {
				err = nil
			}
			return
		}
		if n.Payload != uid {
			continue
		}
		s.deliver(ctx, uid, sub)
	}
}

func (s *Store) deliver(ctx context.Context, uid string, sub *subscription) {
	doc, err := s.Fetch(ctx, uid)
	if errors.Is(err, remote.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("fetch after notify failed", "uid", uid, "error", err)
		return
	}
	sub.box.Offer(doc)
}

type subscription struct {
	mu      sync.Mutex
	box     remote.Mailbox
	done    chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
	err     error
	closing bool
}

func (s *subscription) Updates() <-chan remote.Document { return s.box.C() }
func (s *subscription) Done() <-chan struct{}           { return s.done }

func (s *subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops listening and waits for the connection to be released.
func (s *subscription) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()
	<-s.done
	return nil
}

func (s *subscription) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
