// Package reconcile keeps the local session and profile in step with the
// remote per-user document using last-writer-wins.
//
// One Reconciler runs per aggregate. On start it reads the remote document
// once, adopts the remote payload if it wins, bootstraps a missing local
// aggregate, and then subscribes both ways: remote updates are resolved with
// the same rule, and push-worthy local changes are written back after a
// debounce. Changes that came from the remote are never pushed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/porta/internal/remote"
	"github.com/roach88/porta/internal/state"
	"github.com/roach88/porta/internal/store"
)

// DefaultDebounce is the window in which local changes coalesce into one
// push.
const DefaultDebounce = 300 * time.Millisecond

// Ledger persists sync bookkeeping across restarts.
type Ledger interface {
	GetSyncState(ctx context.Context, aggregate string) (store.SyncState, error)
	PutSyncState(ctx context.Context, st store.SyncState) error
}

// Aggregate binds a Reconciler to one local store and one half of the
// remote document.
type Aggregate[T any] struct {
	// Name keys the ledger row and log lines.
	Name string

	// Decode extracts this aggregate from a remote document. It returns nil
	// when the document has no payload for it.
	Decode func(doc remote.Document) (*T, error)

	// Local returns the current local value, nil when there is none.
	Local func(ctx context.Context) (*T, error)

	RemoteWins func(local *T, remote T) bool

	// Apply adopts a winning remote value with state.OriginRemote.
	Apply func(ctx context.Context, v T) error

	// Watch subscribes to local changes.
	Watch func(fn func(state.Change[T])) func()

	// PushWorthy filters local changes. Nil means every change.
	PushWorthy func(c state.Change[T]) bool

	// Push writes v to the remote.
	Push func(ctx context.Context, v T) error

	// SkipStale drops push-worthy changes whose timestamp is not after the
	// last adopted remote timestamp.
	SkipStale bool

	// Stamp returns the client timestamp and version of v.
	Stamp func(v T) (updatedAt, version int64)

	// Prepare runs before each push and may rewrite the local value. seen is
	// the highest remote version observed. Optional.
	Prepare func(ctx context.Context, v T, seen int64) (T, error)

	// Bootstrap creates a default local value when none exists after the
	// initial read. It reports whether it created one. Optional.
	Bootstrap func(ctx context.Context) (bool, error)
}

// Reconciler syncs one aggregate.
type Reconciler[T any] struct {
	agg      Aggregate[T]
	remote   remote.Remote
	uid      string
	logger   *slog.Logger
	ledger   Ledger
	debounce time.Duration

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	timer       *time.Timer
	pending     bool
	last        *T
	lastApplied int64
	seenVersion int64
	synced      bool
	sub         remote.Subscription
	unwatch     func()
	stopped     bool

	pushMu sync.Mutex
	wg     sync.WaitGroup
}

func newReconciler[T any](agg Aggregate[T], r remote.Remote, uid string, o options) *Reconciler[T] {
	return &Reconciler[T]{
		agg:      agg,
		remote:   r,
		uid:      uid,
		logger:   o.logger.With("aggregate", agg.Name, "uid", uid),
		ledger:   o.ledger,
		debounce: o.debounce,
	}
}

// Start performs the initial read and begins syncing. Remote failures are
// logged and do not fail Start; local storage stays authoritative until a
// later push or Resume succeeds.
func (r *Reconciler[T]) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Unlock()

	r.restoreLedger(ctx)

	r.ensureSynced(ctx)

	if r.agg.Bootstrap != nil {
		created, err := r.agg.Bootstrap(ctx)
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", r.agg.Name, err)
		}
		if created {
			r.markPending(ctx)
			r.flush(ctx)
		}
	}

	unwatch := r.agg.Watch(r.onLocal)
	r.mu.Lock()
	r.unwatch = unwatch
	pending := r.pending
	r.mu.Unlock()

	r.subscribe()
	if pending {
		r.schedule()
	}
	return nil
}

// Stop ends the subscription and drops any scheduled push. Pending state
// stays in the ledger for the next Start.
func (r *Reconciler[T]) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.unwatch != nil {
		r.unwatch()
	}
	sub := r.sub
	r.sub = nil
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	r.wg.Wait()
}

// Resume retries a failed push and re-establishes a lost subscription, as
// when the app returns to the foreground.
func (r *Reconciler[T]) Resume(ctx context.Context) {
	r.mu.Lock()
	stopped := r.stopped
	live := r.sub != nil
	pending := r.pending
	r.mu.Unlock()
	if stopped {
		return
	}
	if !live {
		r.subscribe()
	}
	if pending {
		r.flush(ctx)
	}
}

// Flush pushes immediately if a push is scheduled or pending.
func (r *Reconciler[T]) Flush(ctx context.Context) {
	r.mu.Lock()
	pending := r.pending
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()
	if pending {
		r.flush(ctx)
	}
}

// Pending reports whether a local change has not reached the remote.
func (r *Reconciler[T]) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// ensureSynced performs the initial remote read once. It reports whether
// the remote state is known and whether that read replaced local.
func (r *Reconciler[T]) ensureSynced(ctx context.Context) (ok, applied bool) {
	r.mu.Lock()
	synced := r.synced
	r.mu.Unlock()
	if synced {
		return true, false
	}

	doc, err := r.remote.Fetch(ctx, r.uid)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		r.logger.Debug("no remote document")
	case err != nil:
		r.logger.Warn("remote read failed", "error", err)
		return false, false
	default:
		applied = r.resolve(ctx, doc)
	}
	r.mu.Lock()
	r.synced = true
	r.mu.Unlock()
	return true, applied
}

func (r *Reconciler[T]) subscribe() {
	sub, err := r.remote.Subscribe(r.lifetime(), r.uid)
	if err != nil {
		r.logger.Warn("remote subscribe failed", "error", err)
		return
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		sub.Close()
		return
	}
	r.sub = sub
	r.wg.Add(1)
	r.mu.Unlock()

	go r.listen(sub)
}

func (r *Reconciler[T]) listen(sub remote.Subscription) {
	defer r.wg.Done()
	ctx := r.lifetime()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			if err := sub.Err(); err != nil {
				r.logger.Warn("remote subscription ended", "error", err)
			}
			r.mu.Lock()
			if r.sub == sub {
				r.sub = nil
			}
			r.mu.Unlock()
			return
		case doc := <-sub.Updates():
			r.resolve(ctx, doc)
		}
	}
}

// resolve applies the remote payload in doc if it wins over local.
func (r *Reconciler[T]) resolve(ctx context.Context, doc remote.Document) bool {
	incoming, err := r.agg.Decode(doc)
	if err != nil {
		r.logger.Warn("ignoring invalid remote payload", "error", err)
		return false
	}
	if incoming == nil {
		return false
	}
	updatedAt, version := r.agg.Stamp(*incoming)

	r.mu.Lock()
	r.seenVersion = max(r.seenVersion, version)
	r.mu.Unlock()

	local, err := r.agg.Local(ctx)
	if err != nil {
		r.logger.Warn("local read failed", "error", err)
		return false
	}
	if !r.agg.RemoteWins(local, *incoming) {
		return false
	}
	if err := r.agg.Apply(ctx, *incoming); err != nil {
		r.logger.Warn("applying remote payload failed", "error", err)
		return false
	}
	r.logger.Debug("applied remote", "updated_at", updatedAt, "version", version)

	r.mu.Lock()
	r.lastApplied = max(r.lastApplied, updatedAt)
	r.mu.Unlock()
	r.saveLedger(ctx, "")
	return true
}

// onLocal runs on the mutating goroutine after the store has persisted.
func (r *Reconciler[T]) onLocal(c state.Change[T]) {
	if c.Origin != state.OriginLocal {
		return
	}
	worthy := r.agg.PushWorthy == nil || r.agg.PushWorthy(c)

	r.mu.Lock()
	if r.agg.SkipStale && c.Next != nil && worthy {
		updatedAt, _ := r.agg.Stamp(*c.Next)
		if r.lastApplied > 0 && updatedAt <= r.lastApplied {
			worthy = false
		}
	}
	if !worthy && !r.pending {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if worthy {
		if c.Next != nil {
			next := *c.Next
			r.mu.Lock()
			r.last = &next
			r.mu.Unlock()
		}
		r.markPending(r.lifetime())
	}
	r.schedule()
}

// schedule replaces any armed timer with a fresh one.
func (r *Reconciler[T]) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		r.wg.Add(1)
		ctx := r.ctx
		r.mu.Unlock()
		defer r.wg.Done()
		r.flush(ctx)
	})
}

// flush pushes the current local value. Pushes are serialized.
func (r *Reconciler[T]) flush(ctx context.Context) {
	r.pushMu.Lock()
	defer r.pushMu.Unlock()

	ok, applied := r.ensureSynced(ctx)
	if !ok {
		r.saveLedger(ctx, "remote unreachable")
		return
	}
	if applied {
		// The remote was newer than what we were about to push.
		r.clearPending(ctx)
		return
	}

	local, err := r.agg.Local(ctx)
	if err != nil {
		r.fail(ctx, fmt.Errorf("read local: %w", err))
		return
	}
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if local == nil && last == nil {
		r.clearPending(ctx)
		return
	}
	// A value cleared locally before the timer fired still goes out as the
	// last worthy change, so the remote does not keep an older one.
	var v T
	if local != nil {
		v = *local
	} else {
		v = *last
	}
	if r.agg.Prepare != nil {
		r.mu.Lock()
		seen := r.seenVersion
		r.mu.Unlock()
		if v, err = r.agg.Prepare(ctx, v, seen); err != nil {
			r.fail(ctx, fmt.Errorf("prepare push: %w", err))
			return
		}
	}
	if err := r.agg.Push(ctx, v); err != nil {
		r.fail(ctx, err)
		return
	}
	updatedAt, version := r.agg.Stamp(v)
	r.logger.Debug("pushed", "updated_at", updatedAt, "version", version)

	r.mu.Lock()
	r.seenVersion = max(r.seenVersion, version)
	if r.last == last {
		r.last = nil
	}
	r.mu.Unlock()
	r.clearPending(ctx)
}

func (r *Reconciler[T]) fail(ctx context.Context, err error) {
	r.logger.Warn("push failed, will retry", "error", err)
	r.saveLedger(ctx, err.Error())
}

func (r *Reconciler[T]) markPending(ctx context.Context) {
	r.mu.Lock()
	already := r.pending
	r.pending = true
	r.mu.Unlock()
	if !already {
		r.saveLedger(ctx, "")
	}
}

func (r *Reconciler[T]) clearPending(ctx context.Context) {
	r.mu.Lock()
	r.pending = false
	r.mu.Unlock()
	r.saveLedger(ctx, "")
}

func (r *Reconciler[T]) lifetime() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

func (r *Reconciler[T]) restoreLedger(ctx context.Context) {
	if r.ledger == nil {
		return
	}
	st, err := r.ledger.GetSyncState(ctx, r.agg.Name)
	if err != nil {
		r.logger.Warn("reading sync state failed", "error", err)
		return
	}
	r.mu.Lock()
	r.pending = st.Pending
	r.lastApplied = st.LastRemoteApplied
	r.mu.Unlock()
}

func (r *Reconciler[T]) saveLedger(ctx context.Context, lastErr string) {
	if r.ledger == nil {
		return
	}
	r.mu.Lock()
	st := store.SyncState{
		Aggregate:         r.agg.Name,
		Pending:           r.pending,
		LastRemoteApplied: r.lastApplied,
		LastError:         lastErr,
	}
	r.mu.Unlock()
	if err := r.ledger.PutSyncState(ctx, st); err != nil {
		r.logger.Warn("writing sync state failed", "error", err)
	}
}
