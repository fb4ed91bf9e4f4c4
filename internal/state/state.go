// Package state owns the live session and profile aggregates.
//
// Each store is the single in-process owner of its aggregate. Every mutating
// call runs load, mutate and persist under one mutex, so no two mutations
// interleave and no reader sees a snapshot that has not been persisted.
// Listeners are notified after the lock is released, on the caller's
// goroutine, with the previous and next snapshots and the origin of the
// change. Listeners may read the store but must not mutate it synchronously.
package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/porta/internal/contract"
)

// ErrCorruptSnapshot is returned when a persisted or supplied snapshot
// cannot be applied.
var ErrCorruptSnapshot = contract.ErrCorruptSnapshot

// Backend is durable key/value storage. Get returns an error matching
// store.ErrNotFound for a missing key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Origin tells listeners where a change came from.
type Origin int

const (
	// OriginLocal is a change made by this process.
	OriginLocal Origin = iota
	// OriginRemote is a change adopted from the remote document. Sync
	// listeners must not push these back.
	OriginRemote
	// OriginSync is bookkeeping done by the reconciler itself, such as
	// moving a profile version past one seen remotely. Not pushed either.
	OriginSync
)

func (o Origin) String() string {
	switch o {
	case OriginRemote:
		return "remote"
	case OriginSync:
		return "sync"
	default:
		return "local"
	}
}

// Change describes one committed mutation. Prev or Next is nil when there
// was or is no aggregate.
type Change[T any] struct {
	Prev   *T
	Next   *T
	Origin Origin
}

// listeners is a registry of change callbacks.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Change[T])
}

func (l *listeners[T]) add(fn func(Change[T])) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(Change[T]))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners[T]) notify(c Change[T]) {
	l.mu.Lock()
	fns := make([]func(Change[T]), 0, len(l.fns))
	// Registration order.
	for i := 0; i < l.next; i++ {
		if fn, ok := l.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

