// Package remote defines the per-user remote document that the reconciler
// syncs against, plus an in-process implementation.
//
// A document holds one profile and one session payload, each paired with a
// server-assigned timestamp in epoch milliseconds. Payloads are kept as raw
// JSON so that receivers can validate them before decoding.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Fetch when the user has no document.
var ErrNotFound = errors.New("remote document not found")

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("remote closed")

// Document is the remote per-user document.
type Document struct {
	Profile          json.RawMessage `json:"profile,omitempty"`
	ProfileUpdatedAt int64           `json:"profileUpdatedAt,omitempty"`
	Session          json.RawMessage `json:"session,omitempty"`
	SessionUpdatedAt int64           `json:"sessionUpdatedAt,omitempty"`
}

// HasProfile reports whether the document carries a profile payload.
func (d Document) HasProfile() bool { return present(d.Profile) }

// HasSession reports whether the document carries a session payload.
func (d Document) HasSession() bool { return present(d.Session) }

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// Remote is the authoritative document store.
//
// PutProfile and PutSession merge-write one sub-object and stamp its server
// timestamp; the other sub-object is left as is. Passing a nil session
// payload clears it.
type Remote interface {
	Fetch(ctx context.Context, uid string) (Document, error)
	PutProfile(ctx context.Context, uid string, profile json.RawMessage) error
	PutSession(ctx context.Context, uid string, session json.RawMessage) error
	Subscribe(ctx context.Context, uid string) (Subscription, error)
}

// Subscription delivers the full document after every remote write.
// Delivery order is not guaranteed to match write order, and intermediate
// documents may be coalesced; receivers resolve conflicts themselves.
//
// Updates is never closed. Done is closed when the subscription ends, after
// which Err reports why (nil after Close).
type Subscription interface {
	Updates() <-chan Document
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Mailbox is a one-slot buffer that keeps only the newest document. A
// subscriber that falls behind sees the latest state, not every write.
type Mailbox struct {
	ch chan Document
}

// NewMailbox returns an empty mailbox.
func NewMailbox() Mailbox { return Mailbox{ch: make(chan Document, 1)} }

// C is the receive side.
func (m Mailbox) C() <-chan Document { return m.ch }

// Offer replaces any undelivered document with doc. Callers serialize
// offers per mailbox.
func (m Mailbox) Offer(doc Document) {
	for {
		select {
		case m.ch <- doc:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}
