package remote

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/roach88/porta/internal/clock"
)

// Memory is an in-process Remote. Every write fans out the updated document
// to the user's subscribers.
//
// Thread-safety: Memory is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	clock  clock.Clock
	docs   map[string]Document
	subs   map[string][]*memorySub
	closed bool
}

// NewMemory returns an empty store. A nil clock means the system clock.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.System{}
	}
	return &Memory{
		clock: clk,
		docs:  make(map[string]Document),
		subs:  make(map[string][]*memorySub),
	}
}

// Fetch returns a copy of uid's document.
func (m *Memory) Fetch(ctx context.Context, uid string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Document{}, ErrClosed
	}
	doc, ok := m.docs[uid]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDoc(doc), nil
}

// PutProfile replaces the profile sub-object.
func (m *Memory) PutProfile(ctx context.Context, uid string, profile json.RawMessage) error {
	return m.write(ctx, uid, func(d *Document, now int64) {
		d.Profile = slices.Clone(profile)
		d.ProfileUpdatedAt = now
	})
}

// PutSession replaces the session sub-object.
func (m *Memory) PutSession(ctx context.Context, uid string, session json.RawMessage) error {
	return m.write(ctx, uid, func(d *Document, now int64) {
		d.Session = slices.Clone(session)
		d.SessionUpdatedAt = now
	})
}

// Set replaces uid's whole document without stamping timestamps. It models
// a write from another device with its own server time.
func (m *Memory) Set(uid string, doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[uid] = copyDoc(doc)
	m.fanout(uid)
}

func (m *Memory) write(ctx context.Context, uid string, apply func(*Document, int64)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	doc := m.docs[uid]
	apply(&doc, clock.Millis(m.clock.Now()))
	m.docs[uid] = doc
	m.fanout(uid)
	return nil
}

// fanout delivers the current document to uid's subscribers. Caller holds mu.
func (m *Memory) fanout(uid string) {
	doc := m.docs[uid]
	for _, s := range m.subs[uid] {
		s.box.Offer(copyDoc(doc))
	}
}

// Subscribe starts delivering uid's document after each write. The
// subscription ends when ctx is done or Close is called.
func (m *Memory) Subscribe(ctx context.Context, uid string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{m: m, uid: uid, box: NewMailbox(), done: make(chan struct{})}
	m.subs[uid] = append(m.subs[uid], sub)
	go func() {
		select {
		case <-ctx.Done():
			m.remove(sub)
			sub.end(ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Subscribers returns the number of live subscriptions for uid.
func (m *Memory) Subscribers(uid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[uid])
}

// Close ends every subscription and rejects further calls.
func (m *Memory) Close() error {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string][]*memorySub)
	m.closed = true
	m.mu.Unlock()

	for _, list := range subs {
		for _, s := range list {
			s.end(ErrClosed)
		}
	}
	return nil
}

func (m *Memory) remove(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.uid] = slices.DeleteFunc(m.subs[sub.uid], func(s *memorySub) bool { return s == sub })
	if len(m.subs[sub.uid]) == 0 {
		delete(m.subs, sub.uid)
	}
}

type memorySub struct {
	m    *Memory
	uid  string
	box  Mailbox
	once sync.Once
	done chan struct{}
	err  error
}

func (s *memorySub) Updates() <-chan Document { return s.box.C() }
func (s *memorySub) Done() <-chan struct{}    { return s.done }

func (s *memorySub) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *memorySub) Close() error {
	s.m.remove(s)
	s.end(nil)
	return nil
}

func (s *memorySub) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func copyDoc(d Document) Document {
	d.Profile = slices.Clone(d.Profile)
	d.Session = slices.Clone(d.Session)
	return d
}
