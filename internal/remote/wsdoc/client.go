package wsdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/porta/internal/remote"
)

// Client is a remote.Remote backed by a websocket connection to a Server.
//
// Thread-safety: Client is safe for concurrent use. Writes are serialized;
// a single reader goroutine dispatches replies and updates.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan frame
	subs    map[uint64]*clientSub
	err     error
	done    chan struct{}
}

var _ remote.Remote = (*Client)(nil)

// ServerError is an error frame returned by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error [%s]: %s", e.Code, e.Message)
}

// Dial connects to url presenting token as a bearer credential.
func Dial(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: unauthorized: %w", url, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[uint64]chan frame),
		subs:    make(map[uint64]*clientSub),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the connection. Pending calls and subscriptions fail with
// remote.ErrClosed.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()
	for {
		var msg []byte
		_, msg, err = c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if jerr := json.Unmarshal(msg, &f); jerr != nil {
			c.logger.Warn("dropping malformed frame", "error", jerr)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.Type == TypeUpdate {
		if sub, ok := c.subs[f.ID]; ok && f.Document != nil {
			sub.box.Offer(*f.Document)
		}
		return
	}
	if ch, ok := c.pending[f.ID]; ok {
		delete(c.pending, f.ID)
		ch <- f
	}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) || errors.Is(cause, net.ErrClosed) {
		cause = remote.ErrClosed
	} else {
		cause = fmt.Errorf("%w: %v", remote.ErrClosed, cause)
	}
	c.err = cause
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for id, sub := range c.subs {
		sub.end(cause)
		delete(c.subs, id)
	}
	close(c.done)
}

// call sends req and waits for its reply.
func (c *Client) call(ctx context.Context, req frame, sub *clientSub) (frame, error) {
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return frame{}, err
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = ch
	if sub != nil {
		sub.id = req.ID
		c.subs[req.ID] = sub
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	err := writeJSON(c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return frame{}, fmt.Errorf("%s: %w", req.Type, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return frame{}, c.closedErr()
		}
		if resp.Type == TypeError {
			return frame{}, &ServerError{Code: resp.Code, Message: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return frame{}, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	delete(c.subs, id)
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return remote.ErrClosed
}

// Fetch implements remote.Remote.
func (c *Client) Fetch(ctx context.Context, uid string) (remote.Document, error) {
	resp, err := c.call(ctx, frame{Type: TypeFetch, UID: uid}, nil)
	var serr *ServerError
	if errors.As(err, &serr) && serr.Code == CodeNotFound {
		return remote.Document{}, remote.ErrNotFound
	}
	if err != nil {
		return remote.Document{}, fmt.Errorf("fetch %s: %w", uid, err)
	}
	if resp.Document == nil {
		return remote.Document{}, remote.ErrNotFound
	}
	return *resp.Document, nil
}

// PutProfile implements remote.Remote.
func (c *Client) PutProfile(ctx context.Context, uid string, profile json.RawMessage) error {
	if _, err := c.call(ctx, frame{Type: TypePutProfile, UID: uid, Payload: profile}, nil); err != nil {
		return fmt.Errorf("put profile %s: %w", uid, err)
	}
	return nil
}

// PutSession implements remote.Remote.
func (c *Client) PutSession(ctx context.Context, uid string, session json.RawMessage) error {
	if _, err := c.call(ctx, frame{Type: TypePutSession, UID: uid, Payload: session}, nil); err != nil {
		return fmt.Errorf("put session %s: %w", uid, err)
	}
	return nil
}

// Subscribe implements remote.Remote. The subscription is registered
// before the request is sent, so no update is lost to the reply race.
func (c *Client) Subscribe(ctx context.Context, uid string) (remote.Subscription, error) {
	sub := &clientSub{client: c, box: remote.NewMailbox(), done: make(chan struct{})}
	if _, err := c.call(ctx, frame{Type: TypeSubscribe, UID: uid}, sub); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", uid, err)
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.close(ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

type clientSub struct {
	client *Client
	id     uint64
	box    remote.Mailbox
	once   sync.Once
	done   chan struct{}
	err    error
}

func (s *clientSub) Updates() <-chan remote.Document { return s.box.C() }
func (s *clientSub) Done() <-chan struct{}           { return s.done }

func (s *clientSub) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close unsubscribes on the server, best effort.
func (s *clientSub) Close() error {
	s.close(nil)
	return nil
}

func (s *clientSub) close(cause error) {
	s.client.mu.Lock()
	_, live := s.client.subs[s.id]
	delete(s.client.subs, s.id)
	s.client.mu.Unlock()

	if live {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if _, err := s.client.call(ctx, frame{Type: TypeUnsubscribe, Ref: s.id}, nil); err != nil {
			s.client.logger.Debug("unsubscribe failed", "error", err)
		}
	}
	s.end(cause)
}

func (s *clientSub) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
