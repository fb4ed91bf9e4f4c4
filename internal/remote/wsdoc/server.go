package wsdoc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/porta/internal/auth"
	"github.com/roach88/porta/internal/remote"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	outboxSize   = 16
)

// Server serves remote documents to authenticated websocket clients.
type Server struct {
	backend  remote.Remote
	auth     *auth.Authority
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer fronts backend. Every connection must present a token that
// authority accepts.
func NewServer(backend remote.Remote, authority *auth.Authority, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		backend: backend,
		auth:    authority,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// Handler returns the websocket endpoint.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			token = r.URL.Query().Get("access_token")
		}
		claims, err := s.auth.Verify(token)
		if err != nil {
			s.logger.Info("rejecting connection", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(rw, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.logger.Debug("client connected", "uid", claims.UserID, "remote_addr", r.RemoteAddr)
		c := &serverConn{
			srv:  s,
			conn: conn,
			uid:  claims.UserID,
			out:  make(chan frame, outboxSize),
			subs: make(map[uint64]remote.Subscription),
		}
		c.serve(r.Context())
		s.logger.Debug("client disconnected", "uid", claims.UserID)
	}
}

type serverConn struct {
	srv  *Server
	conn *websocket.Conn
	uid  string
	out  chan frame

	mu   sync.Mutex
	subs map[uint64]remote.Subscription
}

func (c *serverConn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer c.closeSubs()

	go c.writeLoop(ctx, cancel)

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req frame
		if err := json.Unmarshal(msg, &req); err != nil {
			c.send(ctx, frame{Type: TypeError, Code: CodeBadRequest, Error: "malformed frame"})
			continue
		}
		c.send(ctx, c.handle(ctx, req))
	}
}

func (c *serverConn) handle(ctx context.Context, req frame) frame {
	fail := func(code, msg string) frame {
		return frame{Type: TypeError, ID: req.ID, Code: code, Error: msg}
	}
	if req.UID != "" && req.UID != c.uid {
		return fail(CodeForbidden, "token does not grant access to this document")
	}

	switch req.Type {
	case TypeFetch:
		doc, err := c.srv.backend.Fetch(ctx, c.uid)
		if errors.Is(err, remote.ErrNotFound) {
			return fail(CodeNotFound, err.Error())
		}
		if err != nil {
			c.srv.logger.Warn("fetch failed", "uid", c.uid, "error", err)
			return fail(CodeInternal, "fetch failed")
		}
		return frame{Type: TypeOK, ID: req.ID, Document: &doc}

	case TypePutProfile, TypePutSession:
		var err error
		if req.Type == TypePutProfile {
			err = c.srv.backend.PutProfile(ctx, c.uid, req.Payload)
		} else {
			err = c.srv.backend.PutSession(ctx, c.uid, req.Payload)
		}
		if err != nil {
			c.srv.logger.Warn("write failed", "uid", c.uid, "type", req.Type, "error", err)
			return fail(CodeInternal, "write failed")
		}
		return frame{Type: TypeOK, ID: req.ID}

	case TypeSubscribe:
		sub, err := c.srv.backend.Subscribe(ctx, c.uid)
		if err != nil {
			c.srv.logger.Warn("subscribe failed", "uid", c.uid, "error", err)
			return fail(CodeInternal, "subscribe failed")
		}
		c.mu.Lock()
		c.subs[req.ID] = sub
		c.mu.Unlock()
		go c.forward(ctx, req.ID, sub)
		return frame{Type: TypeOK, ID: req.ID}

	case TypeUnsubscribe:
		c.mu.Lock()
		sub, ok := c.subs[req.Ref]
		delete(c.subs, req.Ref)
		c.mu.Unlock()
		if ok {
			sub.Close()
		}
		return frame{Type: TypeOK, ID: req.ID}

	default:
		return fail(CodeBadRequest, "unknown frame type "+req.Type)
	}
}

func (c *serverConn) forward(ctx context.Context, id uint64, sub remote.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case doc := <-sub.Updates():
			c.send(ctx, frame{Type: TypeUpdate, ID: id, Document: &doc})
		}
	}
}

func (c *serverConn) send(ctx context.Context, f frame) {
	select {
	case c.out <- f:
	case <-ctx.Done():
	}
}

func (c *serverConn) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cancel()
				return
			}
		case f := <-c.out:
			if err := writeJSON(c.conn, f); err != nil {
				cancel()
				return
			}
		}
	}
}

func (c *serverConn) closeSubs() {
	c.mu.Lock()
	subs := c.subs
	c.subs = map[uint64]remote.Subscription{}
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
