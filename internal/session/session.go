// Package session owns the websocket connection to the agent backend. It
// attaches the bearer token, delivers inbound frames in order to a single
// handler, and writes outbound JSON. A lost connection is never redialed
// here; the caller opens a fresh session explicitly.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// State is the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
	StateError        State = "error"
)

// ErrNotConnected is returned by Send once the connection is gone.
var ErrNotConnected = errors.New("session: not connected")

// Session is one connection. Create with Dial; a Session is not reusable
// after Close or a read-loop exit.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// Dial opens a connection to baseURL with the bearer token and, when mode
// is non-empty, a mode selector, both as query parameters.
func Dial(ctx context.Context, baseURL, token, mode string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	if mode != "" {
		q.Set("mode", mode)
	}
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", baseURL, err)
	}
	// Agent payloads routinely exceed the 32 KiB default read limit.
	conn.SetReadLimit(1 << 22)

	logger.Info("connected", "url", baseURL, "mode", mode)
	return &Session{conn: conn, logger: logger, state: StateConnected}, nil
}

// State reports the connection lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Send writes one outbound JSON frame.
func (s *Session) Send(ctx context.Context, v any) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	if err := wsjson.Write(ctx, s.conn, v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadLoop delivers raw inbound frames to handler, one at a time, in
// delivery order, until the connection closes or ctx is cancelled. It
// returns nil on a clean close and the transport error otherwise.
func (s *Session) ReadLoop(ctx context.Context, handler func(raw []byte)) error {
	for {
		_, raw, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				s.setState(StateClosed)
				return nil
			}
			s.setState(StateError)
			return fmt.Errorf("read frame: %w", err)
		}
		handler(raw)
	}
}

// Close tears the connection down. All undelivered per-run decisions are
// simply lost.
func (s *Session) Close() error {
	s.setState(StateClosed)
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}
