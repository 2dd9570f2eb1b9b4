package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/basket/coachctl/internal/session"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_SendsTokenAndModeParams(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gotToken := make(chan string, 1)
	gotMode := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
		gotMode <- r.URL.Query().Get("mode")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	sess, err := session.Dial(ctx, wsURL(srv), "secret-token", "audit", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()

	if tok := <-gotToken; tok != "secret-token" {
		t.Fatalf("token param: got %q", tok)
	}
	if mode := <-gotMode; mode != "audit" {
		t.Fatalf("mode param: got %q", mode)
	}
	if sess.State() != session.StateConnected {
		t.Fatalf("expected connected state, got %s", sess.State())
	}
}

func TestReadLoop_DeliversFramesInOrderAndClosesClean(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for _, frame := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	sess, err := session.Dial(ctx, wsURL(srv), "tok", "", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()

	var got []string
	if err := sess.ReadLoop(ctx, func(raw []byte) {
		got = append(got, string(raw))
	}); err != nil {
		t.Fatalf("read loop: %v", err)
	}
	want := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d: got %q want %q", i, got[i], want[i])
		}
	}
	if sess.State() != session.StateClosed {
		t.Fatalf("clean close must end in closed state, got %s", sess.State())
	}
}

func TestSend_WritesJSONFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, raw, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		received <- raw
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	sess, err := session.Dial(ctx, wsURL(srv), "tok", "", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()

	if err := sess.Send(ctx, map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case raw := <-received:
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		if m["hello"] != "world" {
			t.Fatalf("unexpected frame: %v", m)
		}
	case <-ctx.Done():
		t.Fatalf("server never received the frame")
	}
}

func TestSend_AfterCloseReturnsErrNotConnected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Hold the connection open until the client closes.
		conn.Read(r.Context())
	}))
	defer srv.Close()

	sess, err := session.Dial(ctx, wsURL(srv), "tok", "", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sess.Send(ctx, map[string]string{"a": "b"}); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDial_BadURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := session.Dial(ctx, "://not-a-url", "tok", "", nil); err == nil {
		t.Fatalf("expected error for unparsable url")
	}
}
