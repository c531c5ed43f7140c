package ws

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/goccy/go-json"

	"github.com/haraj-adan/chatsync/internal/protocol"
)

// ---------------------------------------------------------------------------
// Test server helpers
// ---------------------------------------------------------------------------

type serverConn struct {
	conn   net.Conn
	header http.Header
	frames chan protocol.Frame
}

// newTestServer accepts websocket connections and hands each one to the
// test through the returned channel. Client frames are decoded and fed into
// serverConn.frames.
func newTestServer(t *testing.T) (*httptest.Server, chan *serverConn) {
	t.Helper()
	conns := make(chan *serverConn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Clone()
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn, header: header, frames: make(chan protocol.Frame, 32)}
		conns <- sc
		go func() {
			defer close(sc.frames)
			for {
				data, err := wsutil.ReadClientText(conn)
				if err != nil {
					return
				}
				f, err := protocol.DecodeFrame(data)
				if err != nil {
					continue
				}
				sc.frames <- f
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ReconnectMin = 10 * time.Millisecond
	cfg.ReconnectMax = 50 * time.Millisecond
	cfg.PingInterval = 0
	return cfg
}

func (sc *serverConn) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := protocol.EncodeFrame(event, payload, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := wsutil.WriteServerText(sc.conn, data); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func (sc *serverConn) next(t *testing.T) protocol.Frame {
	t.Helper()
	select {
	case f, ok := <-sc.frames:
		if !ok {
			t.Fatal("server connection closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
	}
	return protocol.Frame{}
}

func acceptConn(t *testing.T, conns chan *serverConn) *serverConn {
	t.Helper()
	select {
	case sc := <-conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
	}
	return nil
}

func roomOf(t *testing.T, f protocol.Frame) string {
	t.Helper()
	var room string
	if err := json.Unmarshal(f.Data, &room); err != nil {
		t.Fatalf("room payload: %v", err)
	}
	return room
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestConnectJoinsMemberRooms(t *testing.T) {
	srv, conns := newTestServer(t)
	s := NewSession(testConfig(wsURL(srv)), func() string { return "tok-1" })
	defer s.Close()

	reconnected := make(chan struct{}, 4)
	s.Subscribe(protocol.EventReconnected, func(json.RawMessage) { reconnected <- struct{}{} })
	s.SetMember(&Member{UserID: 5, Admin: true})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should be a no-op: %v", err)
	}

	sc := acceptConn(t, conns)
	if got := sc.header.Get("Authorization"); got != "Bearer tok-1" {
		t.Errorf("expected bearer header, got %q", got)
	}

	f := sc.next(t)
	if f.Type != protocol.EventJoinRoom || roomOf(t, f) != "user_5" {
		t.Fatalf("expected joinRoom user_5, got %s %s", f.Type, f.Data)
	}
	f = sc.next(t)
	if f.Type != protocol.EventJoinRoom || roomOf(t, f) != protocol.RoomAdmins {
		t.Fatalf("expected joinRoom admins, got %s %s", f.Type, f.Data)
	}
	waitSignal(t, reconnected, "reconnected signal")
}

func TestPushFanOutAndUnsubscribe(t *testing.T) {
	srv, conns := newTestServer(t)
	s := NewSession(testConfig(wsURL(srv)), nil)
	defer s.Close()

	var a, b atomic.Int32
	got := make(chan struct{}, 8)
	subA := s.Subscribe(protocol.EventUserOnline, func(json.RawMessage) { a.Add(1); got <- struct{}{} })
	s.Subscribe(protocol.EventUserOnline, func(data json.RawMessage) {
		var p protocol.Presence
		if err := json.Unmarshal(data, &p); err == nil && p.UserID == 9 {
			b.Add(1)
		}
		got <- struct{}{}
	})

	s.Connect(context.Background())
	sc := acceptConn(t, conns)

	sc.push(t, protocol.EventUserOnline, protocol.Presence{UserID: 9})
	waitSignal(t, got, "first handler")
	waitSignal(t, got, "second handler")

	subA.Unsubscribe()
	subA.Unsubscribe()

	sc.push(t, protocol.EventUserOnline, protocol.Presence{UserID: 9})
	waitSignal(t, got, "remaining handler")

	if a.Load() != 1 {
		t.Errorf("unsubscribed handler ran %d times, want 1", a.Load())
	}
	if b.Load() != 2 {
		t.Errorf("remaining handler ran %d times, want 2", b.Load())
	}
}

func TestPublishAckInvokedOnce(t *testing.T) {
	srv, conns := newTestServer(t)
	s := NewSession(testConfig(wsURL(srv)), nil)
	defer s.Close()

	s.Connect(context.Background())
	sc := acceptConn(t, conns)
	if err := s.WaitConnected(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	var calls atomic.Int32
	done := make(chan protocol.AckResult, 2)
	err := s.Publish(protocol.EventSendUserMessage, protocol.UserMessagePayload{SenderID: 1, ReceiverID: 2, Message: "hi", Type: "text"},
		func(data json.RawMessage) {
			calls.Add(1)
			var res protocol.AckResult
			_ = json.Unmarshal(data, &res)
			done <- res
		})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	f := sc.next(t)
	if f.Type != protocol.EventSendUserMessage || f.Ack == 0 {
		t.Fatalf("expected acked sendUserMessage, got %+v", f)
	}

	reply, _ := protocol.EncodeFrame(protocol.TypeAck, protocol.AckResult{Success: true}, f.Ack)
	wsutil.WriteServerText(sc.conn, reply)
	wsutil.WriteServerText(sc.conn, reply)

	select {
	case res := <-done:
		if !res.Success {
			t.Errorf("expected success ack")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ack never ran")
	}

	// A later push proves both ack frames were consumed.
	seen := make(chan struct{}, 1)
	s.Subscribe(protocol.EventUserOffline, func(json.RawMessage) { seen <- struct{}{} })
	sc.push(t, protocol.EventUserOffline, protocol.Presence{UserID: 1})
	waitSignal(t, seen, "sentinel push")

	if calls.Load() != 1 {
		t.Errorf("ack ran %d times, want 1", calls.Load())
	}
}

func TestOutboxFlushedAfterRooms(t *testing.T) {
	srv, conns := newTestServer(t)
	s := NewSession(testConfig(wsURL(srv)), nil)
	defer s.Close()

	s.SetMember(&Member{UserID: 3})
	if err := s.Publish(protocol.EventCountChatNotifications, 3, nil); err != nil {
		t.Fatalf("queued publish: %v", err)
	}
	s.JoinRoom("user_chat_1") // dropped while disconnected

	s.Connect(context.Background())
	sc := acceptConn(t, conns)

	f := sc.next(t)
	if f.Type != protocol.EventJoinRoom || roomOf(t, f) != "user_3" {
		t.Fatalf("expected personal room first, got %s %s", f.Type, f.Data)
	}
	f = sc.next(t)
	if f.Type != protocol.EventCountChatNotifications {
		t.Fatalf("expected queued count request, got %s", f.Type)
	}
}

func TestReconnectRejoinsAndSignals(t *testing.T) {
	srv, conns := newTestServer(t)
	s := NewSession(testConfig(wsURL(srv)), nil)
	defer s.Close()

	reconnected := make(chan struct{}, 4)
	s.Subscribe(protocol.EventReconnected, func(json.RawMessage) { reconnected <- struct{}{} })
	s.SetMember(&Member{UserID: 8})
	s.Connect(context.Background())

	first := acceptConn(t, conns)
	first.next(t)
	waitSignal(t, reconnected, "first connect")

	first.conn.Close()

	second := acceptConn(t, conns)
	f := second.next(t)
	if f.Type != protocol.EventJoinRoom || roomOf(t, f) != "user_8" {
		t.Fatalf("expected personal room rejoined, got %s %s", f.Type, f.Data)
	}
	waitSignal(t, reconnected, "reconnect signal")
}

func TestAnnounceOfflineNotQueued(t *testing.T) {
	srv, conns := newTestServer(t)
	s := NewSession(testConfig(wsURL(srv)), nil)
	defer s.Close()

	s.AnnounceOffline(4) // disconnected: dropped

	s.Connect(context.Background())
	sc := acceptConn(t, conns)
	if err := s.WaitConnected(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	s.AnnounceOffline(4)

	f := sc.next(t)
	if f.Type != protocol.EventOffline {
		t.Fatalf("expected offline, got %s", f.Type)
	}
	var id int64
	if err := json.Unmarshal(f.Data, &id); err != nil || id != 4 {
		t.Errorf("expected user id 4, got %s", f.Data)
	}
}

func TestPublishAfterClose(t *testing.T) {
	s := NewSession(testConfig("ws://127.0.0.1:1"), nil)
	s.Close()
	if err := s.Publish(protocol.EventJoinRoom, "x", nil); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Connect(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed from Connect, got %v", err)
	}
}

func TestRegistryCount(t *testing.T) {
	r := NewRegistry()
	s1 := r.Subscribe("a", func(json.RawMessage) {})
	r.Subscribe("a", func(json.RawMessage) {})
	if r.Count("a") != 2 {
		t.Fatalf("expected 2 handlers, got %d", r.Count("a"))
	}
	s1.Unsubscribe()
	if r.Count("a") != 1 {
		t.Fatalf("expected 1 handler, got %d", r.Count("a"))
	}
	if n := r.Dispatch("missing", nil); n != 0 {
		t.Errorf("expected no handlers for missing event, got %d", n)
	}
}
