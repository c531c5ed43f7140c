package messaging

import (
	"errors"
	"sync"
	"testing"

	"github.com/haraj-adan/chatsync/internal/bus"
)

// loopback delivers published events to its subscribers synchronously.
type loopback struct {
	mu       sync.Mutex
	handlers map[string]func(string, []byte)
	flushErr error
}

func newLoopback() *loopback {
	return &loopback{handlers: make(map[string]func(string, []byte))}
}

func (l *loopback) Publish(subject string, data []byte) error {
	l.mu.Lock()
	var hs []func(string, []byte)
	for pattern, h := range l.handlers {
		if p, ok := cutWildcard(pattern); ok && len(subject) > len(p) && subject[:len(p)] == p {
			hs = append(hs, h)
		}
	}
	l.mu.Unlock()
	for _, h := range hs {
		h(subject, data)
	}
	return nil
}

func cutWildcard(pattern string) (string, bool) {
	if len(pattern) < 2 || pattern[len(pattern)-2:] != ".>" {
		return "", false
	}
	return pattern[:len(pattern)-1], true
}

func (l *loopback) Subscribe(subject string, h func(string, []byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[subject] = h
	return nil
}

func (l *loopback) Unsubscribe(subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handlers[subject]; !ok {
		return errors.New("no subscription")
	}
	delete(l.handlers, subject)
	return nil
}

func (l *loopback) Flush() error { return l.flushErr }

func TestFollowerReceivesMirroredEvents(t *testing.T) {
	b := bus.New()
	defer b.Close()
	nc := newLoopback()
	if err := NewMirror(nc, "haraj").Attach(b); err != nil {
		t.Fatal(err)
	}

	var got []Event
	f := NewFollower(nc, "haraj")
	if err := f.Start(func(ev Event) { got = append(got, ev) }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.Publish(bus.TopicUnreadChanged, bus.UnreadChanged{Surface: "user", Count: 2, Provisional: true}); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(bus.TopicMessageObserved, bus.MessageObserved{Surface: "support", MessageID: 7, Body: "hi"}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != SubjectUnread || got[0].Surface != "user" || got[0].Unread == nil || got[0].Unread.Count != 2 {
		t.Errorf("unexpected unread event %+v", got[0])
	}
	if got[1].Kind != SubjectMessage || got[1].Message == nil || got[1].Message.MessageID != 7 {
		t.Errorf("unexpected message event %+v", got[1])
	}

	if err := f.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_ = b.Publish(bus.TopicUnreadChanged, bus.UnreadChanged{Surface: "user", Count: 3})
	if len(got) != 2 {
		t.Errorf("stopped follower should receive nothing, got %d events", len(got))
	}
}

func TestFollowerStartFailsWithoutConfirmation(t *testing.T) {
	nc := newLoopback()
	nc.flushErr = errors.New("no pong")
	f := NewFollower(nc, "haraj")
	if err := f.Start(func(Event) {}); err == nil {
		t.Fatal("expected an error when the subscription is not confirmed")
	}
	if len(nc.handlers) != 0 {
		t.Error("unconfirmed subscription should be removed")
	}
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr bool
	}{
		{"unread", "p.unread.user", `{"surface":"user","count":1}`, false},
		{"message", "p.message.monitor", `{"surface":"monitor","message_id":3}`, false},
		{"other prefix", "q.unread.user", `{}`, true},
		{"no surface", "p.unread", `{}`, true},
		{"unknown kind", "p.typing.user", `{}`, true},
		{"bad body", "p.unread.user", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent("p", tt.subject, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseEvent(%q) error = %v, wantErr %v", tt.subject, err, tt.wantErr)
			}
		})
	}
}
