// Package wstest provides an in-memory ws.Transport for store tests.
package wstest

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/haraj-adan/chatsync/internal/protocol"
	"github.com/haraj-adan/chatsync/internal/ws"
)

// Published records one Publish call.
type Published struct {
	Event   string
	Payload json.RawMessage
	Ack     ws.AckFunc
}

// Transport records outbound traffic and lets tests push inbound events
// synchronously.
type Transport struct {
	registry *ws.Registry

	mu        sync.Mutex
	published []Published
	rooms     map[string]int
	joins     []string
	leaves    []string
	member    *ws.Member
	offline   []int64
	connected bool
	closed    bool
}

var _ ws.Transport = (*Transport)(nil)

// New returns a disconnected fake.
func New() *Transport {
	return &Transport{registry: ws.NewRegistry(), rooms: make(map[string]int)}
}

// Connect marks the fake connected and emits the reconnected signal.
func (t *Transport) Connect(context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ws.ErrClosed
	}
	already := t.connected
	t.connected = true
	if !already {
		t.joinMemberRoomsLocked()
	}
	t.mu.Unlock()
	if !already {
		t.registry.Dispatch(protocol.EventReconnected, nil)
	}
	return nil
}

func (t *Transport) joinMemberRoomsLocked() {
	if t.member == nil {
		return
	}
	rooms := []string{protocol.UserRoom(t.member.UserID)}
	if t.member.Admin {
		rooms = append(rooms, protocol.RoomAdmins)
	}
	for _, r := range rooms {
		t.rooms[r]++
		t.joins = append(t.joins, r)
	}
}

func (t *Transport) JoinRoom(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms[room]++
	t.joins = append(t.joins, room)
}

func (t *Transport) LeaveRoom(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, room)
	t.leaves = append(t.leaves, room)
}

func (t *Transport) Publish(event string, payload interface{}, ack ws.AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ws.ErrClosed
	}
	t.published = append(t.published, Published{Event: event, Payload: data, Ack: ack})
	return nil
}

func (t *Transport) Subscribe(event string, h ws.Handler) ws.Subscription {
	return t.registry.Subscribe(event, h)
}

func (t *Transport) SetMember(m *ws.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m != nil {
		cp := *m
		m = &cp
	}
	t.member = m
	if t.connected {
		t.joinMemberRoomsLocked()
	}
}

func (t *Transport) AnnounceOffline(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offline = append(t.offline, userID)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.connected = false
	return nil
}

// ---------------------------------------------------------------------------
// Test controls
// ---------------------------------------------------------------------------

// Push delivers an inbound event to subscribers on the calling goroutine
// and returns the number of handlers that ran.
func (t *Transport) Push(event string, payload interface{}) int {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return t.registry.Dispatch(event, data)
}

// Reconnect simulates a dropped and restored connection: every room is
// lost, member rooms are rejoined and the reconnected signal fires.
func (t *Transport) Reconnect() {
	t.mu.Lock()
	t.rooms = make(map[string]int)
	t.connected = true
	t.joinMemberRoomsLocked()
	t.mu.Unlock()
	t.registry.Dispatch(protocol.EventReconnected, nil)
}

// Published returns publishes of event, or all publishes when event is "".
func (t *Transport) Published(event string) []Published {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Published
	for _, p := range t.published {
		if event == "" || p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

// ResetPublished forgets recorded publishes.
func (t *Transport) ResetPublished() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = nil
}

// InRoom reports whether room is currently joined.
func (t *Transport) InRoom(room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rooms[room] > 0
}

// Joins returns every JoinRoom call in order.
func (t *Transport) Joins() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.joins...)
}

// Leaves returns every LeaveRoom call in order.
func (t *Transport) Leaves() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.leaves...)
}

// Member returns the identity last passed to SetMember.
func (t *Transport) Member() *ws.Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.member
}

// Offline returns the user ids passed to AnnounceOffline.
func (t *Transport) Offline() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.offline...)
}

// Handlers returns the number of subscribers for event.
func (t *Transport) Handlers(event string) int {
	return t.registry.Count(event)
}
