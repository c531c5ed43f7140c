// Package ws implements the live-event transport: one persistent websocket
// connection per client, room membership, publish with optional ack, and
// fan-out of inbound push events to any number of subscribers.
package ws

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
)

// ErrClosed is returned by operations on a transport after Close.
var ErrClosed = errors.New("ws: transport closed")

// Handler receives the raw payload of a push event.
type Handler func(data json.RawMessage)

// AckFunc receives the server's reply to a publish. It is invoked at most
// once and possibly never.
type AckFunc func(result json.RawMessage)

// Subscription is returned by Subscribe. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Member identifies the authenticated user whose personal rooms the
// transport maintains across reconnects.
type Member struct {
	UserID int64
	Admin  bool
}

// Transport is the contract stores depend on. Session is the production
// implementation; wstest.Transport is an in-memory fake.
type Transport interface {
	// Connect starts the connection loop. Calling it again is a no-op.
	Connect(ctx context.Context) error
	JoinRoom(room string)
	LeaveRoom(room string)
	Publish(event string, payload interface{}, ack AckFunc) error
	Subscribe(event string, h Handler) Subscription
	// SetMember sets or clears (nil) the identity whose rooms are joined on
	// every connect.
	SetMember(m *Member)
	// AnnounceOffline tells the server the given user is leaving.
	AnnounceOffline(userID int64)
	Close() error
}
