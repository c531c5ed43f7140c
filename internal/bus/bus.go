// Package bus carries the few cross-cutting events that would otherwise
// force one store to reach into another: identity changes, logout
// requests, unread badge changes and observed chat messages.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/logging"
)

// Topics.
const (
	TopicIdentityChanged = "identity.changed"
	TopicLogoutRequested = "logout.requested"
	TopicUnreadChanged   = "unread.changed"
	TopicMessageObserved = "message.observed"
)

// IdentityChanged is published after a login or a restored session.
type IdentityChanged struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Admin  bool   `json:"admin"`
}

// Logout reasons.
const (
	ReasonUser           = "user"
	ReasonSessionExpired = "session_expired"
)

// LogoutRequested is published once local credentials are gone and every
// store must drop its state.
type LogoutRequested struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

// UnreadChanged mirrors a badge update.
type UnreadChanged struct {
	Surface     string `json:"surface"`
	Count       int    `json:"count"`
	Provisional bool   `json:"provisional"`
}

// MessageObserved is published when a store merges a confirmed message.
type MessageObserved struct {
	Surface        string    `json:"surface"`
	ConversationID int64     `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	SenderID       int64     `json:"sender_id"`
	Body           string    `json:"body"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
	Live           bool      `json:"live"`
}

// Bus is an in-process publish/subscribe hub. Publish returns after every
// subscriber has handled the event, so events on one topic are seen in
// publish order.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Bus.
func New() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            16,
			BlockPublishUntilSubscriberAck: true,
		}, logging.NewWatermillAdapter("bus")),
		log:    logging.Component("bus"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish encodes payload and delivers it to the topic's subscribers.
// Handlers must not publish to the topic they are handling.
func (b *Bus) Publish(topic string, payload interface{}) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("bus: closed")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe runs fn for every payload published on topic until Close.
func (b *Bus) Subscribe(topic string, fn func(payload []byte)) error {
	msgs, err := b.pubsub.Subscribe(b.ctx, topic)
	if err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			b.deliver(topic, msg, fn)
		}
	}()
	return nil
}

func (b *Bus) deliver(topic string, msg *message.Message, fn func([]byte)) {
	// A nack would make gochannel redeliver forever, so every message is
	// acked even when the handler panics.
	defer msg.Ack()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("topic", topic).Interface("panic", r).Msg("subscriber panicked")
		}
	}()
	fn(msg.Payload)
}

// On subscribes a typed handler; payloads that fail to decode are logged and
// skipped.
func On[T any](b *Bus, topic string, fn func(T)) error {
	return b.Subscribe(topic, func(payload []byte) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			b.log.Warn().Err(err).Str("topic", topic).Msg("dropping undecodable event")
			return
		}
		fn(v)
	})
}

// Close stops every subscriber.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
