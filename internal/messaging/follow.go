package messaging

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/bus"
	"github.com/haraj-adan/chatsync/internal/logging"
)

// Subscriber is the receiving side of a mirror; *NATSClient implements it.
type Subscriber interface {
	Subscribe(subject string, handler func(subject string, data []byte)) error
	Unsubscribe(subject string) error
	Flush() error
}

// Event is one mirrored event. Exactly one of Unread and Message is set.
type Event struct {
	Kind    string // SubjectUnread or SubjectMessage
	Surface string
	Unread  *bus.UnreadChanged
	Message *bus.MessageObserved
}

// ParseEvent decodes an event received on subject under prefix.
func ParseEvent(prefix, subject string, data []byte) (Event, error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return Event{}, fmt.Errorf("messaging: subject %q outside prefix %q", subject, prefix)
	}
	kind, surface, ok := strings.Cut(rest, ".")
	if !ok || surface == "" {
		return Event{}, fmt.Errorf("messaging: malformed subject %q", subject)
	}

	ev := Event{Kind: kind, Surface: surface}
	switch kind {
	case SubjectUnread:
		ev.Unread = &bus.UnreadChanged{}
		if err := json.Unmarshal(data, ev.Unread); err != nil {
			return Event{}, fmt.Errorf("messaging: decode unread: %w", err)
		}
	case SubjectMessage:
		ev.Message = &bus.MessageObserved{}
		if err := json.Unmarshal(data, ev.Message); err != nil {
			return Event{}, fmt.Errorf("messaging: decode message: %w", err)
		}
	default:
		return Event{}, fmt.Errorf("messaging: unknown event kind %q", kind)
	}
	return ev, nil
}

// Follower receives what a Mirror publishes under the same prefix.
type Follower struct {
	sub     Subscriber
	prefix  string
	subject string
	log     zerolog.Logger
}

// NewFollower returns a follower of every mirrored subject under prefix.
func NewFollower(sub Subscriber, prefix string) *Follower {
	return &Follower{sub: sub, prefix: prefix, subject: prefix + ".>", log: logging.Component("nats")}
}

// Start subscribes and returns once the server has registered the
// subscription. Malformed events are logged and dropped.
func (f *Follower) Start(fn func(Event)) error {
	if err := f.sub.Subscribe(f.subject, func(subject string, data []byte) {
		ev, err := ParseEvent(f.prefix, subject, data)
		if err != nil {
			f.log.Warn().Err(err).Msg("dropping mirrored event")
			return
		}
		fn(ev)
	}); err != nil {
		return err
	}
	if err := f.sub.Flush(); err != nil {
		_ = f.sub.Unsubscribe(f.subject)
		return fmt.Errorf("messaging: confirm subscription: %w", err)
	}
	f.log.Info().Str("subject", f.subject).Msg("following mirror")
	return nil
}

// Stop ends the subscription.
func (f *Follower) Stop() error {
	return f.sub.Unsubscribe(f.subject)
}
