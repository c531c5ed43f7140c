package messaging

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/bus"
	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/metrics"
)

// Publisher is where mirrored events go; *NATSClient implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Mirror republishes bus events under a subject prefix.
type Mirror struct {
	pub    Publisher
	prefix string
	log    zerolog.Logger
}

// NewMirror returns a mirror publishing under prefix.
func NewMirror(pub Publisher, prefix string) *Mirror {
	return &Mirror{pub: pub, prefix: prefix, log: logging.Component("nats")}
}

// UnreadSubject is the subject of a surface's unread count changes.
func UnreadSubject(prefix, surface string) string {
	return prefix + "." + SubjectUnread + "." + surface
}

// MessageSubject is the subject of a surface's observed messages.
func MessageSubject(prefix, surface string) string {
	return prefix + "." + SubjectMessage + "." + surface
}

// Attach subscribes the mirror to b.
func (m *Mirror) Attach(b *bus.Bus) error {
	if err := b.Subscribe(bus.TopicUnreadChanged, func(data []byte) {
		var ev bus.UnreadChanged
		if err := json.Unmarshal(data, &ev); err != nil {
			m.log.Warn().Err(err).Msg("malformed unread event")
			return
		}
		m.forward(UnreadSubject(m.prefix, ev.Surface), data)
	}); err != nil {
		return err
	}
	return b.Subscribe(bus.TopicMessageObserved, func(data []byte) {
		var ev bus.MessageObserved
		if err := json.Unmarshal(data, &ev); err != nil {
			m.log.Warn().Err(err).Msg("malformed message event")
			return
		}
		m.forward(MessageSubject(m.prefix, ev.Surface), data)
	})
}

func (m *Mirror) forward(subject string, data []byte) {
	if err := m.pub.Publish(subject, data); err != nil {
		metrics.MirrorPublishes.WithLabelValues("error").Inc()
		m.log.Warn().Err(err).Str("subject", subject).Msg("mirror publish failed")
		return
	}
	metrics.MirrorPublishes.WithLabelValues("ok").Inc()
}
