package chat

import (
	"bytes"
	"context"

	"github.com/goccy/go-json"

	"github.com/haraj-adan/chatsync/internal/metrics"
	"github.com/haraj-adan/chatsync/internal/protocol"
)

func (s *Store) handleNewMessage(data json.RawMessage) {
	m, err := decodeMessage(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("malformed message push")
		return
	}
	s.addMessage(m, "live")
}

func (s *Store) handleSendSuccess(data json.RawMessage) {
	var ok protocol.SendSuccess
	if err := json.Unmarshal(data, &ok); err != nil || len(bytes.TrimSpace(ok.Message)) == 0 {
		return
	}
	if m, err := decodeMessage(ok.Message); err == nil {
		s.addMessage(m, "ack")
	}
}

// addMessage merges a confirmed message into the active window and the
// conversation list, and decides whether it moves the unread badge.
func (s *Store) addMessage(m Message, origin string) {
	if m.ConversationID == 0 || m.ID.IsZero() {
		s.log.Debug().Str("id", m.ID.String()).Msg("ignoring message without conversation")
		return
	}

	s.mu.Lock()
	if id, _ := m.ID.Server(); !s.seen.Add(id) {
		s.mu.Unlock()
		s.log.Debug().Int64("id", id).Str("origin", origin).Msg("duplicate message ignored")
		return
	}
	var me *Member
	if s.me != nil {
		cp := *s.me
		me = &cp
	}
	mine := me != nil && m.Mine(me.ID)

	adoptedRoom := ""
	inActive := false
	if a := s.active; a != nil {
		if a.accepts(m, me) {
			a.id = m.ConversationID
			a.window.Adopt(a.id)
			if !a.thread {
				a.room = s.surface.Room(a.id)
				adoptedRoom = a.room
			}
		}
		if a.id == m.ConversationID {
			inActive = true
			if !a.window.Has(m.ID) {
				if pid, ok := a.window.FindPending(m.SenderID, m.Body); ok && mine {
					a.window.Reconcile(pid, m)
				} else {
					a.window.Insert(m)
				}
			}
		}
	}

	refresh := false
	if i := s.indexLocked(m.ConversationID); i >= 0 {
		c := s.conversations[i]
		last := m
		c.LastMessage = &last
		if !mine && !inActive && !s.surface.ReadOnly {
			c.Unread++
		}
		copy(s.conversations[1:i+1], s.conversations[:i])
		s.conversations[0] = c
	} else if s.hasListLocked() {
		refresh = true
	}

	bump := s.surface.Badge != "" && me != nil && !mine && !inActive &&
		(!s.surface.Privileged || m.Privileged != me.Admin)
	s.mu.Unlock()

	if adoptedRoom != "" {
		s.transport.JoinRoom(adoptedRoom)
	}
	metrics.MessagesObserved.WithLabelValues(s.surface.Name, origin).Inc()
	if bump && s.badge != nil {
		s.badge.Bump(s.surface.Badge)
	}
	if s.observer != nil {
		s.observer(s.surface.Name, m, origin)
	}
	if refresh {
		s.log.Debug().Int64("conversation", m.ConversationID).Msg("unknown conversation, refreshing list")
		s.spawn(func() {
			if err := s.FetchConversations(context.Background(), false); err != nil {
				s.log.Warn().Err(err).Msg("refresh after unknown conversation failed")
			}
		})
	}
}

func (s *Store) handleReadNotice(data json.RawMessage) {
	var n protocol.ReadNotice
	if err := json.Unmarshal(data, &n); err != nil {
		s.log.Warn().Err(err).Msg("malformed read notice")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.id == 0 || s.active.id != n.ChatID {
		return
	}
	s.active.window.MarkRead(n.MessageIDs)
}

func (s *Store) handleOnline(data json.RawMessage) {
	var p protocol.Presence
	if err := json.Unmarshal(data, &p); err == nil && p.UserID != 0 {
		s.presence.Online(p.UserID)
	}
}

func (s *Store) handleOffline(data json.RawMessage) {
	var p protocol.Presence
	if err := json.Unmarshal(data, &p); err == nil && p.UserID != 0 {
		s.presence.Offline(p.UserID)
	}
}

// handleReconnected restores room membership lost with the connection.
func (s *Store) handleReconnected(json.RawMessage) {
	s.mu.Lock()
	me := s.me
	room := ""
	if s.active != nil {
		room = s.active.room
	}
	s.mu.Unlock()

	if me != nil {
		s.joinRoleRooms(*me)
	}
	if room != "" {
		s.transport.JoinRoom(room)
	}
	s.log.Debug().Str("room", room).Msg("rooms restored after reconnect")
}
