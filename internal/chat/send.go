package chat

import (
	"bytes"
	"context"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/haraj-adan/chatsync/internal/protocol"
)

// SendMessage publishes text to the active conversation and adds a pending
// placeholder to the window right away. An ack carrying the stored message
// replaces the placeholder; a negative ack marks it failed; no ack leaves
// it pending until the live push arrives.
func (s *Store) SendMessage(ctx context.Context, text string) (Message, error) {
	if s.surface.ReadOnly {
		return Message{}, ErrReadOnly
	}
	if err := ValidateMessage(text); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	if s.me == nil {
		s.mu.Unlock()
		return Message{}, ErrNotAuthenticated
	}
	me := *s.me
	a := s.active
	if a == nil {
		s.mu.Unlock()
		return Message{}, ErrNoActiveConversation
	}
	payload, err := s.surface.sendPayload(me, a, text)
	convID := a.id
	s.mu.Unlock()
	if err != nil {
		return Message{}, err
	}

	if ok, _ := s.limiter.Allow(ctx, strconv.FormatInt(me.ID, 10), s.cfg.SendRule); !ok {
		return Message{}, ErrRateLimited
	}

	placeholder := Message{
		ID:             NewPendingID(),
		ConversationID: convID,
		SenderID:       me.ID,
		Body:           text,
		Type:           TypeText,
		Privileged:     s.surface.Privileged && me.Admin,
		CreatedAt:      s.now(),
		Status:         StatusPending,
	}
	s.mu.Lock()
	if s.active == a {
		a.window.Insert(placeholder)
	}
	s.mu.Unlock()

	pid := placeholder.ID
	err = s.transport.Publish(s.surface.SendEvent, payload, func(res json.RawMessage) {
		s.handleSendAck(a, pid, res)
	})
	if err != nil {
		s.setStatus(a, pid, StatusFailed)
		placeholder.Status = StatusFailed
		s.log.Warn().Err(err).Msg("message not sent")
		return placeholder, err
	}

	if s.badge != nil {
		s.badge.RefreshAfter(s.cfg.ReadRefreshDelay)
	}
	return placeholder, nil
}

func (s *Store) setStatus(a *activeConversation, id MessageID, st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == a {
		a.window.SetStatus(id, st)
	}
}

func (s *Store) handleSendAck(a *activeConversation, pid MessageID, res json.RawMessage) {
	var r protocol.AckResult
	if err := json.Unmarshal(res, &r); err != nil {
		s.log.Warn().Err(err).Msg("malformed send ack")
		return
	}
	if !r.Success {
		s.log.Warn().Str("error", r.Error).Msg("server rejected message")
		s.setStatus(a, pid, StatusFailed)
		return
	}
	raw := bytes.TrimSpace(r.Message)
	if len(raw) == 0 || raw[0] != '{' {
		return
	}
	m, err := decodeMessage(raw)
	if err != nil || m.ID.IsZero() {
		return
	}

	s.mu.Lock()
	if m.ConversationID == 0 {
		m.ConversationID = a.id
	}
	if s.active == a && a.window.Has(pid) {
		a.window.Reconcile(pid, m)
	}
	s.mu.Unlock()

	s.addMessage(m, "ack")
}

// SendMediaMessage uploads an attachment to the active conversation. The
// stored message comes back in the reply or through the live channel.
func (s *Store) SendMediaMessage(ctx context.Context, up MediaUpload) error {
	if s.surface.ReadOnly {
		return ErrReadOnly
	}

	s.mu.Lock()
	if s.me == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	me := *s.me
	a := s.active
	if a == nil {
		s.mu.Unlock()
		return ErrNoActiveConversation
	}
	form, err := s.surface.mediaForm(me, a, up)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if ok, _ := s.limiter.Allow(ctx, strconv.FormatInt(me.ID, 10), s.cfg.MediaRule); !ok {
		return ErrRateLimited
	}

	resp, err := s.api.Create(ctx, s.surface.MediaPath, form)
	if err != nil {
		s.log.Error().Err(err).Msg("media upload failed")
		return err
	}
	if data := bytes.TrimSpace(resp.Data); len(data) > 0 && data[0] == '{' {
		if m, err := decodeMessage(data); err == nil && !m.ID.IsZero() {
			s.addMessage(m, "ack")
		}
	}
	if s.badge != nil {
		s.badge.RefreshAfter(s.cfg.ReadRefreshDelay)
	}
	return nil
}

// MarkMessagesAsRead flags the unread messages of others in the active
// conversation id as read, sends one receipt with exactly their ids and
// schedules a badge refresh. It returns how many were marked. Read-only
// surfaces do nothing.
func (s *Store) MarkMessagesAsRead(id int64) (int, error) {
	if s.surface.ReadOnly {
		return 0, nil
	}

	s.mu.Lock()
	if s.me == nil {
		s.mu.Unlock()
		return 0, ErrNotAuthenticated
	}
	me := *s.me
	a := s.active
	if a == nil || a.id == 0 || a.id != id {
		s.mu.Unlock()
		return 0, nil
	}
	ids := a.window.Unread(me.ID)
	if len(ids) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	a.window.MarkRead(ids)
	if i := s.indexLocked(id); i >= 0 {
		s.conversations[i].Unread = 0
	}
	s.mu.Unlock()

	err := s.transport.Publish(s.surface.ReadReceiptEvent, protocol.ReadReceiptPayload{
		ChatID: id, MessageIDs: ids, ReaderID: me.ID,
	}, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("read receipt not sent")
	}
	if s.badge != nil {
		s.badge.RefreshAfter(s.cfg.ReadRefreshDelay)
	}
	return len(ids), err
}
