package chat

import (
	"context"
	"fmt"

	"github.com/haraj-adan/chatsync/internal/gateway"
	"github.com/haraj-adan/chatsync/internal/metrics"
	"github.com/haraj-adan/chatsync/internal/protocol"
)

// activeConversation is the projection of the open conversation.
type activeConversation struct {
	id           int64
	target       int64 // recipient while the conversation does not exist yet
	thread       bool  // the customer's own support thread
	participants []Participant
	window       *Window
	cursor       Cursor
	loaded       int // history messages merged so far
	loading      bool
	room         string
}

func newActive(id int64, limit int) *activeConversation {
	return &activeConversation{id: id, window: NewWindow(), cursor: NewCursor(limit)}
}

// recipient is the other party of a two-party conversation.
func (a *activeConversation) recipient(me int64) int64 {
	if a.target != 0 {
		return a.target
	}
	for _, p := range a.participants {
		if p.ID != me {
			return p.ID
		}
	}
	return 0
}

// accepts reports whether m is the first message of a conversation that
// is open but has no id yet.
func (a *activeConversation) accepts(m Message, me *Member) bool {
	if a.id != 0 {
		return false
	}
	if a.thread {
		return true
	}
	if a.target == 0 {
		return false
	}
	return m.SenderID == a.target || (me != nil && m.SenderID == me.ID)
}

// replaceActiveLocked installs a and returns the room of the previous one.
func (s *Store) replaceActiveLocked(a *activeConversation) string {
	prev := ""
	if s.active != nil {
		prev = s.active.room
	}
	s.active = a
	return prev
}

func (s *Store) switchRooms(prev, next string) {
	if prev != "" && prev != next {
		s.transport.LeaveRoom(prev)
	}
	if next != "" && next != prev {
		s.transport.JoinRoom(next)
	}
}

// SetActiveConversation opens conversation id: the previous room is left,
// the conversation's room joined and its first history page loaded.
func (s *Store) SetActiveConversation(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("chat: invalid conversation id %d", id)
	}
	a := newActive(id, s.cfg.MessagePageSize)
	a.room = s.surface.Room(id)

	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		a.participants = append([]Participant(nil), s.conversations[i].Participants...)
	}
	prev := s.replaceActiveLocked(a)
	s.mu.Unlock()

	s.switchRooms(prev, a.room)
	return s.FetchMessages(ctx, id, false)
}

// OpenConversationWith opens the user-to-user conversation with userID.
// When none exists, even after reloading the list, a pending conversation
// is opened that becomes real with its first message; nil is returned then.
func (s *Store) OpenConversationWith(ctx context.Context, userID int64) (*Conversation, error) {
	if userID == 0 {
		return nil, ErrNoRecipient
	}
	if _, ok := s.member(); !ok {
		return nil, ErrNotAuthenticated
	}

	if c, ok := s.findWith(userID); ok {
		return &c, s.SetActiveConversation(ctx, c.ID)
	}
	if err := s.FetchConversations(ctx, false); err != nil {
		return nil, err
	}
	if c, ok := s.findWith(userID); ok {
		return &c, s.SetActiveConversation(ctx, c.ID)
	}

	a := newActive(0, s.cfg.MessagePageSize)
	a.target = userID
	a.cursor.HasMore = false

	s.mu.Lock()
	prev := s.replaceActiveLocked(a)
	s.mu.Unlock()
	s.switchRooms(prev, "")
	s.log.Debug().Int64("target", userID).Msg("no conversation yet, opened pending")
	return nil, nil
}

func (s *Store) findWith(userID int64) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			return cloneConversation(c), true
		}
	}
	return Conversation{}, false
}

// OpenSupportThread opens the signed-in customer's own support thread. Its
// id is learned from the history or the first live message.
func (s *Store) OpenSupportThread(ctx context.Context) error {
	if s.surface.ThreadPath == "" {
		return fmt.Errorf("chat: %s surface has no customer thread", s.surface.Name)
	}
	me, ok := s.member()
	if !ok {
		return ErrNotAuthenticated
	}

	a := newActive(0, s.cfg.MessagePageSize)
	a.thread = true
	a.participants = []Participant{{ID: me.ID}}
	a.room = protocol.SupportUserRoom(me.ID)

	s.mu.Lock()
	prev := s.replaceActiveLocked(a)
	s.mu.Unlock()

	s.switchRooms(prev, a.room)
	return s.loadHistory(ctx, a, false)
}

// FetchMessages loads one page of history for the active conversation id:
// the first page replaces the window, prepend pages older messages. Calls
// while a page is loading are ignored.
func (s *Store) FetchMessages(ctx context.Context, id int64, prepend bool) error {
	s.mu.Lock()
	a := s.active
	match := a != nil && a.id == id
	s.mu.Unlock()
	if !match {
		return ErrNoActiveConversation
	}
	return s.loadHistory(ctx, a, prepend)
}

// LoadOlder prepends the next history page of the active conversation.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil {
		return ErrNoActiveConversation
	}
	return s.loadHistory(ctx, a, true)
}

func (s *Store) loadHistory(ctx context.Context, a *activeConversation, prepend bool) error {
	s.mu.Lock()
	if s.active != a || a.loading || (prepend && !a.cursor.HasMore) || (a.id == 0 && !a.thread) {
		s.mu.Unlock()
		return nil
	}
	id := a.id
	page := a.cursor.NextPage(prepend)
	var (
		path string
		q    gateway.Query
	)
	if a.thread {
		path, q = s.surface.ThreadPath, gateway.PageQuery(page, a.cursor.Limit)
	} else {
		path, q = s.surface.history(id, page, a.cursor.Limit)
	}
	mark := a.window.Seq()
	gen := s.gen
	a.loading = true
	s.mu.Unlock()

	resp, err := s.api.List(ctx, path, q)
	var hp historyPage
	if err == nil {
		if a.thread {
			hp, err = decodeFlatHistory(id, resp)
		} else {
			hp, err = s.surface.decode(id, resp)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a.loading = false
	if gen != s.gen || s.active != a {
		return nil
	}
	if err != nil {
		s.log.Error().Err(err).Int64("conversation", id).Int("page", page).Msg("fetching messages failed")
		return err
	}

	if prepend {
		a.loaded += a.window.Merge(hp.Items)
	} else {
		a.window.Replace(hp.Items, mark)
		a.loaded = len(hp.Items)
	}
	if hp.Conversation != nil && len(a.participants) == 0 {
		a.participants = append([]Participant(nil), hp.Conversation.Participants...)
	}
	if a.thread {
		if a.id == 0 {
			for _, m := range hp.Items {
				if m.ConversationID != 0 {
					a.id = m.ConversationID
					a.window.Adopt(a.id)
					break
				}
			}
		}
		a.cursor.AdvanceList(page, len(hp.Items), a.loaded, hp.Total, hp.TotalKnown)
	} else {
		a.cursor.AdvanceWindow(page, len(hp.Items), a.loaded, hp.Total, hp.TotalKnown)
	}
	metrics.MessagesObserved.WithLabelValues(s.surface.Name, "history").Add(float64(len(hp.Items)))
	return nil
}
