// Package chat implements the conversation stores of the three chat
// surfaces (user-to-user, support, admin monitor) as one generic Store
// configured by a Surface table.
//
// A Store owns a paginated conversation list and at most one active
// conversation, whose message window merges paginated history with live
// pushes in time order. Live delivery comes from a ws.Transport; unread
// badges are nudged through a Badge.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/gateway"
	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/notify"
	"github.com/haraj-adan/chatsync/internal/protocol"
	"github.com/haraj-adan/chatsync/internal/ratelimit"
	"github.com/haraj-adan/chatsync/internal/ws"
)

// API is the part of the gateway a Store needs.
type API interface {
	List(ctx context.Context, path string, q gateway.Query) (*gateway.Response, error)
	Create(ctx context.Context, path string, body interface{}) (*gateway.Response, error)
}

// Badge receives unread-affecting events; *notify.Aggregator implements it.
type Badge interface {
	Bump(s notify.Surface)
	RefreshAfter(d time.Duration)
}

// Observer is told about every message merged into the store. origin is
// "live", "ack" or "history".
type Observer func(surface string, m Message, origin string)

// Config holds paging and timing.
type Config struct {
	ConversationPageSize int
	MessagePageSize      int
	// ReadRefreshDelay is the wait between marking messages read or
	// sending, and re-requesting the badge counts.
	ReadRefreshDelay time.Duration
	SendRule         ratelimit.Rule
	MediaRule        ratelimit.Rule
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConversationPageSize: 10,
		MessagePageSize:      20,
		ReadRefreshDelay:     500 * time.Millisecond,
		SendRule:             ratelimit.RuleMessage,
		MediaRule:            ratelimit.RuleMedia,
	}
}

// Option customizes a Store.
type Option func(*Store)

// WithLimiter replaces the in-process send limiter.
func WithLimiter(l ratelimit.Limiter) Option { return func(s *Store) { s.limiter = l } }

// WithObserver registers fn for merged messages.
func WithObserver(fn Observer) Option { return func(s *Store) { s.observer = fn } }

// WithClock overrides time.Now for placeholder timestamps.
func WithClock(fn func() time.Time) Option { return func(s *Store) { s.now = fn } }

// Store is one chat surface's conversation store.
type Store struct {
	surface   Surface
	api       API
	transport ws.Transport
	badge     Badge
	limiter   ratelimit.Limiter
	observer  Observer
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
	spawn     func(func())
	presence  *Presence

	mu            sync.Mutex
	me            *Member
	conversations []Conversation
	cursor        Cursor
	loadingList   bool
	search        string
	filterBy      string
	active        *activeConversation
	listening     bool
	subs          []ws.Subscription
	seen          *seenIDs
	gen           uint64 // bumped by Reset; stale fetches compare against it
}

// NewStore creates a Store for surface.
func NewStore(surface Surface, api API, t ws.Transport, badge Badge, cfg Config, opts ...Option) *Store {
	s := &Store{
		surface:   surface,
		api:       api,
		transport: t,
		badge:     badge,
		limiter:   ratelimit.NewLocal(),
		cfg:       cfg,
		log:       logging.Component("chat." + surface.Name),
		now:       time.Now,
		spawn:     func(f func()) { go f() },
		presence:  NewPresence(),
		seen:      newSeenIDs(seenLimit),
		cursor:    NewCursor(cfg.ConversationPageSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Surface returns the store's surface table.
func (s *Store) Surface() Surface { return s.surface }

// SetMember sets the signed-in identity. While listening, the surface's
// role rooms are joined for it.
func (s *Store) SetMember(m Member) {
	s.mu.Lock()
	s.me = &m
	listening := s.listening
	s.mu.Unlock()

	if listening {
		s.joinRoleRooms(m)
	}
}

func (s *Store) member() (Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.me == nil {
		return Member{}, false
	}
	return *s.me, true
}

func (s *Store) joinRoleRooms(m Member) {
	for _, room := range s.surface.RoleRooms(m) {
		s.transport.JoinRoom(room)
	}
}

// hasListLocked reports whether the identity can see a conversation list.
func (s *Store) hasListLocked() bool {
	if !s.surface.ListNeedsAdmin {
		return s.me != nil
	}
	return s.me != nil && s.me.Admin
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// Conversations returns a copy of the conversation list.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = cloneConversation(c)
	}
	return out
}

// ConversationCursor returns the list's pagination state.
func (s *Store) ConversationCursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// LoadingConversations reports whether a list fetch is in flight.
func (s *Store) LoadingConversations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingList
}

// IsOnline reports whether userID was last seen online.
func (s *Store) IsOnline(userID int64) bool { return s.presence.IsOnline(userID) }

// ActiveView is a snapshot of the active conversation.
type ActiveView struct {
	ID           int64 // 0 while a new conversation awaits its first message
	Target       int64 // recipient of a conversation not created yet
	Participants []Participant
	Messages     []Message
	Cursor       Cursor
	Loading      bool
}

// Active returns the active conversation, if any.
func (s *Store) Active() (ActiveView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.active
	if a == nil {
		return ActiveView{}, false
	}
	return ActiveView{
		ID:           a.id,
		Target:       a.target,
		Participants: append([]Participant(nil), a.participants...),
		Messages:     a.window.Messages(),
		Cursor:       a.cursor,
		Loading:      a.loading,
	}, true
}

// OtherParticipant returns the member of the active conversation that is
// not the signed-in identity.
func (s *Store) OtherParticipant() (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.me == nil {
		return Participant{}, false
	}
	for _, p := range s.active.participants {
		if p.ID != s.me.ID {
			return p, true
		}
	}
	return Participant{}, false
}

func cloneConversation(c Conversation) Conversation {
	c.Participants = append([]Participant(nil), c.Participants...)
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	return c
}

func (s *Store) indexLocked(id int64) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Conversation list
// ---------------------------------------------------------------------------

// FetchConversations loads the first page, or the next one when appending.
// A call while another list fetch is in flight is ignored. On failure the
// list is left unchanged.
func (s *Store) FetchConversations(ctx context.Context, appending bool) error {
	s.mu.Lock()
	if !s.hasListLocked() || s.loadingList || (appending && !s.cursor.HasMore) {
		s.mu.Unlock()
		return nil
	}
	page := s.cursor.NextPage(appending)
	q := gateway.PageQuery(page, s.cursor.Limit)
	if s.search != "" {
		q.Set("search", s.search)
		if s.surface.FilterBy {
			q.Set("filterBy", s.filterBy)
		}
	}
	gen := s.gen
	s.loadingList = true
	s.mu.Unlock()

	resp, err := s.api.List(ctx, s.surface.ListPath, q)
	var p gateway.Page[wireConversation]
	if err == nil {
		p, err = gateway.DecodePage[wireConversation](resp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	s.loadingList = false
	if err != nil {
		s.log.Error().Err(err).Int("page", page).Msg("fetching conversations failed")
		return err
	}

	items := make([]Conversation, 0, len(p.Items))
	for _, w := range p.Items {
		if w.ID != 0 {
			items = append(items, w.toConversation())
		}
	}
	if !appending {
		s.conversations = s.conversations[:0]
	}
	for _, c := range items {
		if s.indexLocked(c.ID) < 0 {
			s.conversations = append(s.conversations, c)
		}
	}

	reported := p.Page
	if reported == 0 {
		reported = page
	}
	s.cursor.AdvanceList(reported, len(items), len(s.conversations), p.Total, p.TotalKnown)
	s.log.Debug().Int("page", reported).Int("count", len(s.conversations)).
		Bool("has_more", s.cursor.HasMore).Msg("conversations fetched")
	return nil
}

// Search sets the list filter and reloads the first page.
func (s *Store) Search(ctx context.Context, search, filterBy string) error {
	s.mu.Lock()
	s.search = search
	s.filterBy = filterBy
	s.mu.Unlock()
	return s.FetchConversations(ctx, false)
}

// ResetAndFetch drops the list and loads the first page again.
func (s *Store) ResetAndFetch(ctx context.Context) error {
	s.mu.Lock()
	s.conversations = nil
	s.cursor.Reset()
	s.mu.Unlock()
	return s.FetchConversations(ctx, false)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// ListenForMessages registers the push handlers once and joins the
// surface's role rooms.
func (s *Store) ListenForMessages() {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return
	}
	s.listening = true
	subs := []ws.Subscription{
		s.transport.Subscribe(s.surface.NewMessageEvent, s.handleNewMessage),
		s.transport.Subscribe(s.surface.ReadNoticeEvent, s.handleReadNotice),
		s.transport.Subscribe(protocol.EventUserOnline, s.handleOnline),
		s.transport.Subscribe(protocol.EventUserOffline, s.handleOffline),
		s.transport.Subscribe(protocol.EventReconnected, s.handleReconnected),
	}
	if s.surface.SendSuccessEvent != "" {
		subs = append(subs, s.transport.Subscribe(s.surface.SendSuccessEvent, s.handleSendSuccess))
	}
	s.subs = subs
	me := s.me
	s.mu.Unlock()

	if me != nil {
		s.joinRoleRooms(*me)
	}
	s.log.Debug().Msg("listening for messages")
}

// Listening reports whether push handlers are registered.
func (s *Store) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Reset drops every list, the active conversation, presence and the
// identity, and unregisters the push handlers. Fetches in flight are
// discarded when they complete.
func (s *Store) Reset() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.listening = false
	room := ""
	if s.active != nil {
		room = s.active.room
	}
	s.active = nil
	s.conversations = nil
	s.cursor.Reset()
	s.loadingList = false
	s.search, s.filterBy = "", ""
	s.me = nil
	s.seen.Clear()
	s.gen++
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.presence.Clear()
	if room != "" {
		s.transport.LeaveRoom(room)
	}
	s.log.Debug().Msg("store reset")
}
