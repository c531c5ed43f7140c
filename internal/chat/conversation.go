package chat

import (
	"bytes"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Participant is a member of a conversation.
type Participant struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// Conversation is one entry of a conversation list.
type Conversation struct {
	ID           int64
	Participants []Participant
	LastMessage  *Message
	Unread       int
	CreatedAt    time.Time
}

// HasParticipant reports whether userID is a member.
func (c *Conversation) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Other returns the first participant that is not userID.
func (c *Conversation) Other(userID int64) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != userID {
			return p, true
		}
	}
	return Participant{}, false
}

// ParticipantNames joins the participants' names with " & ".
func ParticipantNames(ps []Participant) string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, " & ")
}

// member accepts both {users:{...}} and a flat participant.
type member struct {
	Participant
}

func (m *member) UnmarshalJSON(data []byte) error {
	var nested struct {
		Users *Participant `json:"users"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && nested.Users != nil {
		m.Participant = *nested.Users
		return nil
	}
	return json.Unmarshal(data, &m.Participant)
}

type wireConversation struct {
	ID                  int64           `json:"id"`
	Members             []member        `json:"members"`
	Users               *Participant    `json:"users"`
	LastMessage         *wireMessage    `json:"lastMessage"`
	SupportChatMessages []wireMessage   `json:"support_chat_messages"`
	UnreadCount         int             `json:"unreadCount"`
	Count               json.RawMessage `json:"_count"`
	Created             flexTime        `json:"created"`
}

func (w wireConversation) toConversation() Conversation {
	c := Conversation{
		ID:        w.ID,
		Unread:    w.UnreadCount,
		CreatedAt: time.Time(w.Created),
	}
	for _, m := range w.Members {
		c.Participants = append(c.Participants, m.Participant)
	}
	if w.Users != nil && !c.HasParticipant(w.Users.ID) {
		c.Participants = append(c.Participants, *w.Users)
	}

	var last *wireMessage
	switch {
	case w.LastMessage != nil:
		last = w.LastMessage
	case len(w.SupportChatMessages) > 0:
		last = &w.SupportChatMessages[0]
	}
	if last != nil && last.ID != 0 {
		m := last.toMessage()
		if m.ConversationID == 0 {
			m.ConversationID = w.ID
		}
		c.LastMessage = &m
	}

	if c.Unread == 0 && len(bytes.TrimSpace(w.Count)) > 0 {
		var counts struct {
			Unread int `json:"unread"`
		}
		if json.Unmarshal(w.Count, &counts) == nil {
			c.Unread = counts.Unread
		}
	}
	return c
}
