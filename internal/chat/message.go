package chat

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// MessageID identifies a message either by a local placeholder id, while
// the server has not confirmed it, or by the server's id.
type MessageID struct {
	local  string
	server int64
}

// PendingID returns a placeholder id.
func PendingID(local string) MessageID { return MessageID{local: local} }

// NewPendingID returns a fresh random placeholder id.
func NewPendingID() MessageID { return PendingID(uuid.NewString()) }

// ConfirmedID returns a server id.
func ConfirmedID(id int64) MessageID { return MessageID{server: id} }

// Pending reports whether the id is a local placeholder.
func (id MessageID) Pending() bool { return id.server == 0 }

// Server returns the server id, if confirmed.
func (id MessageID) Server() (int64, bool) { return id.server, id.server != 0 }

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool { return id.server == 0 && id.local == "" }

func (id MessageID) String() string {
	if id.server != 0 {
		return strconv.FormatInt(id.server, 10)
	}
	return "pending:" + id.local
}

// Status is the delivery state of a message.
type Status int

const (
	StatusConfirmed Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "confirmed"
	}
}

// Message types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeAudio = "audio"
	TypeFile  = "file"
)

// Message is one chat message.
type Message struct {
	ID             MessageID
	ConversationID int64
	SenderID       int64
	Body           string // text, or the media path for attachments
	Type           string
	Read           bool
	Privileged     bool // sent by staff in a support conversation
	CreatedAt      time.Time
	Status         Status

	seq uint64
}

// Mine reports whether userID sent the message.
func (m Message) Mine(userID int64) bool { return userID != 0 && m.SenderID == userID }

// wireMessage accepts the message shapes of all three surfaces.
type wireMessage struct {
	ID            int64    `json:"id"`
	ChatID        int64    `json:"chat_id"`
	SupportChatID int64    `json:"support_chat_id"`
	SenderID      int64    `json:"sender_id"`
	Message       string   `json:"message"`
	Type          string   `json:"type"`
	IsRead        flexBool `json:"is_read"`
	IsAdmin       flexBool `json:"is_admin"`
	Created       flexTime `json:"created"`
}

func (w wireMessage) conversationID() int64 {
	if w.ChatID != 0 {
		return w.ChatID
	}
	return w.SupportChatID
}

func (w wireMessage) toMessage() Message {
	typ := w.Type
	if typ == "" {
		typ = TypeText
	}
	return Message{
		ID:             ConfirmedID(w.ID),
		ConversationID: w.conversationID(),
		SenderID:       w.SenderID,
		Body:           w.Message,
		Type:           typ,
		Read:           bool(w.IsRead),
		Privileged:     bool(w.IsAdmin),
		CreatedAt:      time.Time(w.Created),
		Status:         StatusConfirmed,
	}
}

func decodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, err
	}
	return w.toMessage(), nil
}

func toMessages(ws []wireMessage) []Message {
	out := make([]Message, 0, len(ws))
	for _, w := range ws {
		if w.ID == 0 {
			continue
		}
		out = append(out, w.toMessage())
	}
	return out
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// flexTime accepts RFC 3339 and SQL-style timestamps; empty or null leaves
// the zero time.
type flexTime time.Time

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = flexTime(parsed)
			return nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = flexTime(time.UnixMilli(ms))
	}
	return nil
}
