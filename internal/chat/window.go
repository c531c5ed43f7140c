package chat

import (
	"sort"
)

// Window holds the materialized messages of the active conversation in
// ascending time order with unique ids. It is not goroutine-safe; the
// owning Store serializes access.
type Window struct {
	msgs []Message
	ids  map[MessageID]struct{}
	seq  uint64
}

// NewWindow creates an empty Window.
func NewWindow() *Window {
	return &Window{ids: make(map[MessageID]struct{})}
}

// before orders by time, then confirmed ahead of pending, then id.
func before(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	ap, bp := a.ID.Pending(), b.ID.Pending()
	if ap != bp {
		return !ap
	}
	if a.ID.server != b.ID.server {
		return a.ID.server < b.ID.server
	}
	return a.ID.local < b.ID.local
}

// Seq returns the arrival counter. Messages inserted after a call to Seq
// have a greater sequence number.
func (w *Window) Seq() uint64 { return w.seq }

// Len returns the number of messages held.
func (w *Window) Len() int { return len(w.msgs) }

// Has reports whether id is held.
func (w *Window) Has(id MessageID) bool {
	_, ok := w.ids[id]
	return ok
}

// Insert places m at its time position. A message whose id is already held
// is ignored and false is returned.
func (w *Window) Insert(m Message) bool {
	if m.ID.IsZero() || w.Has(m.ID) {
		return false
	}
	w.seq++
	m.seq = w.seq
	i := sort.Search(len(w.msgs), func(i int) bool { return before(m, w.msgs[i]) })
	w.msgs = append(w.msgs, Message{})
	copy(w.msgs[i+1:], w.msgs[i:])
	w.msgs[i] = m
	w.ids[m.ID] = struct{}{}
	return true
}

// Merge inserts every message of batch and returns how many were new.
func (w *Window) Merge(batch []Message) int {
	n := 0
	for _, m := range batch {
		if w.Insert(m) {
			n++
		}
	}
	return n
}

// Replace swaps the contents for batch. Pending placeholders and messages
// inserted after mark survive, since batch cannot know about them.
func (w *Window) Replace(batch []Message, mark uint64) {
	var keep []Message
	for _, m := range w.msgs {
		if m.ID.Pending() || m.seq > mark {
			keep = append(keep, m)
		}
	}
	w.msgs = w.msgs[:0]
	w.ids = make(map[MessageID]struct{}, len(batch)+len(keep))
	w.Merge(batch)
	for _, m := range keep {
		w.reinsert(m)
	}
}

// reinsert restores a kept message without renumbering it.
func (w *Window) reinsert(m Message) {
	if w.Has(m.ID) {
		return
	}
	i := sort.Search(len(w.msgs), func(i int) bool { return before(m, w.msgs[i]) })
	w.msgs = append(w.msgs, Message{})
	copy(w.msgs[i+1:], w.msgs[i:])
	w.msgs[i] = m
	w.ids[m.ID] = struct{}{}
}

// Remove deletes id and reports whether it was held.
func (w *Window) Remove(id MessageID) bool {
	if !w.Has(id) {
		return false
	}
	for i := range w.msgs {
		if w.msgs[i].ID == id {
			w.msgs = append(w.msgs[:i], w.msgs[i+1:]...)
			break
		}
	}
	delete(w.ids, id)
	return true
}

// Reconcile replaces the placeholder pending with its confirmed message.
func (w *Window) Reconcile(pending MessageID, confirmed Message) {
	w.Remove(pending)
	w.Insert(confirmed)
}

// FindPending returns the oldest placeholder from sender with body.
func (w *Window) FindPending(sender int64, body string) (MessageID, bool) {
	for _, m := range w.msgs {
		if m.ID.Pending() && m.Status == StatusPending && m.SenderID == sender && m.Body == body {
			return m.ID, true
		}
	}
	return MessageID{}, false
}

// SetStatus updates the delivery state of id.
func (w *Window) SetStatus(id MessageID, s Status) bool {
	for i := range w.msgs {
		if w.msgs[i].ID == id {
			w.msgs[i].Status = s
			return true
		}
	}
	return false
}

// MarkRead flags the confirmed messages in ids as read and returns how many
// changed.
func (w *Window) MarkRead(ids []int64) int {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for i := range w.msgs {
		m := &w.msgs[i]
		if !m.Read && !m.ID.Pending() && want[m.ID.server] {
			m.Read = true
			n++
		}
	}
	return n
}

// Unread returns the server ids of confirmed unread messages not sent by
// reader, oldest first.
func (w *Window) Unread(reader int64) []int64 {
	var ids []int64
	for _, m := range w.msgs {
		if m.Read || m.ID.Pending() || m.SenderID == reader {
			continue
		}
		ids = append(ids, m.ID.server)
	}
	return ids
}

// Oldest returns the earliest message.
func (w *Window) Oldest() (Message, bool) {
	if len(w.msgs) == 0 {
		return Message{}, false
	}
	return w.msgs[0], true
}

// Messages returns a copy in chronological order.
func (w *Window) Messages() []Message {
	out := make([]Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// Adopt sets the conversation id of messages that have none.
func (w *Window) Adopt(conversationID int64) {
	for i := range w.msgs {
		if w.msgs[i].ConversationID == 0 {
			w.msgs[i].ConversationID = conversationID
		}
	}
}
