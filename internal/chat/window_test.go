package chat

import (
	"math/rand"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func confirmed(id int64, min int) Message {
	return Message{ID: ConfirmedID(id), ConversationID: 1, SenderID: 2, Body: "m", CreatedAt: at(min)}
}

func assertOrdered(t *testing.T, w *Window) {
	t.Helper()
	msgs := w.Messages()
	seen := make(map[MessageID]bool)
	for i, m := range msgs {
		if seen[m.ID] {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
		if i > 0 && msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("out of order at %d: %v before %v", i, msgs[i].CreatedAt, msgs[i-1].CreatedAt)
		}
	}
}

func TestInsertKeepsTimeOrder(t *testing.T) {
	w := NewWindow()
	w.Insert(confirmed(3, 3))
	w.Insert(confirmed(1, 1))
	w.Insert(confirmed(2, 2))

	msgs := w.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if id, _ := m.ID.Server(); id != int64(i+1) {
			t.Errorf("position %d: expected id %d, got %d", i, i+1, id)
		}
	}
}

func TestInsertDeduplicates(t *testing.T) {
	w := NewWindow()
	if !w.Insert(confirmed(1, 1)) {
		t.Fatal("first insert should succeed")
	}
	if w.Insert(confirmed(1, 5)) {
		t.Error("duplicate id should be ignored")
	}
	if w.Len() != 1 {
		t.Errorf("expected 1 message, got %d", w.Len())
	}
	if w.Insert(Message{}) {
		t.Error("message without id should be ignored")
	}
}

func TestPrependFillsGap(t *testing.T) {
	w := NewWindow()
	w.Merge([]Message{confirmed(1, 1), confirmed(2, 2), confirmed(4, 4)})
	w.Merge([]Message{confirmed(3, 3)})

	msgs := w.Messages()
	want := []int{1, 2, 3, 4}
	for i, m := range msgs {
		if !m.CreatedAt.Equal(at(want[i])) {
			t.Errorf("position %d: expected t%d, got %v", i, want[i], m.CreatedAt)
		}
	}
}

func TestSameTimestampConfirmedFirst(t *testing.T) {
	w := NewWindow()
	p := Message{ID: PendingID("a"), CreatedAt: at(1), Status: StatusPending}
	w.Insert(p)
	w.Insert(confirmed(9, 1))

	msgs := w.Messages()
	if msgs[0].ID.Pending() || !msgs[1].ID.Pending() {
		t.Errorf("confirmed message should sort ahead of a pending one at the same time")
	}
}

func TestReplaceKeepsPendingAndLive(t *testing.T) {
	w := NewWindow()
	w.Insert(confirmed(1, 1))
	pending := Message{ID: PendingID("p1"), SenderID: 7, Body: "hi", CreatedAt: at(9), Status: StatusPending}
	w.Insert(pending)

	mark := w.Seq()
	w.Insert(confirmed(50, 8)) // arrived live while the page was loading

	w.Replace([]Message{confirmed(2, 2), confirmed(3, 3)}, mark)

	if w.Has(ConfirmedID(1)) {
		t.Error("stale history should be replaced")
	}
	for _, id := range []MessageID{ConfirmedID(2), ConfirmedID(3), ConfirmedID(50), pending.ID} {
		if !w.Has(id) {
			t.Errorf("expected %s to be held", id)
		}
	}
	assertOrdered(t, w)
}

func TestReplaceDropsLiveDuplicateOfHistory(t *testing.T) {
	w := NewWindow()
	mark := w.Seq()
	w.Insert(confirmed(5, 5))
	w.Replace([]Message{confirmed(4, 4), confirmed(5, 5)}, mark)
	if w.Len() != 2 {
		t.Errorf("expected 2 messages, got %d", w.Len())
	}
}

func TestReconcileAndFindPending(t *testing.T) {
	w := NewWindow()
	first := Message{ID: PendingID("a"), SenderID: 7, Body: "same", CreatedAt: at(1), Status: StatusPending}
	second := Message{ID: PendingID("b"), SenderID: 7, Body: "same", CreatedAt: at(2), Status: StatusPending}
	w.Insert(first)
	w.Insert(second)

	id, ok := w.FindPending(7, "same")
	if !ok || id != first.ID {
		t.Fatalf("expected oldest placeholder, got %v %v", id, ok)
	}
	real := Message{ID: ConfirmedID(100), SenderID: 7, Body: "same", CreatedAt: at(1)}
	w.Reconcile(id, real)

	if w.Has(first.ID) || !w.Has(real.ID) || !w.Has(second.ID) {
		t.Error("only the matched placeholder should be replaced")
	}
	if _, ok := w.FindPending(8, "same"); ok {
		t.Error("other senders should not match")
	}
}

func TestFailedPlaceholderNotMatched(t *testing.T) {
	w := NewWindow()
	p := Message{ID: PendingID("a"), SenderID: 7, Body: "x", CreatedAt: at(1), Status: StatusPending}
	w.Insert(p)
	w.SetStatus(p.ID, StatusFailed)
	if _, ok := w.FindPending(7, "x"); ok {
		t.Error("failed placeholder should not be reconciled")
	}
}

func TestUnreadAndMarkRead(t *testing.T) {
	w := NewWindow()
	w.Insert(Message{ID: ConfirmedID(1), SenderID: 2, CreatedAt: at(1)})
	w.Insert(Message{ID: ConfirmedID(2), SenderID: 1, CreatedAt: at(2)})
	w.Insert(Message{ID: ConfirmedID(3), SenderID: 2, CreatedAt: at(3), Read: true})
	w.Insert(Message{ID: ConfirmedID(4), SenderID: 2, CreatedAt: at(4)})
	w.Insert(Message{ID: PendingID("p"), SenderID: 2, CreatedAt: at(5)})

	ids := w.Unread(1)
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 4 {
		t.Fatalf("expected [1 4], got %v", ids)
	}
	if n := w.MarkRead(ids); n != 2 {
		t.Errorf("expected 2 marked, got %d", n)
	}
	if n := w.MarkRead(ids); n != 0 {
		t.Errorf("marking again should change nothing, got %d", n)
	}
	if len(w.Unread(1)) != 0 {
		t.Error("no unread messages should remain")
	}
}

func TestAdopt(t *testing.T) {
	w := NewWindow()
	w.Insert(Message{ID: PendingID("p"), CreatedAt: at(1)})
	w.Adopt(42)
	if w.Messages()[0].ConversationID != 42 {
		t.Error("placeholder should take the conversation id")
	}
}

// Random interleavings of history pages and live pushes keep the window
// sorted and free of duplicates.
func TestInterleavedMergesStayOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		w := NewWindow()
		for step := 0; step < 40; step++ {
			switch rng.Intn(3) {
			case 0:
				w.Insert(confirmed(int64(rng.Intn(60)+1), rng.Intn(120)))
			case 1:
				batch := make([]Message, rng.Intn(5))
				for i := range batch {
					batch[i] = confirmed(int64(rng.Intn(60)+1), rng.Intn(120))
				}
				w.Merge(batch)
			default:
				mark := w.Seq()
				w.Insert(confirmed(int64(rng.Intn(60)+1), rng.Intn(120)))
				w.Replace([]Message{confirmed(int64(rng.Intn(60)+1), rng.Intn(120))}, mark)
			}
			assertOrdered(t, w)
		}
	}
}
