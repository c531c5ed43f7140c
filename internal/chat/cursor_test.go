package chat

import "testing"

func TestListCursorUsesReportedTotal(t *testing.T) {
	c := NewCursor(10)
	if !c.HasMore || c.NextPage(true) != 1 {
		t.Fatalf("fresh cursor should start at page 1 with more")
	}

	c.AdvanceList(1, 1, 1, 25, true)
	if !c.HasMore || c.Page != 1 {
		t.Errorf("short first page below total keeps more: %+v", c)
	}
	c.AdvanceList(2, 9, 10, 25, true)
	if !c.HasMore {
		t.Error("10 of 25 should have more")
	}
	c.AdvanceList(3, 15, 25, 25, true)
	if c.HasMore {
		t.Error("reaching the total should end the list")
	}
}

func TestListCursorWithoutTotal(t *testing.T) {
	c := NewCursor(10)
	c.AdvanceList(1, 10, 10, 0, false)
	if !c.HasMore {
		t.Error("full page without total should have more")
	}
	c.AdvanceList(2, 4, 14, 0, false)
	if c.HasMore {
		t.Error("short page without total should end the list")
	}
}

func TestListCursorEmptyPageEnds(t *testing.T) {
	c := NewCursor(10)
	c.AdvanceList(3, 0, 20, 25, true)
	if c.HasMore {
		t.Error("empty page must end the list even below the total")
	}
}

func TestWindowCursor(t *testing.T) {
	c := NewCursor(20)
	c.AdvanceWindow(1, 20, 20, 0, false)
	if !c.HasMore {
		t.Error("full page should have more")
	}
	c.AdvanceWindow(2, 20, 40, 40, true)
	if c.HasMore {
		t.Error("reaching the total should stop")
	}

	c.Reset()
	if c.Page != 0 || !c.HasMore || c.Limit != 20 {
		t.Errorf("reset cursor: %+v", c)
	}
	c.AdvanceWindow(1, 7, 7, 0, false)
	if c.HasMore {
		t.Error("short page should stop")
	}
}
