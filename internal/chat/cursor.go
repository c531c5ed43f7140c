package chat

// Cursor tracks pagination of one list.
type Cursor struct {
	Page       int // last page loaded, 0 before the first load
	Limit      int
	Total      int
	TotalKnown bool
	HasMore    bool
}

// NewCursor returns a cursor positioned before the first page.
func NewCursor(limit int) Cursor {
	return Cursor{Limit: limit, HasMore: true}
}

// Reset rewinds to before the first page.
func (c *Cursor) Reset() { *c = NewCursor(c.Limit) }

// NextPage returns the page to request: the one after the last loaded when
// appending, else the first.
func (c *Cursor) NextPage(appending bool) int {
	if appending {
		return c.Page + 1
	}
	return 1
}

// AdvanceList records a loaded page of a list whose reported total is
// authoritative: more remain while the accumulated count is below it. An
// empty page always ends the list. Without a total, a short page ends it.
func (c *Cursor) AdvanceList(page, batch, accumulated int, total int, totalKnown bool) {
	c.Page = page
	c.Total, c.TotalKnown = total, totalKnown
	switch {
	case batch == 0:
		c.HasMore = false
	case totalKnown:
		c.HasMore = accumulated < total
	default:
		c.HasMore = batch >= c.Limit
	}
}

// AdvanceWindow records a loaded page of message history: a short page
// ends it, as does reaching a reported total.
func (c *Cursor) AdvanceWindow(page, batch, accumulated int, total int, totalKnown bool) {
	c.Page = page
	c.Total, c.TotalKnown = total, totalKnown
	c.HasMore = batch >= c.Limit
	if totalKnown && accumulated >= total {
		c.HasMore = false
	}
}
