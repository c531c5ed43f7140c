package chat

// seenLimit bounds how many merged message ids a store remembers.
const seenLimit = 1024

// seenIDs is a bounded set of server message ids, oldest evicted first.
type seenIDs struct {
	ids  map[int64]struct{}
	ring []int64
	next int
}

func newSeenIDs(limit int) *seenIDs {
	return &seenIDs{ids: make(map[int64]struct{}, limit), ring: make([]int64, 0, limit)}
}

// Add records id and reports whether it was new.
func (s *seenIDs) Add(id int64) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, id)
	} else {
		delete(s.ids, s.ring[s.next])
		s.ring[s.next] = id
		s.next = (s.next + 1) % len(s.ring)
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *seenIDs) Clear() {
	clear(s.ids)
	s.ring = s.ring[:0]
	s.next = 0
}
