package ws

import (
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
)

// Registry routes inbound events to their subscribers. Several handlers may
// share one event name; they run in registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]*handlerEntry
	nextID   uint64
}

type handlerEntry struct {
	id     uint64
	fn     Handler
	active atomic.Bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]*handlerEntry)}
}

// Subscribe registers h for event.
func (r *Registry) Subscribe(event string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e := &handlerEntry{id: r.nextID, fn: h}
	e.active.Store(true)
	r.handlers[event] = append(r.handlers[event], e)
	return &subscription{registry: r, event: event, entry: e}
}

// Dispatch invokes every active handler for event and returns how many ran.
func (r *Registry) Dispatch(event string, data json.RawMessage) int {
	r.mu.RLock()
	entries := make([]*handlerEntry, len(r.handlers[event]))
	copy(entries, r.handlers[event])
	r.mu.RUnlock()

	n := 0
	for _, e := range entries {
		// An unsubscribe that raced with the snapshot above wins.
		if !e.active.Load() {
			continue
		}
		e.fn(data)
		n++
	}
	return n
}

// Count returns the number of handlers registered for event.
func (r *Registry) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

func (r *Registry) remove(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[event]
	for i, e := range list {
		if e.id == id {
			r.handlers[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.handlers[event]) == 0 {
		delete(r.handlers, event)
	}
}

type subscription struct {
	registry *Registry
	event    string
	entry    *handlerEntry
	once     sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.entry.active.Store(false)
		s.registry.remove(s.event, s.entry.id)
	})
}
