package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/haraj-adan/chatsync/internal/gateway"
	"github.com/haraj-adan/chatsync/internal/notify"
	"github.com/haraj-adan/chatsync/internal/ws/wstest"
)

type apiCall struct {
	Path  string
	Query gateway.Query
	Body  interface{}
}

// fakeAPI answers gateway calls from per-path handlers.
type fakeAPI struct {
	mu     sync.Mutex
	calls  []apiCall
	list   map[string]func(q gateway.Query) (*gateway.Response, error)
	create map[string]func(body interface{}) (*gateway.Response, error)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		list:   make(map[string]func(gateway.Query) (*gateway.Response, error)),
		create: make(map[string]func(interface{}) (*gateway.Response, error)),
	}
}

func (f *fakeAPI) onList(path string, fn func(q gateway.Query) (*gateway.Response, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list[path] = fn
}

func (f *fakeAPI) onCreate(path string, fn func(body interface{}) (*gateway.Response, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.create[path] = fn
}

func (f *fakeAPI) List(_ context.Context, path string, q gateway.Query) (*gateway.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Path: path, Query: q})
	fn := f.list[path]
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no handler for " + path)
	}
	return fn(q)
}

func (f *fakeAPI) Create(_ context.Context, path string, body interface{}) (*gateway.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Path: path, Body: body})
	fn := f.create[path]
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no handler for " + path)
	}
	return fn(body)
}

func (f *fakeAPI) callsTo(path string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// fakeBadge records badge traffic.
type fakeBadge struct {
	mu        sync.Mutex
	bumps     []notify.Surface
	refreshes []time.Duration
}

func (b *fakeBadge) Bump(s notify.Surface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bumps = append(b.bumps, s)
}

func (b *fakeBadge) RefreshAfter(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshes = append(b.refreshes, d)
}

func (b *fakeBadge) bumpCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bumps)
}

func (b *fakeBadge) refreshCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.refreshes)
}

type harness struct {
	store *Store
	api   *fakeAPI
	ws    *wstest.Transport
	badge *fakeBadge
}

func newHarness(t *testing.T, surface Surface, me *Member, opts ...Option) *harness {
	t.Helper()
	h := &harness{api: newFakeAPI(), ws: wstest.New(), badge: &fakeBadge{}}
	h.store = NewStore(surface, h.api, h.ws, h.badge, DefaultConfig(), opts...)
	h.store.spawn = func(f func()) { f() }
	if me != nil {
		h.store.SetMember(*me)
	}
	return h
}

// page builds a flat {data, meta} reply.
func page(t *testing.T, items interface{}, pageNo, total int) *gateway.Response {
	t.Helper()
	data, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("marshal page: %v", err)
	}
	tot := total
	return &gateway.Response{StatusCode: 200, Data: data, Meta: &gateway.Meta{Total: &tot, Page: pageNo}}
}

type obj = map[string]interface{}

func wireMsg(id, chat, sender int64, body string, min int) obj {
	return obj{
		"id":        id,
		"chat_id":   chat,
		"sender_id": sender,
		"message":   body,
		"type":      "text",
		"is_read":   false,
		"created":   at(min).Format(time.RFC3339Nano),
	}
}

func wireConv(id int64, users ...int64) obj {
	members := make([]obj, 0, len(users))
	for _, u := range users {
		members = append(members, obj{"users": obj{"id": u, "name": "user"}})
	}
	return obj{"id": id, "members": members}
}

func convIDs(cs []Conversation) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func serverIDs(ms []Message) []int64 {
	out := make([]int64, 0, len(ms))
	for _, m := range ms {
		if id, ok := m.ID.Server(); ok {
			out = append(out, id)
		}
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func bytesReader(s string) *strings.Reader { return strings.NewReader(s) }
