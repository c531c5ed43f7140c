package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/haraj-adan/chatsync/internal/protocol"
	"github.com/haraj-adan/chatsync/internal/ws/wstest"
)

func newAggregator(t *testing.T) (*Aggregator, *wstest.Transport) {
	t.Helper()
	ft := wstest.New()
	a := New(ft, Config{BumpRefreshDelay: 20 * time.Millisecond})
	t.Cleanup(a.Reset)
	return a, ft
}

func TestInitializeRegistersAndRequests(t *testing.T) {
	a, ft := newAggregator(t)
	a.Initialize(7, false)

	for _, ev := range []string{
		protocol.EventCountChatNotifications,
		protocol.EventCountUnreadMessages,
		protocol.EventCountUnreadAdminMessages,
	} {
		if n := ft.Handlers(ev); n != 1 {
			t.Errorf("%s: expected 1 handler, got %d", ev, n)
		}
	}

	user := ft.Published(protocol.EventCountChatNotifications)
	if len(user) != 1 || string(user[0].Payload) != "7" {
		t.Fatalf("expected user count request with bare id, got %+v", user)
	}
	support := ft.Published(protocol.EventCountUnreadMessages)
	if len(support) != 1 || string(support[0].Payload) != `{"userId":7}` {
		t.Fatalf("expected support count request, got %+v", support)
	}
	if len(ft.Published(protocol.EventCountUnreadAdminMessages)) != 0 {
		t.Error("non-admin should not request the admin count")
	}
}

func TestInitializeTwiceRefreshesOnly(t *testing.T) {
	a, ft := newAggregator(t)
	a.Initialize(7, false)
	a.Initialize(7, false)

	if n := ft.Handlers(protocol.EventCountChatNotifications); n != 1 {
		t.Errorf("expected handlers registered once, got %d", n)
	}
	if n := len(ft.Published(protocol.EventCountChatNotifications)); n != 2 {
		t.Errorf("expected a second refresh, got %d requests", n)
	}
}

func TestAdminRequestsAdminCount(t *testing.T) {
	a, ft := newAggregator(t)
	a.Initialize(1, true)

	if len(ft.Published(protocol.EventCountUnreadAdminMessages)) != 1 {
		t.Error("admin should request the admin support count")
	}
	if len(ft.Published(protocol.EventCountUnreadMessages)) != 0 {
		t.Error("admin should not request the customer support count")
	}
}

func TestAuthoritativeCountsOverwrite(t *testing.T) {
	a, ft := newAggregator(t)

	var mu sync.Mutex
	changes := map[Surface]int{}
	a.OnChange(func(s Surface, c Count) {
		mu.Lock()
		changes[s] = c.Value()
		mu.Unlock()
	})
	a.Initialize(7, false)

	ft.Push(protocol.EventCountChatNotifications, protocol.CountResponse{Success: true, Count: 4})
	ft.Push(protocol.EventCountUnreadMessages, protocol.CountResponse{Success: true, Count: 2})
	ft.Push(protocol.EventCountUnreadAdminMessages, protocol.CountResponse{Success: true, Count: 3})

	if got := a.Get(SurfaceUser).Value(); got != 4 {
		t.Errorf("user: expected 4, got %d", got)
	}
	if got := a.Get(SurfaceSupport).Value(); got != 3 {
		t.Errorf("support: expected 3, got %d", got)
	}
	if a.Total() != 7 {
		t.Errorf("expected total 7, got %d", a.Total())
	}

	mu.Lock()
	defer mu.Unlock()
	if changes[SurfaceUser] != 4 || changes[SurfaceSupport] != 3 {
		t.Errorf("unexpected change log %v", changes)
	}
}

func TestUnsuccessfulCountIgnored(t *testing.T) {
	a, ft := newAggregator(t)
	a.Initialize(7, false)
	ft.Push(protocol.EventCountChatNotifications, protocol.CountResponse{Success: true, Count: 4})
	ft.Push(protocol.EventCountChatNotifications, protocol.CountResponse{Success: false, Count: 0})

	if got := a.Get(SurfaceUser).Value(); got != 4 {
		t.Errorf("expected 4 to survive a failed reply, got %d", got)
	}
}

func TestChangedSignalRequestsUserCount(t *testing.T) {
	a, ft := newAggregator(t)
	a.Initialize(7, false)
	ft.ResetPublished()

	ft.Push(protocol.EventCountChatNotifications, protocol.CountResponse{Changed: true})

	if n := len(ft.Published(protocol.EventCountChatNotifications)); n != 1 {
		t.Errorf("expected one re-request, got %d", n)
	}
	if len(ft.Published(protocol.EventCountUnreadMessages)) != 0 {
		t.Error("changed signal should only re-request the user count")
	}
}

func TestBumpIsProvisionalUntilConfirmed(t *testing.T) {
	a, ft := newAggregator(t)
	a.Initialize(7, false)
	ft.Push(protocol.EventCountChatNotifications, protocol.CountResponse{Success: true, Count: 2})

	a.Bump(SurfaceUser)
	a.Bump(SurfaceUser)
	c := a.Get(SurfaceUser)
	if c.Value() != 4 || c.Confirmed != 2 || !c.Pending() {
		t.Fatalf("expected 2 confirmed + 2 provisional, got %+v", c)
	}

	ft.Push(protocol.EventCountChatNotifications, protocol.CountResponse{Success: true, Count: 3})
	c = a.Get(SurfaceUser)
	if c.Value() != 3 || c.Pending() {
		t.Errorf("authoritative count should drop provisional state, got %+v", c)
	}
}

func TestBumpBurstCollapsesIntoOneRefresh(t *testing.T) {
	a, ft := newAggregator(t)
	a.Initialize(7, false)
	ft.ResetPublished()

	for i := 0; i < 5; i++ {
		a.Bump(SurfaceSupport)
	}

	deadline := time.Now().Add(time.Second)
	for len(ft.Published(protocol.EventCountChatNotifications)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("refresh never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(ft.Published(protocol.EventCountChatNotifications)); n != 1 {
		t.Errorf("expected one debounced refresh, got %d", n)
	}
}

func TestBumpBeforeInitializeIgnored(t *testing.T) {
	a, _ := newAggregator(t)
	a.Bump(SurfaceUser)
	if a.Get(SurfaceUser).Value() != 0 {
		t.Error("bump without identity should be ignored")
	}
}

func TestResetZeroesAndUnsubscribes(t *testing.T) {
	a, ft := newAggregator(t)
	a.Initialize(7, false)
	ft.Push(protocol.EventCountChatNotifications, protocol.CountResponse{Success: true, Count: 5})
	a.Bump(SurfaceSupport)

	var zeroed []Surface
	a.OnChange(func(s Surface, c Count) {
		if c.Value() == 0 {
			zeroed = append(zeroed, s)
		}
	})

	a.Reset()

	if a.Total() != 0 || a.Initialized() {
		t.Fatalf("expected zeroed, uninitialized aggregator")
	}
	if len(zeroed) != 2 {
		t.Errorf("expected both surfaces reported zero, got %v", zeroed)
	}
	if n := ft.Push(protocol.EventCountChatNotifications, protocol.CountResponse{Success: true, Count: 9}); n != 0 {
		t.Errorf("stale handler fired %d times", n)
	}
	if a.Get(SurfaceUser).Value() != 0 {
		t.Error("count changed after reset")
	}

	a.Initialize(8, false)
	if n := ft.Handlers(protocol.EventCountChatNotifications); n != 1 {
		t.Errorf("re-login should register once, got %d", n)
	}
}

func TestEveryChangeListenerCalled(t *testing.T) {
	a, _ := newAggregator(t)

	var first, second []Count
	a.OnChange(func(_ Surface, c Count) { first = append(first, c) })
	a.OnChange(func(s Surface, c Count) {
		if s == SurfaceUser {
			second = append(second, c)
		}
	})
	a.Confirm(SurfaceUser, 5)

	if len(first) != 1 || first[0].Confirmed != 5 {
		t.Errorf("first listener: %+v", first)
	}
	if len(second) != 1 || second[0].Value() != 5 {
		t.Errorf("second listener: %+v", second)
	}
}
