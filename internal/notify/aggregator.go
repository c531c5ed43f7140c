// Package notify keeps the unread badge counts for the user-to-user and
// support surfaces.
//
// Each counter has a confirmed part, the last value the server reported,
// and a provisional part, local increments for messages observed since.
// The displayed value is their sum. Any authoritative response replaces the
// confirmed part and drops the provisional one, so provisional state may
// transiently differ from the server until the next refresh.
package notify

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/protocol"
	"github.com/haraj-adan/chatsync/internal/ws"
)

// Surface identifies a badge.
type Surface string

const (
	SurfaceUser    Surface = "user"
	SurfaceSupport Surface = "support"
)

// Surfaces lists every tracked surface.
var Surfaces = []Surface{SurfaceUser, SurfaceSupport}

// Count is the state of one badge.
type Count struct {
	Confirmed   int
	Provisional int
}

// Value is the displayed count.
func (c Count) Value() int { return c.Confirmed + c.Provisional }

// Pending reports whether the count holds unconfirmed increments.
func (c Count) Pending() bool { return c.Provisional > 0 }

// Config holds aggregator timing.
type Config struct {
	// BumpRefreshDelay is how long after a provisional increment the
	// counts are re-requested. Bursts collapse into one refresh.
	BumpRefreshDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{BumpRefreshDelay: time.Second}
}

// Aggregator is the Notification Aggregator.
type Aggregator struct {
	cfg       Config
	transport ws.Transport
	log       zerolog.Logger

	mu          sync.Mutex
	userID      int64
	admin       bool
	initialized bool
	subs        []ws.Subscription
	counts      map[Surface]Count
	timer       *time.Timer
	onChange    []func(Surface, Count)
}

// New creates an uninitialized aggregator.
func New(t ws.Transport, cfg Config) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		transport: t,
		log:       logging.Component("notify"),
		counts:    make(map[Surface]Count),
	}
}

// OnChange registers fn to run after any counter changes. fn runs without
// the aggregator lock held.
func (a *Aggregator) OnChange(fn func(Surface, Count)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = append(a.onChange, fn)
}

// Initialize wires the count listeners for userID and requests fresh
// counts. Calling it again while wired only refreshes.
func (a *Aggregator) Initialize(userID int64, admin bool) {
	if userID == 0 {
		a.log.Warn().Msg("cannot initialize without a user id")
		return
	}

	a.mu.Lock()
	a.userID = userID
	a.admin = admin
	if a.initialized {
		a.mu.Unlock()
		a.log.Debug().Int64("user_id", userID).Msg("already initialized, refreshing counts")
		a.Refresh()
		return
	}
	a.initialized = true
	a.subs = []ws.Subscription{
		a.transport.Subscribe(protocol.EventCountChatNotifications, a.handleUserCount),
		a.transport.Subscribe(protocol.EventCountUnreadMessages, a.handleSupportCount),
		a.transport.Subscribe(protocol.EventCountUnreadAdminMessages, a.handleSupportCount),
	}
	a.mu.Unlock()

	a.log.Info().Int64("user_id", userID).Bool("admin", admin).Msg("notification listeners initialized")
	a.Refresh()
}

// Initialized reports whether listeners are wired.
func (a *Aggregator) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Refresh requests the authoritative count of every surface. Replies arrive
// as pushes on the same event names.
func (a *Aggregator) Refresh() {
	a.mu.Lock()
	userID, admin, ok := a.userID, a.admin, a.initialized
	a.mu.Unlock()
	if !ok || userID == 0 {
		a.log.Debug().Msg("refresh skipped, not initialized")
		return
	}
	a.requestUserCount(userID)
	a.requestSupportCount(userID, admin)
}

func (a *Aggregator) requestUserCount(userID int64) {
	if err := a.transport.Publish(protocol.EventCountChatNotifications, userID, nil); err != nil {
		a.log.Debug().Err(err).Msg("user count request not sent")
	}
}

func (a *Aggregator) requestSupportCount(userID int64, admin bool) {
	event := protocol.EventCountUnreadMessages
	if admin {
		event = protocol.EventCountUnreadAdminMessages
	}
	if err := a.transport.Publish(event, protocol.CountRequest{UserID: userID}, nil); err != nil {
		a.log.Debug().Err(err).Str("event", event).Msg("support count request not sent")
	}
}

// RefreshAfter schedules a Refresh in d, replacing any pending one.
func (a *Aggregator) RefreshAfter(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(d, a.Refresh)
}

// Bump provisionally increments a surface and schedules a reconciling
// refresh.
func (a *Aggregator) Bump(s Surface) {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return
	}
	c := a.counts[s]
	c.Provisional++
	a.counts[s] = c
	a.mu.Unlock()

	a.notify(s, c)
	a.RefreshAfter(a.cfg.BumpRefreshDelay)
}

// Confirm overwrites a surface with an authoritative count.
func (a *Aggregator) Confirm(s Surface, n int) {
	if n < 0 {
		n = 0
	}
	a.mu.Lock()
	prev := a.counts[s]
	c := Count{Confirmed: n}
	a.counts[s] = c
	a.mu.Unlock()

	if prev != c {
		a.notify(s, c)
	}
}

// Get returns the state of one surface.
func (a *Aggregator) Get(s Surface) Count {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[s]
}

// Total is the sum of every displayed count.
func (a *Aggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.counts {
		n += c.Value()
	}
	return n
}

// Reset unregisters the listeners, cancels any pending refresh and zeroes
// every counter.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.initialized = false
	a.userID = 0
	a.admin = false
	changed := make([]Surface, 0, len(a.counts))
	for s, c := range a.counts {
		if c != (Count{}) {
			changed = append(changed, s)
		}
	}
	a.counts = make(map[Surface]Count)
	a.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, s := range changed {
		a.notify(s, Count{})
	}
	a.log.Info().Msg("notification state reset")
}

func (a *Aggregator) notify(s Surface, c Count) {
	a.mu.Lock()
	fns := make([]func(Surface, Count), len(a.onChange))
	copy(fns, a.onChange)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(s, c)
	}
}

func (a *Aggregator) handleUserCount(data json.RawMessage) {
	var resp protocol.CountResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		a.log.Warn().Err(err).Msg("malformed user count")
		return
	}
	switch {
	case resp.Success:
		a.Confirm(SurfaceUser, resp.Count)
	case resp.Changed:
		// The server only signalled that the value moved.
		a.mu.Lock()
		userID := a.userID
		a.mu.Unlock()
		if userID != 0 {
			a.requestUserCount(userID)
		}
	}
}

func (a *Aggregator) handleSupportCount(data json.RawMessage) {
	var resp protocol.CountResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		a.log.Warn().Err(err).Msg("malformed support count")
		return
	}
	if resp.Success {
		a.Confirm(SurfaceSupport, resp.Count)
	}
}
