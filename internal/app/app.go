// Package app wires the chatsync client together: configuration, the
// persisted preferences, the request gateway, the live transport, the
// notification aggregator and the three chat stores. Stores never call
// each other; identity and logout travel over the bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/auth"
	"github.com/haraj-adan/chatsync/internal/bus"
	"github.com/haraj-adan/chatsync/internal/cart"
	"github.com/haraj-adan/chatsync/internal/catalog"
	"github.com/haraj-adan/chatsync/internal/chat"
	"github.com/haraj-adan/chatsync/internal/config"
	"github.com/haraj-adan/chatsync/internal/gateway"
	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/messaging"
	"github.com/haraj-adan/chatsync/internal/metrics"
	"github.com/haraj-adan/chatsync/internal/notify"
	"github.com/haraj-adan/chatsync/internal/prefs"
	"github.com/haraj-adan/chatsync/internal/ratelimit"
	"github.com/haraj-adan/chatsync/internal/ws"
)

// App is the assembled client.
type App struct {
	cfg *config.Config
	log zerolog.Logger
	ctx context.Context

	Prefs     prefs.Store
	Tokens    *auth.TokenStore
	Gateway   *gateway.Client
	Transport ws.Transport
	Bus       *bus.Bus
	Auth      *auth.Session
	Notify    *notify.Aggregator

	UserChat    *chat.Store
	SupportChat *chat.Store
	Monitor     *chat.Store

	Cart    *cart.Store
	Catalog *catalog.Catalog

	nats *messaging.NATSClient
}

type options struct {
	prefs     prefs.Store
	transport ws.Transport
	publisher messaging.Publisher
}

// Option overrides a component, mostly for tests.
type Option func(*options)

// WithPrefs uses p instead of opening the configured backend.
func WithPrefs(p prefs.Store) Option { return func(o *options) { o.prefs = p } }

// WithTransport uses t instead of a websocket session.
func WithTransport(t ws.Transport) Option { return func(o *options) { o.transport = t } }

// WithMirror republishes bus events to pub instead of a NATS connection.
func WithMirror(pub messaging.Publisher) Option { return func(o *options) { o.publisher = pub } }

// New builds the client. ctx bounds background work started on behalf of
// bus events (conversation fetches after an identity change).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: logging.Component("app"), ctx: ctx, Bus: bus.New()}

	a.Prefs = o.prefs
	if a.Prefs == nil {
		p, err := prefs.Open(ctx, prefs.Config{
			Driver:    cfg.Prefs.Driver,
			Path:      cfg.Prefs.Path,
			RedisAddr: cfg.Prefs.RedisAddr,
			Namespace: cfg.Prefs.Namespace,
		})
		if err != nil {
			a.Bus.Close()
			return nil, fmt.Errorf("app: open prefs: %w", err)
		}
		a.Prefs = p
	}

	tokens, err := auth.NewTokenStore(ctx, a.Prefs)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("app: load credential: %w", err)
	}
	a.Tokens = tokens

	a.Gateway = gateway.New(gatewayConfig(cfg), tokens,
		gateway.WithLocale(func() string {
			lctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return prefs.Locale(lctx, a.Prefs, cfg.API.DefaultLocale)
		}),
		gateway.WithSessionExpired(func() { a.Auth.Expire() }),
	)

	a.Transport = o.transport
	if a.Transport == nil {
		a.Transport = ws.NewSession(socketConfig(cfg), tokens.Token)
	}

	a.Auth = auth.NewSession(a.Gateway, tokens, a.Transport, a.Bus)
	a.Notify = notify.New(a.Transport, notify.Config{BumpRefreshDelay: cfg.Chat.ReceiptRefreshDelay})
	a.Notify.OnChange(a.publishUnread)

	storeOpts := []chat.Option{
		chat.WithLimiter(a.limiter()),
		chat.WithObserver(a.publishMessage),
	}
	chatCfg := chatConfig(cfg)
	a.UserChat = chat.NewStore(chat.UserSurface(), a.Gateway, a.Transport, a.Notify, chatCfg, storeOpts...)
	a.SupportChat = chat.NewStore(chat.SupportSurface(), a.Gateway, a.Transport, a.Notify, chatCfg, storeOpts...)
	a.Monitor = chat.NewStore(chat.MonitorSurface(), a.Gateway, a.Transport, a.Notify, chatCfg, storeOpts...)

	a.Cart = cart.New(a.Prefs)
	if err := a.Cart.Load(ctx); err != nil {
		a.log.Warn().Err(err).Msg("cart not restored")
	}
	a.Catalog = catalog.New(a.Gateway)

	if err := bus.On(a.Bus, bus.TopicIdentityChanged, a.onIdentity); err != nil {
		a.closePartial()
		return nil, err
	}
	if err := bus.On(a.Bus, bus.TopicLogoutRequested, a.onLogout); err != nil {
		a.closePartial()
		return nil, err
	}
	if err := a.attachMirror(o.publisher); err != nil {
		a.closePartial()
		return nil, err
	}
	return a, nil
}

// Stores returns the three chat stores.
func (a *App) Stores() []*chat.Store {
	return []*chat.Store{a.UserChat, a.SupportChat, a.Monitor}
}

// Start restores a saved session, if any, and starts the live connection.
func (a *App) Start(ctx context.Context) error {
	if _, err := a.Auth.Restore(ctx); err != nil && !errors.Is(err, auth.ErrNoCredential) {
		a.log.Warn().Err(err).Msg("saved session not restored")
	}
	return a.Transport.Connect(ctx)
}

// Close releases every resource.
func (a *App) Close() error {
	a.Notify.Reset()
	for _, s := range a.Stores() {
		s.Reset()
	}
	var errs []error
	if err := a.Transport.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if err := a.Bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Prefs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closePartial() {
	a.Bus.Close()
	if a.Prefs != nil {
		a.Prefs.Close()
	}
}

// onIdentity hands the new identity to every store, starts listening and
// loads the first conversation pages.
func (a *App) onIdentity(ev bus.IdentityChanged) {
	m := chat.Member{ID: ev.UserID, Admin: ev.Admin}
	for _, s := range a.Stores() {
		s.SetMember(m)
		s.ListenForMessages()
	}
	a.Notify.Initialize(ev.UserID, ev.Admin)
	for _, s := range a.Stores() {
		if err := s.FetchConversations(a.ctx, false); err != nil {
			a.log.Warn().Err(err).Str("surface", s.Surface().Name).Msg("initial conversation fetch failed")
		}
	}
}

func (a *App) onLogout(ev bus.LogoutRequested) {
	a.Notify.Reset()
	for _, s := range a.Stores() {
		s.Reset()
	}
	a.log.Info().Int64("user_id", ev.UserID).Str("reason", ev.Reason).Msg("client state cleared")
}

func (a *App) publishUnread(s notify.Surface, c notify.Count) {
	metrics.UnreadCount.WithLabelValues(string(s)).Set(float64(c.Value()))
	if err := a.Bus.Publish(bus.TopicUnreadChanged, bus.UnreadChanged{
		Surface: string(s), Count: c.Value(), Provisional: c.Pending(),
	}); err != nil {
		a.log.Debug().Err(err).Msg("unread change not published")
	}
}

func (a *App) publishMessage(surface string, m chat.Message, origin string) {
	id, _ := m.ID.Server()
	if err := a.Bus.Publish(bus.TopicMessageObserved, bus.MessageObserved{
		Surface:        surface,
		ConversationID: m.ConversationID,
		MessageID:      id,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Type:           m.Type,
		CreatedAt:      m.CreatedAt,
		Live:           origin == "live",
	}); err != nil {
		a.log.Debug().Err(err).Msg("message not published")
	}
}

// limiter shares send budgets through Redis when preferences live there.
func (a *App) limiter() ratelimit.Limiter {
	if rs, ok := a.Prefs.(*prefs.RedisStore); ok {
		return ratelimit.NewRedis(rs.Client(), a.cfg.Prefs.Namespace+":")
	}
	return ratelimit.NewLocal()
}

func (a *App) attachMirror(pub messaging.Publisher) error {
	if pub == nil && a.cfg.NATS.Enabled {
		nc, err := messaging.NewNATSClient(messaging.NATSConfig{
			URL:           a.cfg.NATS.URL,
			Name:          a.cfg.NATS.Name,
			ReconnectWait: a.cfg.NATS.ReconnectWait,
			MaxReconnects: a.cfg.NATS.MaxReconnects,
		})
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.nats = nc
		pub = nc
	}
	if pub == nil {
		return nil
	}
	prefix := a.cfg.NATS.SubjectPrefix
	if prefix == "" {
		prefix = "chatsync"
	}
	return messaging.NewMirror(pub, prefix).Attach(a.Bus)
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		BaseURL:       cfg.API.BaseURL,
		Timeout:       cfg.API.Timeout,
		RefreshPath:   cfg.API.RefreshPath,
		DefaultLocale: cfg.API.DefaultLocale,
		Breaker: gateway.BreakerConfig{
			MaxRequests:  cfg.Breaker.MaxRequests,
			Interval:     cfg.Breaker.Interval,
			Timeout:      cfg.Breaker.Timeout,
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
		},
	}
}

func socketConfig(cfg *config.Config) ws.Config {
	c := ws.DefaultConfig()
	c.URL = cfg.Socket.URL
	c.HandshakeTimeout = cfg.Socket.HandshakeTimeout
	c.PingInterval = cfg.Socket.PingInterval
	c.PongTimeout = cfg.Socket.PongTimeout
	c.ReconnectMin = cfg.Socket.ReconnectMin
	c.ReconnectMax = cfg.Socket.ReconnectMax
	c.OutboxSize = cfg.Socket.OutboxSize
	return c
}

func chatConfig(cfg *config.Config) chat.Config {
	c := chat.DefaultConfig()
	c.ConversationPageSize = cfg.Chat.ConversationPageSize
	c.MessagePageSize = cfg.Chat.MessagePageSize
	c.ReadRefreshDelay = cfg.Chat.ReadRefreshDelay
	c.SendRule = ratelimit.Rule{
		Key:    ratelimit.RuleMessage.Key,
		Limit:  cfg.Chat.SendLimit,
		Window: cfg.Chat.SendWindow,
	}
	return c
}
