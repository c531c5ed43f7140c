package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/metrics"
	"github.com/haraj-adan/chatsync/internal/protocol"
)

// Config holds connection tuning parameters.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	ReconnectMin     time.Duration // first retry delay
	ReconnectMax     time.Duration // backoff ceiling
	OutboxSize       int           // publishes buffered while disconnected
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:3000/ws",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
		PongTimeout:      20 * time.Second,
		ReconnectMin:     1 * time.Second,
		ReconnectMax:     32 * time.Second,
		OutboxSize:       256,
	}
}

// TokenSource returns the current bearer credential, or "".
type TokenSource func() string

// Session is the websocket-backed Transport. One Session is shared by all
// stores of a client.
type Session struct {
	cfg      Config
	token    TokenSource
	registry *Registry
	log      zerolog.Logger

	mu       sync.Mutex
	conn     *connection
	ready    chan struct{} // closed while connected
	member   *Member
	outbox   [][]byte
	acks     map[uint64]AckFunc
	ackSeq   uint64
	connects int
	started  bool
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ Transport = (*Session)(nil)

// NewSession creates a Session. token may be nil for anonymous connections.
func NewSession(cfg Config, token TokenSource) *Session {
	if token == nil {
		token = func() string { return "" }
	}
	return &Session{
		cfg:      cfg,
		token:    token,
		registry: NewRegistry(),
		log:      logging.Component("ws"),
		ready:    make(chan struct{}),
		acks:     make(map[uint64]AckFunc),
		stop:     make(chan struct{}),
	}
}

// Connect starts the background connect/reconnect loop bound to ctx. It
// returns immediately; use WaitConnected to block until the first
// connection is up.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// WaitConnected blocks until the session is connected or ctx ends.
func (s *Session) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-s.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a connection is currently established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// SetMember sets the identity whose personal room (and the admin room, for
// administrators) is joined on every connect. When already connected the
// rooms are joined immediately.
func (s *Session) SetMember(m *Member) {
	s.mu.Lock()
	if m != nil {
		cp := *m
		m = &cp
	}
	s.member = m
	c := s.conn
	s.mu.Unlock()

	if c != nil && m != nil {
		s.joinMemberRooms(c, m)
	}
}

// Subscribe registers h for inbound event; see Registry.Subscribe.
func (s *Session) Subscribe(event string, h Handler) Subscription {
	return s.registry.Subscribe(event, h)
}

// JoinRoom asks the server to add this connection to room. It is dropped
// when disconnected; rooms are re-derived on reconnect.
func (s *Session) JoinRoom(room string) { s.roomRequest(protocol.EventJoinRoom, room) }

// LeaveRoom asks the server to remove this connection from room.
func (s *Session) LeaveRoom(room string) { s.roomRequest(protocol.EventLeaveRoom, room) }

func (s *Session) roomRequest(event, room string) {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		s.log.Debug().Str("event", event).Str("room", room).Msg("not connected, room request skipped")
		return
	}
	s.send(c, event, room)
}

// Publish sends event with payload. When ack is non-nil the frame carries a
// sequence number and ack runs when (if) the server replies. While
// disconnected, frames are queued up to OutboxSize, oldest dropped first.
func (s *Session) Publish(event string, payload interface{}, ack AckFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var id uint64
	if ack != nil {
		s.ackSeq++
		id = s.ackSeq
		s.acks[id] = ack
	}
	s.mu.Unlock()

	frame, err := protocol.EncodeFrame(event, payload, id)
	if err != nil {
		s.forgetAck(id)
		return err
	}

	s.mu.Lock()
	c := s.conn
	if c == nil {
		if s.cfg.OutboxSize <= 0 {
			s.mu.Unlock()
			s.forgetAck(id)
			metrics.Publishes.WithLabelValues(event, "dropped").Inc()
			return nil
		}
		if len(s.outbox) >= s.cfg.OutboxSize {
			s.outbox = s.outbox[1:]
			metrics.Publishes.WithLabelValues(event, "dropped").Inc()
		}
		s.outbox = append(s.outbox, frame)
		s.mu.Unlock()
		metrics.Publishes.WithLabelValues(event, "queued").Inc()
		return nil
	}
	s.mu.Unlock()

	if err := c.write(frame); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("publish failed")
		c.close()
		return fmt.Errorf("ws: publish %s: %w", event, err)
	}
	metrics.Publishes.WithLabelValues(event, "sent").Inc()
	return nil
}

// AnnounceOffline sends the presence-offline signal. It is never queued: a
// stale offline notice replayed after the next login would be wrong.
func (s *Session) AnnounceOffline(userID int64) {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return
	}
	s.send(c, protocol.EventOffline, userID)
}

// Close stops reconnecting, closes the connection and waits for background
// goroutines.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	c := s.conn
	s.mu.Unlock()

	if c != nil {
		c.close()
	}
	s.wg.Wait()
	return nil
}

// ---------------------------------------------------------------------------
// Connection loop
// ---------------------------------------------------------------------------

func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	backoff := s.cfg.ReconnectMin
	for {
		if s.stopping(ctx) {
			return
		}

		c, err := s.dial(ctx)
		if err != nil {
			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("connect failed")
			if !s.sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > s.cfg.ReconnectMax {
				backoff = s.cfg.ReconnectMax
			}
			continue
		}
		backoff = s.cfg.ReconnectMin

		s.attach(c)
		s.readLoop(ctx, c)
		s.detach(c)
	}
}

func (s *Session) dial(ctx context.Context) (*connection, error) {
	header := http.Header{}
	if tok := s.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	dialer := ws.Dialer{
		Timeout: s.cfg.HandshakeTimeout,
		Header:  ws.HandshakeHeaderHTTP(header),
	}
	conn, br, _, err := dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", s.cfg.URL, err)
	}
	return newConnection(conn, br, s.cfg.WriteTimeout), nil
}

// attach makes c the live connection and restores delivery: personal rooms
// first, then queued publishes, then the local reconnected signal so stores
// can rejoin their conversation rooms.
func (s *Session) attach(c *connection) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.close()
		return
	}
	s.conn = c
	s.connects++
	reconnect := s.connects > 1
	member := s.member
	pending := s.outbox
	s.outbox = nil
	close(s.ready)
	s.mu.Unlock()

	metrics.SocketConnected.Set(1)
	if reconnect {
		metrics.SocketReconnects.Inc()
	}
	s.log.Info().Bool("reconnect", reconnect).Msg("connected")

	if s.cfg.PingInterval > 0 {
		s.wg.Add(1)
		go s.heartbeat(c)
	}

	if member != nil {
		s.joinMemberRooms(c, member)
	}
	for _, frame := range pending {
		if err := c.write(frame); err != nil {
			s.log.Warn().Err(err).Msg("outbox flush failed")
			break
		}
	}

	s.registry.Dispatch(protocol.EventReconnected, nil)
}

func (s *Session) detach(c *connection) {
	c.close()

	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
		s.ready = make(chan struct{})
	}
	dropped := len(s.acks)
	s.acks = make(map[uint64]AckFunc)
	s.mu.Unlock()

	metrics.SocketConnected.Set(0)
	if dropped > 0 {
		s.log.Debug().Int("acks", dropped).Msg("pending acks abandoned on disconnect")
	}
}

func (s *Session) readLoop(ctx context.Context, c *connection) {
	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	for {
		var deadline time.Time
		if s.cfg.PingInterval > 0 {
			deadline = time.Now().Add(s.cfg.PingInterval + s.cfg.PongTimeout)
		}
		data, err := c.read(deadline)
		if err != nil {
			if !s.stopping(ctx) {
				s.log.Warn().Err(err).Msg("connection lost")
			}
			return
		}
		s.handleFrame(c, data)
	}
}

func (s *Session) handleFrame(c *connection, data []byte) {
	f, err := protocol.DecodeFrame(data)
	if err != nil {
		s.log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	switch f.Type {
	case protocol.TypePong:
	case protocol.TypePing:
		s.send(c, protocol.TypePong, nil)
	case protocol.TypeAck:
		s.resolveAck(f.Ack, f.Data)
	default:
		metrics.PushEvents.WithLabelValues(f.Type).Inc()
		if n := s.registry.Dispatch(f.Type, f.Data); n == 0 {
			s.log.Debug().Str("event", f.Type).Msg("no subscriber")
		}
	}
}

func (s *Session) resolveAck(id uint64, data json.RawMessage) {
	s.mu.Lock()
	fn, ok := s.acks[id]
	delete(s.acks, id)
	s.mu.Unlock()
	if ok {
		fn(data)
	}
}

func (s *Session) forgetAck(id uint64) {
	if id == 0 {
		return
	}
	s.mu.Lock()
	delete(s.acks, id)
	s.mu.Unlock()
}

func (s *Session) joinMemberRooms(c *connection, m *Member) {
	s.send(c, protocol.EventJoinRoom, protocol.UserRoom(m.UserID))
	if m.Admin {
		s.send(c, protocol.EventJoinRoom, protocol.RoomAdmins)
	}
}

// send writes a frame that needs no ack and is never queued.
func (s *Session) send(c *connection, event string, payload interface{}) {
	frame, err := protocol.EncodeFrame(event, payload, 0)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encode failed")
		return
	}
	if err := c.write(frame); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("write failed")
		c.close()
		return
	}
	metrics.Publishes.WithLabelValues(event, "sent").Inc()
}

func (s *Session) stopping(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}
