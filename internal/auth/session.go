// Package auth owns the signed-in identity: sign in/up, restoring a
// persisted session, and the logout sequence that announces presence
// offline before any local state is dropped.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/bus"
	"github.com/haraj-adan/chatsync/internal/gateway"
	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/ws"
)

// ErrNoCredential is returned by Restore when nothing is persisted.
var ErrNoCredential = errors.New("auth: no stored credential")

// SignKind selects the sign endpoint.
type SignKind string

const (
	SignIn SignKind = "signin"
	SignUp SignKind = "signup"
)

const signFailed = "An error occurred while signing in."

// Credentials is the sign in/up body. Unused fields are omitted.
type Credentials struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

// API is the part of the gateway the session needs.
type API interface {
	List(ctx context.Context, path string, q gateway.Query) (*gateway.Response, error)
	Create(ctx context.Context, path string, body interface{}) (*gateway.Response, error)
}

// Credential is the bearer token holder; *TokenStore implements it.
type Credential interface {
	Token() string
	SetToken(token string)
	ClearToken()
}

// Session tracks the current identity.
type Session struct {
	api       API
	tokens    Credential
	transport ws.Transport
	bus       *bus.Bus
	log       zerolog.Logger

	mu       sync.RWMutex
	identity *Identity
}

// NewSession creates a signed-out session.
func NewSession(api API, tokens Credential, transport ws.Transport, b *bus.Bus) *Session {
	return &Session{
		api:       api,
		tokens:    tokens,
		transport: transport,
		bus:       b,
		log:       logging.Component("auth"),
	}
}

// Identity returns a copy of the signed-in identity, or nil.
func (s *Session) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	cp := *s.identity
	return &cp
}

// Authenticated reports whether an identity is present.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil
}

// Login signs in or up, stores the returned credential and loads the
// identity.
func (s *Session) Login(ctx context.Context, kind SignKind, creds Credentials) (*Identity, error) {
	resp, err := s.api.Create(ctx, "/auth/"+string(kind), creds)
	if err != nil {
		return nil, err
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := resp.Decode(&body); err != nil || body.AccessToken == "" {
		if err == nil {
			err = fmt.Errorf("auth: no access token in reply")
		}
		return nil, &gateway.Error{Op: gateway.OpAuth, Path: "/auth/" + string(kind),
			StatusCode: resp.StatusCode, Message: signFailed, Err: err}
	}
	s.tokens.SetToken(body.AccessToken)
	return s.Restore(ctx)
}

// Restore loads the identity for the stored credential. On failure the
// credential is dropped.
func (s *Session) Restore(ctx context.Context) (*Identity, error) {
	if s.tokens.Token() == "" {
		s.revoke(bus.ReasonSessionExpired)
		return nil, ErrNoCredential
	}

	resp, err := s.api.List(ctx, "/auth/me", nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("restoring session failed")
		s.tokens.ClearToken()
		s.revoke(bus.ReasonSessionExpired)
		return nil, err
	}
	var id Identity
	if err := resp.Decode(&id); err != nil || id.ID == 0 {
		if err == nil {
			err = fmt.Errorf("auth: identity without id")
		}
		s.tokens.ClearToken()
		s.revoke(bus.ReasonSessionExpired)
		return nil, err
	}

	s.grant(&id)
	return s.Identity(), nil
}

func (s *Session) grant(id *Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()

	s.transport.SetMember(&ws.Member{UserID: id.ID, Admin: id.IsAdmin()})
	s.log.Info().Int64("user_id", id.ID).Bool("admin", id.IsAdmin()).Msg("identity granted")

	if err := s.bus.Publish(bus.TopicIdentityChanged, bus.IdentityChanged{
		UserID: id.ID, Name: id.Name, Admin: id.IsAdmin(),
	}); err != nil {
		s.log.Warn().Err(err).Msg("identity change not published")
	}
}

// revoke drops the identity and, if there was one, asks every store to
// reset.
func (s *Session) revoke(reason string) {
	s.mu.Lock()
	prev := s.identity
	s.identity = nil
	s.mu.Unlock()

	s.transport.SetMember(nil)
	if prev == nil {
		return
	}
	s.log.Info().Int64("user_id", prev.ID).Str("reason", reason).Msg("identity revoked")
	if err := s.bus.Publish(bus.TopicLogoutRequested, bus.LogoutRequested{
		UserID: prev.ID, Reason: reason,
	}); err != nil {
		s.log.Warn().Err(err).Msg("logout not published")
	}
}

// Logout announces the identity offline, tells the server, then clears the
// credential and local state. Local state is cleared even when the server
// call fails; that error is returned for display.
func (s *Session) Logout(ctx context.Context) error {
	if id := s.Identity(); id != nil {
		s.transport.AnnounceOffline(id.ID)
	}

	var serverErr error
	if s.tokens.Token() != "" {
		if _, err := s.api.List(ctx, "/auth/logout", nil); err != nil {
			s.log.Warn().Err(err).Msg("server logout failed, revoking locally")
			serverErr = err
		}
	}
	s.tokens.ClearToken()
	s.revoke(bus.ReasonUser)
	return serverErr
}

// Expire ends the session after the gateway gave up renewing the
// credential. The server is not contacted.
func (s *Session) Expire() {
	if id := s.Identity(); id != nil {
		s.transport.AnnounceOffline(id.ID)
	}
	s.tokens.ClearToken()
	s.revoke(bus.ReasonSessionExpired)
}
