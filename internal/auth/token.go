package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/prefs"
)

const persistTimeout = 5 * time.Second

// TokenStore keeps the bearer credential in memory and writes every change
// through to prefs. Persistence failures are logged; the in-memory value
// stays authoritative for the running process.
type TokenStore struct {
	prefs prefs.Store
	log   zerolog.Logger

	mu    sync.RWMutex
	token string
}

// NewTokenStore loads any previously persisted credential.
func NewTokenStore(ctx context.Context, p prefs.Store) (*TokenStore, error) {
	ts := &TokenStore{prefs: p, log: logging.Component("auth")}
	tok, err := p.Get(ctx, prefs.KeyToken)
	switch {
	case errors.Is(err, prefs.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		ts.token = tok
	}
	return ts, nil
}

func (ts *TokenStore) Token() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.token
}

func (ts *TokenStore) SetToken(token string) {
	ts.mu.Lock()
	ts.token = token
	ts.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := ts.prefs.Set(ctx, prefs.KeyToken, token); err != nil {
		ts.log.Warn().Err(err).Msg("failed to persist token")
	}
}

func (ts *TokenStore) ClearToken() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := ts.prefs.Delete(ctx, prefs.KeyToken); err != nil {
		ts.log.Warn().Err(err).Msg("failed to clear persisted token")
	}
}
