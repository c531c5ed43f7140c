package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/haraj-adan/chatsync/internal/metrics"
)

// expirySkew renews slightly before the credential's exp claim.
const expirySkew = 5 * time.Second

type renewResult struct {
	token string
	err   error
}

// renew obtains a fresh credential. Only one renewal runs at a time; callers
// arriving meanwhile wait for its result. A failed renewal clears the
// credential and terminates the session.
func (c *Client) renew(ctx context.Context) (string, error) {
	c.renewMu.Lock()
	if c.renewing {
		ch := make(chan renewResult, 1)
		c.waiters = append(c.waiters, ch)
		c.renewMu.Unlock()

		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.renewing = true
	c.renewMu.Unlock()

	// The renewal outlives the request that happened to trigger it: other
	// requests are queued on its result.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.renewTimeout())
	token, err := c.refresh(rctx)
	cancel()

	c.renewMu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.renewing = false
	c.renewMu.Unlock()

	if err == nil {
		c.tokens.SetToken(token)
		metrics.TokenRenewals.WithLabelValues("ok").Inc()
		c.log.Info().Int("queued", len(waiters)).Msg("credential renewed")
	} else {
		metrics.TokenRenewals.WithLabelValues("failed").Inc()
		c.log.Warn().Err(err).Int("queued", len(waiters)).Msg("credential renewal failed")
	}

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	for _, ch := range waiters {
		ch <- renewResult{token: token, err: err}
	}
	if err != nil {
		c.terminate()
	}
	return token, err
}

func (c *Client) renewTimeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return 30 * time.Second
}

// refresh calls the renewal endpoint. The server answers with
// {access_token} at the top level or under data.
func (c *Client) refresh(ctx context.Context) (string, error) {
	raw, err := c.send(ctx, http.MethodGet, c.url(c.cfg.RefreshPath, nil), nil, "", c.tokens.Token())
	if err != nil {
		return "", newError(OpAuth, http.MethodGet, c.cfg.RefreshPath, 0, nil, err)
	}
	if raw.status >= 400 {
		return "", newError(OpAuth, http.MethodGet, c.cfg.RefreshPath, raw.status, raw.body, ErrUnauthorized)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		Data        *struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw.body, &body); err != nil {
		return "", fmt.Errorf("gateway: decode renewal: %w", err)
	}
	token := body.AccessToken
	if token == "" && body.Data != nil {
		token = body.Data.AccessToken
	}
	if token == "" {
		return "", errors.New("gateway: renewal returned no access token")
	}
	return token, nil
}

// terminate clears the credential and notifies the session owner.
func (c *Client) terminate() {
	c.tokens.ClearToken()
	c.log.Warn().Msg("session terminated")
	if c.onExpired != nil {
		c.onExpired()
	}
}

// credentialExpired reports whether the stored credential is a JWT whose
// exp claim has passed. Opaque tokens are never considered expired here;
// the server's 401 decides.
func (c *Client) credentialExpired() bool {
	return TokenExpired(c.tokens.Token(), c.now())
}

// TokenExpired reports whether token is a JWT that expires before now plus
// a small skew. The signature is not verified; only the server can do that.
func TokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return false
	}
	return !now.Add(expirySkew).Before(exp)
}

// TokenExpiry returns the exp claim of a JWT without verifying it.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
