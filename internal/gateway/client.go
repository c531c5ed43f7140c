// Package gateway is the uniform REST access layer. Every call carries the
// bearer credential and locale, expired credentials are renewed once
// transparently, and failures come back as *Error with a user-facing
// message.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/metrics"
)

// TokenStore holds the bearer credential.
type TokenStore interface {
	Token() string
	SetToken(token string)
	ClearToken()
}

// Config holds gateway settings.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RefreshPath   string
	DefaultLocale string
	Breaker       BreakerConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:3000/api/v1",
		Timeout:       30 * time.Second,
		RefreshPath:   "/auth/refresh",
		DefaultLocale: "en",
		Breaker:       DefaultBreakerConfig(),
	}
}

// Client is the Request Gateway.
type Client struct {
	cfg       Config
	http      *http.Client
	tokens    TokenStore
	locale    func() string
	onExpired func()
	now       func() time.Time
	breaker   *gobreaker.CircuitBreaker[*rawResponse]
	log       zerolog.Logger

	renewMu  sync.Mutex
	renewing bool
	waiters  []chan renewResult
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithLocale sets the source of the Accept-Language header.
func WithLocale(fn func() string) Option { return func(c *Client) { c.locale = fn } }

// WithSessionExpired registers the callback run when renewal fails and the
// session is terminated.
func WithSessionExpired(fn func()) Option { return func(c *Client) { c.onExpired = fn } }

// WithClock overrides time.Now for credential expiry checks.
func WithClock(fn func() time.Time) Option { return func(c *Client) { c.now = fn } }

// New creates a Client.
func New(cfg Config, tokens TokenStore, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Jar: jar},
		tokens: tokens,
		now:    time.Now,
		log:    logging.Component("gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = newBreaker("gateway", cfg.Breaker, func(from, to gobreaker.State) {
		c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	})
	return c
}

// ---------------------------------------------------------------------------
// Verbs
// ---------------------------------------------------------------------------

// List fetches a collection.
func (c *Client) List(ctx context.Context, path string, q Query) (*Response, error) {
	return c.Do(ctx, OpRead, http.MethodGet, path, q, nil)
}

// Get fetches path/id.
func (c *Client) Get(ctx context.Context, path string, id interface{}, q Query) (*Response, error) {
	return c.Do(ctx, OpRead, http.MethodGet, joinID(path, id), q, nil)
}

// Create posts body (JSON, or multipart when body is a *Form).
func (c *Client) Create(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, OpCreate, http.MethodPost, path, nil, body)
}

// Update patches path/id.
func (c *Client) Update(ctx context.Context, path string, id interface{}, body interface{}) (*Response, error) {
	return c.Do(ctx, OpUpdate, http.MethodPatch, joinID(path, id), nil, body)
}

// Patch patches path itself.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, OpPatch, http.MethodPatch, path, nil, body)
}

// Delete deletes path/id.
func (c *Client) Delete(ctx context.Context, path string, id interface{}) (*Response, error) {
	return c.Do(ctx, OpDelete, http.MethodDelete, joinID(path, id), nil, nil)
}

func joinID(path string, id interface{}) string {
	return strings.TrimRight(path, "/") + "/" + fmt.Sprint(id)
}

// Do performs one logical request. A 401 on anything but the refresh
// endpoint triggers at most one renewal and one retry.
func (c *Client) Do(ctx context.Context, op Op, method, path string, q Query, body interface{}) (*Response, error) {
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, &Error{Op: op, Method: method, Path: path, Message: fallbackMessages[op], Err: err}
	}
	target := c.url(path, q)
	refreshCall := c.isRefresh(path)

	renewed := false
	if !refreshCall && c.credentialExpired() {
		if _, err := c.renew(ctx); err != nil {
			return nil, c.renewError(op, method, path, err)
		}
		renewed = true
	}

	sentWith := c.tokens.Token()
	raw, err := c.send(ctx, method, target, payload, contentType, sentWith)
	if err != nil {
		return nil, c.transportError(op, method, path, err)
	}

	if raw.status == http.StatusUnauthorized {
		if refreshCall {
			c.terminate()
			return nil, newError(op, method, path, raw.status, raw.body, ErrSessionExpired)
		}
		if !renewed {
			token := c.tokens.Token()
			// Another request already renewed while this one was in flight.
			if token == "" || token == sentWith {
				if token, err = c.renew(ctx); err != nil {
					return nil, c.renewError(op, method, path, err)
				}
			}
			raw, err = c.send(ctx, method, target, payload, contentType, token)
			if err != nil {
				return nil, c.transportError(op, method, path, err)
			}
		}
	}

	if raw.status >= 400 {
		metrics.GatewayRequests.WithLabelValues(method, "error").Inc()
		var cause error
		if raw.status == http.StatusUnauthorized {
			cause = ErrUnauthorized
		}
		e := newError(op, method, path, raw.status, raw.body, cause)
		c.log.Debug().Str("detail", e.Detail()).Msg("request failed")
		return nil, e
	}

	metrics.GatewayRequests.WithLabelValues(method, "ok").Inc()
	resp, err := parseResponse(raw.status, raw.body)
	if err != nil {
		return nil, &Error{Op: op, Method: method, Path: path, StatusCode: raw.status, Message: fallbackMessages[op], Err: err}
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

type rawResponse struct {
	status int
	body   []byte
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte, contentType, token string) (*rawResponse, error) {
	start := time.Now()
	raw, err := c.breaker.Execute(func() (*rawResponse, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Language", c.currentLocale())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gateway: read body: %w", err)
		}
		raw := &rawResponse{status: resp.StatusCode, body: data}
		if resp.StatusCode >= 500 {
			return raw, errUpstream
		}
		return raw, nil
	})
	metrics.GatewayLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, errUpstream) {
		return raw, nil
	}
	return raw, err
}

func (c *Client) transportError(op Op, method, path string, err error) *Error {
	metrics.GatewayRequests.WithLabelValues(method, "transport_error").Inc()
	cause := err
	if isBreakerRejection(err) {
		cause = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	e := &Error{Op: op, Method: method, Path: path, Message: fallbackMessages[op], Err: cause}
	c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
	return e
}

func (c *Client) renewError(op Op, method, path string, err error) *Error {
	status := 0
	outcome := "transport_error"
	if errors.Is(err, ErrSessionExpired) {
		status = http.StatusUnauthorized
		outcome = "session_expired"
	}
	metrics.GatewayRequests.WithLabelValues(method, outcome).Inc()
	msg := Message(err)
	if msg == "" || !errors.As(err, new(*Error)) {
		msg = fallbackMessages[OpAuth]
	}
	return &Error{Op: op, Method: method, Path: path, StatusCode: status, Message: msg, Err: err}
}

func (c *Client) url(path string, q Query) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) isRefresh(path string) bool {
	return strings.Trim(path, "/") == strings.Trim(c.cfg.RefreshPath, "/")
}

func (c *Client) currentLocale() string {
	if c.locale != nil {
		if l := c.locale(); l != "" {
			return l
		}
	}
	if c.cfg.DefaultLocale != "" {
		return c.cfg.DefaultLocale
	}
	return "en"
}

func encodeBody(body interface{}) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *Form:
		return b.encode()
	case []byte:
		return b, "application/json", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("gateway: encode body: %w", err)
		}
		return data, "application/json", nil
	}
}
