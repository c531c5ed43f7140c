// Package catalog exposes the dashboard's paginated REST collections (ads,
// banners, categories, users, wallet transactions and deposit requests)
// and the admin statistics.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/gateway"
	"github.com/haraj-adan/chatsync/internal/logging"
)

// API is the part of the gateway a Collection needs.
type API interface {
	List(ctx context.Context, path string, q gateway.Query) (*gateway.Response, error)
	Get(ctx context.Context, path string, id interface{}, q gateway.Query) (*gateway.Response, error)
	Create(ctx context.Context, path string, body interface{}) (*gateway.Response, error)
	Update(ctx context.Context, path string, id interface{}, body interface{}) (*gateway.Response, error)
	Patch(ctx context.Context, path string, body interface{}) (*gateway.Response, error)
	Delete(ctx context.Context, path string, id interface{}) (*gateway.Response, error)
}

// ListParams selects one page. Search is sent only together with FilterBy.
type ListParams struct {
	Page     int
	Limit    int
	Search   string
	FilterBy string
	Extra    gateway.Query
}

func (p ListParams) query() gateway.Query {
	page, limit := p.Page, p.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	q := gateway.PageQuery(page, limit)
	if p.Search != "" && p.FilterBy != "" {
		q.Set("search", p.Search).Set("filterBy", p.FilterBy)
	}
	for k, vs := range p.Extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	return q
}

// DefaultLimit is the page size when ListParams leaves it unset.
const DefaultLimit = 10

// Collection is one paginated REST resource rooted at a base path. The
// last loaded page is kept for display.
type Collection[T any] struct {
	api  API
	base string
	log  zerolog.Logger

	mu      sync.Mutex
	items   []T
	page    int
	total   int
	loading bool
}

// NewCollection returns a collection rooted at base, e.g. "/ads".
func NewCollection[T any](api API, base string) *Collection[T] {
	return &Collection[T]{
		api:  api,
		base: strings.TrimRight(base, "/"),
		log:  logging.Component("catalog").With().Str("collection", base).Logger(),
	}
}

// Path returns the base path.
func (c *Collection[T]) Path() string { return c.base }

// List loads one page from <base>/paginate and keeps it. On failure the
// previously loaded page is kept.
func (c *Collection[T]) List(ctx context.Context, p ListParams) (gateway.Page[T], error) {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	resp, err := c.api.List(ctx, c.base+"/paginate", p.query())
	if err != nil {
		c.log.Error().Err(err).Msg("list failed")
		return gateway.Page[T]{}, err
	}
	page, err := gateway.DecodePage[T](resp)
	if err != nil {
		return gateway.Page[T]{}, err
	}
	if page.Page == 0 {
		page.Page = p.Page
	}

	c.mu.Lock()
	c.items = page.Items
	c.page = page.Page
	c.total = page.Total
	c.mu.Unlock()
	return page, nil
}

// Items returns the last loaded page.
func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// Total is the server-reported size of the collection.
func (c *Collection[T]) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Page is the number of the last loaded page.
func (c *Collection[T]) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Loading reports whether a List call is in flight.
func (c *Collection[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Get fetches one record, optionally with related records embedded.
func (c *Collection[T]) Get(ctx context.Context, id int64, includes ...string) (T, error) {
	var v T
	q := gateway.Query{}
	if len(includes) > 0 {
		q.Set("includes", includes)
	}
	resp, err := c.api.Get(ctx, c.base, id, q)
	if err != nil {
		return v, err
	}
	if err := resp.Decode(&v); err != nil {
		return v, fmt.Errorf("catalog: %s/%d: %w", c.base, id, err)
	}
	return v, nil
}

// Create posts body, JSON or a *gateway.Form.
func (c *Collection[T]) Create(ctx context.Context, body interface{}) (*gateway.Response, error) {
	return c.api.Create(ctx, c.base, body)
}

// Update patches record id.
func (c *Collection[T]) Update(ctx context.Context, id int64, body interface{}) (*gateway.Response, error) {
	return c.api.Update(ctx, c.base, id, body)
}

// Delete removes record id.
func (c *Collection[T]) Delete(ctx context.Context, id int64) error {
	if _, err := c.api.Delete(ctx, c.base, id); err != nil {
		c.log.Error().Err(err).Int64("id", id).Msg("delete failed")
		return err
	}
	return nil
}
