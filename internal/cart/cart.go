// Package cart keeps the favourites list and the shopping cart, both
// mirrored to prefs so they survive restarts.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/logging"
	"github.com/haraj-adan/chatsync/internal/prefs"
)

// Product is the part of a listing kept client-side.
type Product struct {
	ID    int64   `json:"id" validate:"gt=0"`
	Title string  `json:"title,omitempty"`
	Price float64 `json:"price,omitempty" validate:"gte=0"`
	Image string  `json:"image,omitempty"`
}

// Item is one cart line.
type Item struct {
	Product Product `json:"product"`
	Qty     int     `json:"qty" validate:"min=1"`
}

// Store holds favourites and cart lines.
type Store struct {
	prefs    prefs.Store
	validate *validator.Validate
	log      zerolog.Logger

	mu         sync.Mutex
	favourites []Product
	items      []Item
}

// New returns an empty Store backed by p. Call Load to restore saved state.
func New(p prefs.Store) *Store {
	return &Store{prefs: p, validate: validator.New(), log: logging.Component("cart")}
}

// Load restores both lists. Missing keys leave them empty.
func (s *Store) Load(ctx context.Context) error {
	var favs []Product
	if err := prefs.GetJSON(ctx, s.prefs, prefs.KeyFavourites, &favs); err != nil && !errors.Is(err, prefs.ErrNotFound) {
		return err
	}
	var items []Item
	if err := prefs.GetJSON(ctx, s.prefs, prefs.KeyCart, &items); err != nil && !errors.Is(err, prefs.ErrNotFound) {
		return err
	}
	s.mu.Lock()
	s.favourites, s.items = favs, items
	s.mu.Unlock()
	s.log.Debug().Int("favourites", len(favs)).Int("cart", len(items)).Msg("restored")
	return nil
}

// ---------------------------------------------------------------------------
// Favourites
// ---------------------------------------------------------------------------

// Favourites returns a copy of the favourites list.
func (s *Store) Favourites() []Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Product(nil), s.favourites...)
}

// IsFavourite reports whether productID is a favourite.
func (s *Store) IsFavourite(productID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexProduct(s.favourites, productID) >= 0
}

// ToggleFavourite adds p, or removes it when already present, and reports
// whether it is a favourite afterwards.
func (s *Store) ToggleFavourite(ctx context.Context, p Product) (bool, error) {
	if err := s.validate.Struct(p); err != nil {
		return false, fmt.Errorf("cart: invalid product: %w", err)
	}
	s.mu.Lock()
	added := false
	if i := indexProduct(s.favourites, p.ID); i >= 0 {
		s.favourites = append(s.favourites[:i], s.favourites[i+1:]...)
	} else {
		s.favourites = append(s.favourites, p)
		added = true
	}
	snapshot := append([]Product(nil), s.favourites...)
	s.mu.Unlock()

	return added, s.save(ctx, prefs.KeyFavourites, snapshot)
}

// ---------------------------------------------------------------------------
// Cart
// ---------------------------------------------------------------------------

// Items returns a copy of the cart lines.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

// Add puts p in the cart with quantity 1, or increments its quantity.
func (s *Store) Add(ctx context.Context, p Product) error {
	if err := s.validate.Struct(p); err != nil {
		return fmt.Errorf("cart: invalid product: %w", err)
	}
	return s.mutate(ctx, func(items []Item) []Item {
		if i := indexItem(items, p.ID); i >= 0 {
			items[i].Qty++
			return items
		}
		return append(items, Item{Product: p, Qty: 1})
	})
}

// UpdateQty sets the quantity of p, adding the line when missing.
func (s *Store) UpdateQty(ctx context.Context, p Product, qty int) error {
	line := Item{Product: p, Qty: qty}
	if err := s.validate.Struct(line); err != nil {
		return fmt.Errorf("cart: invalid line: %w", err)
	}
	return s.mutate(ctx, func(items []Item) []Item {
		if i := indexItem(items, p.ID); i >= 0 {
			items[i].Qty = qty
			return items
		}
		return append(items, line)
	})
}

// Remove drops the line of productID.
func (s *Store) Remove(ctx context.Context, productID int64) error {
	return s.mutate(ctx, func(items []Item) []Item {
		if i := indexItem(items, productID); i >= 0 {
			return append(items[:i], items[i+1:]...)
		}
		return items
	})
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, func([]Item) []Item { return nil })
}

// Totals returns the number of units and their summed price.
func (s *Store) Totals() (units int, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		units += it.Qty
		amount += float64(it.Qty) * it.Product.Price
	}
	return units, amount
}

func (s *Store) mutate(ctx context.Context, fn func([]Item) []Item) error {
	s.mu.Lock()
	s.items = fn(s.items)
	snapshot := append([]Item{}, s.items...)
	s.mu.Unlock()
	return s.save(ctx, prefs.KeyCart, snapshot)
}

// save mirrors v to prefs. The in-memory change stands even when it fails.
func (s *Store) save(ctx context.Context, key string, v interface{}) error {
	if err := prefs.SetJSON(ctx, s.prefs, key, v); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to persist")
		return err
	}
	return nil
}

func indexProduct(ps []Product, id int64) int {
	for i, p := range ps {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func indexItem(items []Item, id int64) int {
	for i, it := range items {
		if it.Product.ID == id {
			return i
		}
	}
	return -1
}
