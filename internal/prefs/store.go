// Package prefs persists small pieces of client state between runs: the
// bearer credential, locale, cached geolocation and the favourites/cart
// mirrors.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("prefs: not found")

// Keys of persisted values.
const (
	KeyToken      = "token"
	KeyLocale     = "haraj_lang"
	KeyLatitude   = "latitude"
	KeyLongitude  = "longitude"
	KeyFavourites = "favouredProducts"
	KeyCart       = "cartProducts"
)

// Store is a string key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver    string // badger, redis or memory
	Path      string // badger directory
	RedisAddr string
	Namespace string // key prefix
}

// Open returns the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "badger", "":
		s, err = OpenBadger(cfg.Path, cfg.Namespace)
	case "memory":
		s, err = OpenBadger("", cfg.Namespace)
	case "redis":
		s, err = NewRedisStore(ctx, cfg.RedisAddr, cfg.Namespace)
	default:
		return nil, fmt.Errorf("prefs: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetJSON decodes the value at key into v. A missing key leaves v untouched
// and returns ErrNotFound.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("prefs: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v encoded as JSON.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("prefs: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}

// Locale returns the stored locale or def.
func Locale(ctx context.Context, s Store, def string) string {
	v, err := s.Get(ctx, KeyLocale)
	if err != nil || v == "" {
		return def
	}
	return v
}

// SetLocale stores the locale preference.
func SetLocale(ctx context.Context, s Store, locale string) error {
	return s.Set(ctx, KeyLocale, locale)
}

// Location is a cached pair of coordinates.
type Location struct {
	Latitude  float64
	Longitude float64
}

// LoadLocation returns the cached coordinates; ok is false when none are
// stored.
func LoadLocation(ctx context.Context, s Store) (loc Location, ok bool, err error) {
	lat, err := s.Get(ctx, KeyLatitude)
	if errors.Is(err, ErrNotFound) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, err
	}
	lng, err := s.Get(ctx, KeyLongitude)
	if errors.Is(err, ErrNotFound) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, err
	}
	if loc.Latitude, err = strconv.ParseFloat(lat, 64); err != nil {
		return Location{}, false, fmt.Errorf("prefs: latitude: %w", err)
	}
	if loc.Longitude, err = strconv.ParseFloat(lng, 64); err != nil {
		return Location{}, false, fmt.Errorf("prefs: longitude: %w", err)
	}
	return loc, true, nil
}

// SaveLocation caches coordinates.
func SaveLocation(ctx context.Context, s Store, loc Location) error {
	if err := s.Set(ctx, KeyLatitude, strconv.FormatFloat(loc.Latitude, 'f', -1, 64)); err != nil {
		return err
	}
	return s.Set(ctx, KeyLongitude, strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
}
