// Package cache is a TTL key/value cache on top of the durable store.
//
// Entries never expire on their own; Get treats an entry as absent once it
// is maxAge old and deletes it on the way out.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"propbot/internal/storage"
)

// Forever disables staleness for a Get.
const Forever = time.Duration(math.MaxInt64)

// DefaultMaxAge is used for identity lookups.
const DefaultMaxAge = 24 * time.Hour

// CorruptionError reports a stored value that no longer decodes.
type CorruptionError struct {
	Key string
	Err error
}

func (e *CorruptionError) Error() string { return fmt.Sprintf("cache: corrupt value for %q: %v", e.Key, e.Err) }
func (e *CorruptionError) Unwrap() error { return e.Err }

type Cache struct {
	store storage.Store
	now   func() time.Time
}

type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{store: store, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetRaw returns the raw JSON for key. An entry with now-timestamp >= maxAge
// is deleted and reported absent.
func (c *Cache) GetRaw(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool, error) {
	e, err := c.store.GetEntry(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if c.now().Sub(e.UpdatedAt) >= maxAge {
		if err := c.store.DeleteEntry(ctx, key); err != nil {
			return nil, false, fmt.Errorf("cache evict %s: %w", key, err)
		}
		return nil, false, nil
	}
	return e.Value, true, nil
}

// SetRaw overwrites key with value, stamped now.
func (c *Cache) SetRaw(ctx context.Context, key string, value []byte) error {
	if err := c.store.PutEntry(ctx, storage.Entry{Key: key, Value: value, UpdatedAt: c.now()}); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Get decodes the fresh value stored under key into T.
func Get[T any](ctx context.Context, c *Cache, key string, maxAge time.Duration) (T, bool, error) {
	var v T
	raw, ok, err := c.GetRaw(ctx, key, maxAge)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, &CorruptionError{Key: key, Err: err}
	}
	return v, true, nil
}

// Set JSON-encodes v and overwrites key.
func Set[T any](ctx context.Context, c *Cache, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.SetRaw(ctx, key, raw)
}

// GetOrLoad is the cache-aside helper: a fresh hit returns without calling
// load; a miss calls load, stores the result and returns it.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, maxAge time.Duration, load func(context.Context) (T, error)) (T, error) {
	if v, ok, err := Get[T](ctx, c, key, maxAge); err != nil || ok {
		return v, err
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := Set(ctx, c, key, v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
