// Package cache keeps shared handles in a bounded, cost-based cache.
//
// Each entry owns one strong reference to its object. Whenever the cache lets
// go of an entry (eviction, rejection by the admission policy, deletion,
// overwrite or Close) that reference is released; clones handed out by Get
// keep the object alive on their own.
package cache

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/pavanmanishd/refptr"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"
)

var (
	// ErrRejected is returned when the cache drops a value instead of storing it.
	ErrRejected = errors.New("cache: value rejected")
	// ErrEmptyHandle is returned when an empty handle is offered to Set.
	ErrEmptyHandle = errors.New("cache: empty handle")
)

// Config sizes the underlying ristretto cache.
type Config struct {
	NumCounters int64           // keys tracked by the admission policy, ~10x the expected item count
	MaxCost     int64           // total cost the cache may hold
	BufferItems int64           // Get buffer size, 64 is a good default
	Logger      *zerolog.Logger // receives admission drops; nil disables logging
}

// DefaultConfig suits a few hundred entries of unit cost.
func DefaultConfig() Config {
	return Config{NumCounters: 10_000, MaxCost: 1_000, BufferItems: 64}
}

type entry[T any] struct {
	slot *refptr.AtomicSharedPtr[T]
}

// Cache maps string keys to shared handles of T. It is safe for concurrent use.
type Cache[T any] struct {
	store  *ristretto.Cache
	opts   []refptr.Option
	logger zerolog.Logger
}

// New builds a cache. opts apply to handles constructed by GetOrLoad.
func New[T any](cfg Config, opts ...refptr.Option) (*Cache[T], error) {
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		IgnoreInternalCost: true,
		KeyToHash:          hashKey,
		OnExit:             releaseEntry[T],
	})
	if err != nil {
		return nil, fmt.Errorf("cache: new store: %w", err)
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Cache[T]{store: store, opts: opts, logger: logger}, nil
}

func hashKey(key interface{}) (uint64, uint64) {
	switch k := key.(type) {
	case string:
		h := xxh3.HashString128(k)
		return h.Lo, h.Hi
	case []byte:
		h := xxh3.Hash128(k)
		return h.Lo, h.Hi
	case uint64:
		return k, 0
	default:
		panic(fmt.Sprintf("cache: unsupported key type %T", key))
	}
}

func releaseEntry[T any](val interface{}) {
	if e, ok := val.(*entry[T]); ok && e != nil {
		e.slot.Release()
	}
}

// Set stores a clone of sp under key. Admission is asynchronous: a nil error
// means the value was accepted into the write buffer, call Wait to make it
// visible to Get. The policy may still reject it later, in which case the
// clone is released.
func (c *Cache[T]) Set(key string, sp *refptr.SharedPtr[T], cost int64) error {
	if !sp.Valid() {
		return ErrEmptyHandle
	}
	e := &entry[T]{slot: refptr.NewAtomicShared(sp)}
	if !c.store.Set(key, e, cost) {
		e.slot.Release()
		return ErrRejected
	}
	return nil
}

// Get returns a new owned handle for key. The caller must release it.
func (c *Cache[T]) Get(key string) (*refptr.SharedPtr[T], bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(*entry[T])
	if !ok {
		return nil, false
	}
	sp := e.slot.Load()
	if !sp.Valid() {
		// released by a concurrent eviction
		return nil, false
	}
	return sp, true
}

// GetOrLoad returns the cached handle for key, or constructs one with load,
// caches it and returns it. Concurrent misses on the same key may each run
// load; the last stored value wins.
func (c *Cache[T]) GetOrLoad(key string, cost int64, load func() (T, error)) (*refptr.SharedPtr[T], error) {
	if sp, ok := c.Get(key); ok {
		return sp, nil
	}
	sp, err := refptr.MakeSharedFunc(load, c.opts...)
	if err != nil {
		return nil, fmt.Errorf("cache: load %q: %w", key, err)
	}
	// a rejected value is still handed to the caller
	if err := c.Set(key, sp, cost); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Int64("cost", cost).Msg("[cache] loaded value not cached")
	}
	return sp, nil
}

// Weak returns a non-owning handle for key.
func (c *Cache[T]) Weak(key string) (*refptr.WeakPtr[T], bool) {
	sp, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	defer sp.Release()
	return refptr.NewWeak(sp), true
}

// Del removes key and releases the cache's reference to its object.
func (c *Cache[T]) Del(key string) {
	c.store.Del(key)
}

// Wait blocks until buffered writes have been applied.
func (c *Cache[T]) Wait() {
	c.store.Wait()
}

// Clear releases every entry.
func (c *Cache[T]) Clear() {
	c.store.Clear()
}

// Close releases every entry and stops the cache. Later Sets are rejected.
func (c *Cache[T]) Close() {
	c.store.Clear()
	c.store.Close()
}
