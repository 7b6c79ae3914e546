// Package cache fronts page-document reads with a size- and time-bounded LRU.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults applied when Config fields are zero.
const (
	DefaultCapacity = 1000
	DefaultTTL      = 300 * time.Second
)

// Config bounds the cache.
type Config struct {
	Capacity int
	TTL      time.Duration
}

type settings struct {
	observe func(hit bool)
}

// Option customises an LRU.
type Option func(*settings)

// WithObserver is called on every Get with whether it hit.
func WithObserver(fn func(hit bool)) Option {
	return func(s *settings) { s.observe = fn }
}

// LRU is a string-keyed cache whose entries expire TTL after insertion.
// Safe for concurrent use.
type LRU[V any] struct {
	lru     *expirable.LRU[string, V]
	observe func(hit bool)
}

// NewLRU creates an LRU from cfg.
func NewLRU[V any](cfg Config, opts ...Option) *LRU[V] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	s := settings{observe: func(bool) {}}
	for _, opt := range opts {
		opt(&s)
	}
	return &LRU[V]{
		lru:     expirable.NewLRU[string, V](cfg.Capacity, nil, cfg.TTL),
		observe: s.observe,
	}
}

// Get returns the live entry for key.
func (c *LRU[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	c.observe(ok)
	return v, ok
}

// Set stores value, evicting the least recently used entry when full.
func (c *LRU[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Len reports the number of live entries.
func (c *LRU[V]) Len() int {
	return c.lru.Len()
}

// Noop never stores anything.
type Noop[V any] struct{}

// Get always misses.
func (Noop[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

// Set discards value.
func (Noop[V]) Set(string, V) {}
