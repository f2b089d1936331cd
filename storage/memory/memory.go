// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for bounded caching with TTL support.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sid6224/misp-mcp/storage"
)

// DefaultCleanupInterval is how often expired items are swept.
const DefaultCleanupInterval = 5 * time.Minute

// Storage implements the storage.Storage interface using in-memory storage.
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.Item]

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a memory Storage.
type Option func(*config)

type config struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval overrides how often expired items are swept. A
// non-positive interval disables the sweeper; expired items are then only
// dropped when read.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.cleanupInterval = d }
}

// New creates a new in-memory storage holding at most maxItems entries.
// The least recently used entry is evicted when the cache is full.
func New(maxItems int, opts ...Option) (*Storage, error) {
	cfg := config{cleanupInterval: DefaultCleanupInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{cache: cache, stop: make(chan struct{})}
	if cfg.cleanupInterval > 0 {
		go s.cleanupExpired(cfg.cleanupInterval)
	}
	return s, nil
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	o, err := storage.Apply(false, opts...)
	if err != nil {
		return nil, err
	}
	k := o.FullKey(key)

	s.mu.RLock()
	item, ok := s.cache.Get(k)
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(k)
		s.mu.Unlock()
		return nil, nil
	}
	return item, nil
}

// Set stores data for a specific key within the given namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o, err := storage.Apply(false, opts...)
	if err != nil {
		return err
	}
	item := storage.NewItem(data, o)

	s.mu.Lock()
	s.cache.Add(o.FullKey(key), item)
	s.mu.Unlock()
	return nil
}

// Delete removes one key or a whole namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o, err := storage.Apply(true, opts...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if o.Key != nil {
		s.cache.Remove(o.FullKey(*o.Key))
		return nil
	}
	prefix := o.NamespaceName() + ":"
	// LRU has no prefix iteration.
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet swept.
func (s *Storage) Len() int {
	return s.cache.Len()
}

// Close stops the sweeper and drops all entries.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func (s *Storage) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Storage) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, k := range s.cache.Keys() {
		if item, ok := s.cache.Peek(k); ok && item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
			s.cache.Remove(k)
		}
	}
}

var _ storage.Storage = (*Storage)(nil)
