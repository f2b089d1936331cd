// Package redis provides a Redis-based implementation of the storage.Storage
// interface with TTL support delegated to Redis key expiry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sid6224/misp-mcp/storage"
)

// DefaultKeyPrefix is prepended to every key when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "misp-mcp:cache:"

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	KeyPrefix string
}

// Storage implements the storage.Storage interface using Redis.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem is the JSON document stored under each key.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	return &Storage{client: config.Client, keyPrefix: config.KeyPrefix}, nil
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	o, err := storage.Apply(false, opts...)
	if err != nil {
		return nil, err
	}
	redisKey := s.keyPrefix + o.FullKey(key)

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	out := &storage.Item{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}
	if out.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return out, nil
}

// Set stores data for a specific key within the given namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o, err := storage.Apply(false, opts...)
	if err != nil {
		return err
	}
	redisKey := s.keyPrefix + o.FullKey(key)
	item := storage.NewItem(data, o)

	b, err := json.Marshal(storedItem{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	var ttl time.Duration
	if o.TTL != nil {
		ttl = *o.TTL
	}
	if err := s.client.Set(ctx, redisKey, b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

// Delete removes one key or a whole namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o, err := storage.Apply(true, opts...)
	if err != nil {
		return err
	}

	if o.Key != nil {
		redisKey := s.keyPrefix + o.FullKey(*o.Key)
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
		}
		return nil
	}

	pattern := s.keyPrefix + o.FullKey("*")
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

var _ storage.Storage = (*Storage)(nil)
