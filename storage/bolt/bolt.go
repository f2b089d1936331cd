// Package bolt provides a persistent storage.Storage backed by a bbolt file.
// Each namespace is a bucket; values are JSON documents carrying the
// payload and its expiry.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sid6224/misp-mcp/storage"
)

// Storage implements storage.Storage on a single bbolt database file.
type Storage struct {
	db *bolt.DB
}

type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Open opens or creates the database at path. Opening fails after one
// second if another process holds the file lock.
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}
	return &Storage{db: db}, nil
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	o, err := storage.Apply(false, opts...)
	if err != nil {
		return nil, err
	}
	bucket := []byte(o.NamespaceName())

	var raw []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			// v is only valid for the life of the transaction.
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", o.FullKey(key), err)
	}
	if raw == nil {
		return nil, nil
	}

	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	out := &storage.Item{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}
	if out.IsExpired() {
		_ = s.db.Update(func(tx *bolt.Tx) error {
			if b := tx.Bucket(bucket); b != nil {
				return b.Delete([]byte(key))
			}
			return nil
		})
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
	item := storage.NewItem(data, o)
	b, err := json.Marshal(storedItem{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(o.NamespaceName()))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", o.NamespaceName(), err)
		}
		return bucket.Put([]byte(key), b)
	})
}

// Delete removes one key or a whole namespace bucket.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o, err := storage.Apply(true, opts...)
	if err != nil {
		return err
	}
	name := []byte(o.NamespaceName())

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(name)
		if b == nil {
			return nil
		}
		if o.Key != nil {
			return b.Delete([]byte(*o.Key))
		}
		return tx.DeleteBucket(name)
	})
}

// Purge removes every expired entry in all namespaces and reports how many
// were dropped.
func (s *Storage) Purge(ctx context.Context) (int, error) {
	now := time.Now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			var stale [][]byte
			err := b.ForEach(func(k, v []byte) error {
				var item storedItem
				if err := json.Unmarshal(v, &item); err != nil {
					return nil
				}
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					stale = append(stale, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
				removed++
			}
			return nil
		})
	})
	return removed, err
}

// Close closes the database file.
func (s *Storage) Close() error {
	return s.db.Close()
}

var _ storage.Storage = (*Storage)(nil)
