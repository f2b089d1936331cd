// Package storage provides a namespaced key-value interface with optional
// per-item expiry. It backs the MISP response cache; implementations live in
// the memory, redis and bolt subpackages.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the primary interface for namespaced data storage.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns a nil Item if the key doesn't exist or has expired.
	// Returns an error only for legitimate storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the given namespace. Without WithKey the
	// entire namespace is removed; at least one of the two must be given.
	Delete(ctx context.Context, opts ...Option) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// Item represents a stored piece of data with metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired checks if the item has expired.
func (i *Item) IsExpired() bool {
	return i.ExpiresAt != nil && time.Now().After(*i.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Namespace string         // empty = global
	Key       *string        // Delete only
	TTL       *time.Duration // Set only
}

// WithNamespace scopes an operation to a namespace.
func WithNamespace(ns string) Option {
	return func(opts *Options) { opts.Namespace = ns }
}

// WithKey specifies a specific key for Delete operations.
func WithKey(key string) Option {
	return func(opts *Options) { opts.Key = &key }
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) { opts.TTL = &ttl }
}

var (
	// ErrInvalidOptions is returned when incompatible options are provided.
	ErrInvalidOptions = errors.New("storage: invalid option combination")
)

// GlobalNamespace is the namespace used when none is given.
const GlobalNamespace = "global"

// Apply folds opts into an Options value and rejects combinations that no
// backend accepts: a non-positive TTL, or a Delete with neither key nor
// namespace.
func Apply(forDelete bool, opts ...Option) (*Options, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.TTL != nil && *o.TTL <= 0 {
		return nil, ErrInvalidOptions
	}
	if forDelete && o.Key == nil && o.Namespace == "" {
		return nil, ErrInvalidOptions
	}
	return o, nil
}

// NamespaceName returns the effective namespace.
func (o *Options) NamespaceName() string {
	if o.Namespace == "" {
		return GlobalNamespace
	}
	return o.Namespace
}

// FullKey joins the effective namespace and key.
func (o *Options) FullKey(key string) string {
	return o.NamespaceName() + ":" + key
}

// NewItem builds an Item for data stored now under opts.
func NewItem(data []byte, o *Options) *Item {
	now := time.Now()
	item := &Item{Data: append([]byte(nil), data...), CreatedAt: now}
	if o.TTL != nil {
		exp := now.Add(*o.TTL)
		item.ExpiresAt = &exp
	}
	return item
}
