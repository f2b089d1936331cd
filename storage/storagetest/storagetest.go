// Package storagetest holds a conformance suite run against every
// storage.Storage backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sid6224/misp-mcp/storage"
)

// Run exercises s. Keys are prefixed so the suite can share a backend with
// other data.
func Run(t *testing.T, s storage.Storage) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, s) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, s) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, s) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, s) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, s) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, s) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, s) })
	t.Run("InvalidOptions", func(t *testing.T) { testInvalidOptions(t, s) })
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	data := []byte("test data")

	if err := s.Set(ctx, "st-key", data); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}
	// Mutating the caller's slice must not leak into storage.
	data[0] = 'X'

	item, err := s.Get(ctx, "st-key")
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}
	if string(item.Data) != "test data" {
		t.Errorf("Expected data %q, got %q", "test data", item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
	if item.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil for data without TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "st-missing")
	if err != nil {
		t.Fatalf("Failed to get non-existent key: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for non-existent key, got item")
	}
}

func testOverwrite(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for _, v := range []string{"one", "two"} {
		if err := s.Set(ctx, "st-over", []byte(v)); err != nil {
			t.Fatalf("Failed to set data: %v", err)
		}
	}
	item, err := s.Get(ctx, "st-over")
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil || string(item.Data) != "two" {
		t.Fatalf("Expected latest value, got %v", item)
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ttl := 100 * time.Millisecond

	if err := s.Set(ctx, "st-ttl", []byte("ttl data"), storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Failed to set data with TTL: %v", err)
	}

	item, err := s.Get(ctx, "st-ttl")
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should not be nil for data with TTL")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	item, err = s.Get(ctx, "st-ttl")
	if err != nil {
		t.Fatalf("Failed to get expired data: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for expired data, got item")
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "st-ns-key"

	if err := s.Set(ctx, key, []byte("global data")); err != nil {
		t.Fatalf("Failed to set global data: %v", err)
	}
	if err := s.Set(ctx, key, []byte("misp data"), storage.WithNamespace("misp")); err != nil {
		t.Fatalf("Failed to set namespaced data: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get global data: %v", err)
	}
	if item == nil || string(item.Data) != "global data" {
		t.Errorf("Expected global data, got %v", item)
	}

	item, err = s.Get(ctx, key, storage.WithNamespace("misp"))
	if err != nil {
		t.Fatalf("Failed to get namespaced data: %v", err)
	}
	if item == nil || string(item.Data) != "misp data" {
		t.Errorf("Expected namespaced data, got %v", item)
	}

	item, err = s.Get(ctx, key, storage.WithNamespace("other"))
	if err != nil {
		t.Fatalf("Failed to get data for other namespace: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for other namespace, got item")
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "st-delete"

	if err := s.Set(ctx, key, []byte("delete data")); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}
	if err := s.Delete(ctx, storage.WithKey(key)); err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}
	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data after deletion: %v", err)
	}
	if item != nil {
		t.Error("Expected nil after deletion, got item")
	}

	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, storage.WithKey("st-never-set"), storage.WithNamespace("st-empty")); err != nil {
		t.Fatalf("Delete of missing key failed: %v", err)
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ns := storage.WithNamespace("st-delete-ns")
	keys := []string{"key1", "key2", "key3"}

	for _, key := range keys {
		if err := s.Set(ctx, key, []byte("data for "+key), ns); err != nil {
			t.Fatalf("Failed to set data for key %s: %v", key, err)
		}
	}
	if err := s.Set(ctx, "key1", []byte("survivor"), storage.WithNamespace("st-keep")); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}

	if err := s.Delete(ctx, ns); err != nil {
		t.Fatalf("Failed to delete namespace: %v", err)
	}

	for _, key := range keys {
		item, err := s.Get(ctx, key, ns)
		if err != nil {
			t.Fatalf("Failed to get data for key %s after deletion: %v", key, err)
		}
		if item != nil {
			t.Errorf("Expected nil after namespace deletion for key %s, got item", key)
		}
	}

	item, err := s.Get(ctx, "key1", storage.WithNamespace("st-keep"))
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Error("Deleting one namespace removed data from another")
	}
}

func testInvalidOptions(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Delete(ctx); !errors.Is(err, storage.ErrInvalidOptions) {
		t.Errorf("Delete without key or namespace: expected ErrInvalidOptions, got %v", err)
	}
	if err := s.Set(ctx, "st-bad-ttl", []byte("x"), storage.WithTTL(-time.Second)); !errors.Is(err, storage.ErrInvalidOptions) {
		t.Errorf("Set with negative TTL: expected ErrInvalidOptions, got %v", err)
	}
}
