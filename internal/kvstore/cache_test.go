package kvstore

import (
	"errors"
	"path/filepath"
	"testing"

	"cargohold/internal/cargoerr"
)

func TestCacheAcquireSharesHandleAndReleases(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "1-dn-container.db")
	c := NewCache()

	h1, err := c.Acquire(1, dbPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h2, err := c.Acquire(1, dbPath)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if h1.store != h2.store {
		t.Fatal("expected both handles to share the same underlying store")
	}

	if err := h1.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := h2.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("Get via second handle = %q, %v, want v, nil", got, err)
	}

	if err := h1.Release(); err != nil {
		t.Fatalf("Release h1: %v", err)
	}
	// Store should still be usable via h2 since refcount hasn't hit zero.
	if _, err := h2.Get([]byte("k")); err != nil {
		t.Fatalf("Get after first release: %v", err)
	}
	if err := h2.Release(); err != nil {
		t.Fatalf("Release h2: %v", err)
	}

	if len(c.entries) != 0 {
		t.Errorf("expected cache entry to be removed after last release, got %d entries", len(c.entries))
	}
}

func TestCacheEvictRefusesAcquireDuringExport(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "2-dn-container.db")
	c := NewCache()

	h, err := c.Acquire(2, dbPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	c.Evict(2)

	if _, err := c.Acquire(2, dbPath); err == nil {
		t.Fatal("expected Acquire to fail while the container carries the evicting marker")
	}

	// Release on the evicted handle must not panic: Evict already closed
	// the store, and the entry left behind is only the evicting marker.
	_ = h.Release()
}

func TestCacheReacquireAfterEvictOpensFreshEntry(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "3-dn-container.db")
	c := NewCache()

	h, err := c.Acquire(3, dbPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	c.Evict(3)
	c.EndExport(3)

	h2, err := c.Acquire(3, dbPath)
	if err != nil {
		t.Fatalf("reacquire after evict: %v", err)
	}
	defer h2.Release()

	got, err := h2.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("data not durable across evict/reacquire: got %q, %v", got, err)
	}
}

func TestCacheCompactPreservesData(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "4-dn-container.db")
	c := NewCache()

	h, err := c.Acquire(4, dbPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := h.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	got, err := h.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("Get after compact = %q, %v, want v, nil", got, err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestAcquireDuringExportReturnsInvalidState(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "5-dn-container.db")
	c := NewCache()

	if _, err := c.Acquire(5, dbPath); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	c.entries[5].evicting = true

	_, err := c.Acquire(5, dbPath)
	if !errors.Is(err, cargoerr.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}
