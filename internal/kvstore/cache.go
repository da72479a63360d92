package kvstore

import (
	"fmt"
	"sync"

	"cargohold/internal/cargoerr"
)

// entry is one cached, reference-counted store.
type entry struct {
	store    *Store
	refs     int
	evicting bool
}

// Cache is a reference-counted table of open embedded stores keyed by
// container id.
// Acquire increments a container's reference count, opening the store on
// first acquisition; Release decrements it, closing the store once the
// count reaches zero. Evict forces a container's entry closed immediately
// and refuses new acquisitions until the caller is done exporting.
//
// Grounded on the same cached-connection-with-invalidate shape as a
// connection pool: one mutex-guarded map, lazy-open-or-reuse on Acquire,
// explicit teardown on the losing path.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]*entry
}

// NewCache returns an empty store cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[uint64]*entry)}
}

// Acquire returns a reference-counted handle to containerID's embedded
// store at dbPath, opening it if this is the first outstanding reference.
func (c *Cache) Acquire(containerID uint64, dbPath string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[containerID]
	if ok {
		if e.evicting {
			return nil, fmt.Errorf("%w: container %d is being exported", cargoerr.ErrInvalidState, containerID)
		}
		e.refs++
		return &Handle{cache: c, containerID: containerID, store: e.store}, nil
	}

	store, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	c.entries[containerID] = &entry{store: store, refs: 1}
	return &Handle{cache: c, containerID: containerID, store: store}, nil
}

// release decrements containerID's reference count, closing and removing
// the entry once no references remain.
func (c *Cache) release(containerID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[containerID]
	if !ok || e.store == nil {
		// Already evicted out from under this handle; nothing to do.
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(c.entries, containerID)
	return e.store.Close()
}

// Evict forcibly closes containerID's store regardless of outstanding
// reference count and marks the entry as exporting, so Acquire refuses new
// handles until EndExport is called. Export relies on this to guarantee
// zero outstanding handles while it packs the db file.
func (c *Cache) Evict(containerID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[containerID]
	if !ok {
		c.entries[containerID] = &entry{evicting: true}
		return
	}
	_ = e.store.Close()
	e.store = nil
	e.refs = 0
	e.evicting = true
}

// EndExport clears the exporting marker set by Evict, allowing the next
// Acquire to open a fresh store for containerID.
func (c *Cache) EndExport(containerID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, containerID)
}

// Handle is one reference-counted acquisition of a container's embedded
// store. Release must be called exactly once, on every exit path.
type Handle struct {
	cache       *Cache
	containerID uint64
	store       *Store
}

func (h *Handle) Flush() error                   { return h.store.Flush() }
func (h *Handle) Sync() error                    { return h.store.Sync() }
func (h *Handle) Compact() error                 { return h.store.Compact() }
func (h *Handle) Put(key, value []byte) error    { return h.store.Put(key, value) }
func (h *Handle) Get(key []byte) ([]byte, error) { return h.store.Get(key) }
func (h *Handle) Delete(key []byte) error        { return h.store.Delete(key) }
func (h *Handle) Count() (uint64, error)         { return h.store.Count() }

// Release decrements this handle's reference in the owning cache.
func (h *Handle) Release() error {
	return h.cache.release(h.containerID)
}
