package container

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cargohold/internal/cargoerr"
	"cargohold/internal/logging"
)

// StoreHandle is the subset of the embedded key/value store a container
// needs to drive its own lifecycle: flush+sync before close/quasi-close,
// compact before export. The concrete type is produced by
// internal/kvstore; this package only depends on the method set so it
// never imports kvstore directly (kvstore depends on nothing in this
// package either — the wiring happens one layer up, in the volume that
// owns both).
//
// Release must be called exactly once per successful Acquire, on every
// exit path; it decrements the cache's reference count and only closes
// the underlying store once the last handle is released.
type StoreHandle interface {
	Flush() error
	Sync() error
	Compact() error
	// Count reports the number of keys currently in the store, used to
	// rebuild KeyCount after Import rather than trusting the value
	// embedded in an incoming descriptor.
	Count() (uint64, error)
	Release() error
}

// StoreCache acquires and releases reference-counted StoreHandles keyed
// by container id.
type StoreCache interface {
	Acquire(containerID uint64, dbPath string) (StoreHandle, error)
	// Evict forces the cache to drop a container's handle regardless of
	// outstanding references, used by Export to guarantee no concurrent
	// mutator holds the store while it is being packed.
	Evict(containerID uint64)
	// EndExport clears the exporting marker Evict set, allowing the next
	// Acquire to open a fresh store once an export has finished streaming.
	EndExport(containerID uint64)
}

// Config supplies a Container with its external collaborators. A nil
// Store leaves the container without an embedded store, which some tests
// and read-only tooling rely on.
type Config struct {
	Logger *slog.Logger
	Store  StoreCache
}

// Container is one container's on-disk lifecycle, guarded by a read/write
// lock with interruptible acquisition and write-to-read downgrade. Its
// zero value is not usable; build one with Create or Load.
type Container struct {
	mu *rwLock

	paths      Paths
	descriptor *Descriptor
	store      StoreCache
	log        *slog.Logger
}

// Create creates a brand-new OPEN container at paths, writing its initial
// descriptor. Fails AlreadyExists if a descriptor is already present.
func Create(paths Paths, containerID uint64, maxSize uint64, originNodeID, originPipelineID string, cfg Config) (*Container, error) {
	log := logging.Default(cfg.Logger).With("component", "container", "containerID", containerID)

	if _, err := os.Stat(paths.DescriptorFile); err == nil {
		return nil, fmt.Errorf("%w: %s", cargoerr.ErrAlreadyExists, paths.DescriptorFile)
	}

	if err := os.MkdirAll(paths.MetadataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create metadata dir: %v", cargoerr.ErrInternal, err)
	}
	if err := os.MkdirAll(paths.ChunksDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create chunks dir: %v", cargoerr.ErrInternal, err)
	}

	d := &Descriptor{
		ContainerID:      containerID,
		ContainerType:    KeyValueContainer,
		State:            StateOpen,
		SchemaVersion:    SchemaV3,
		MaxSize:          maxSize,
		OriginNodeID:     originNodeID,
		OriginPipelineID: originPipelineID,
		Metadata:         map[string]string{},
	}
	if err := writeDescriptor(paths.DescriptorFile, d); err != nil {
		return nil, err
	}

	log.Info("container created", "maxSize", maxSize)
	return &Container{mu: newRWLock(), paths: paths, descriptor: d, store: cfg.Store, log: log}, nil
}

// Load opens an existing container from its descriptor file. A
// checksum-mismatched descriptor is still returned, but its in-memory
// state is forced to UNHEALTHY rather than failing the load.
func Load(paths Paths, cfg Config) (*Container, error) {
	log := logging.Default(cfg.Logger).With("component", "container")

	res, err := loadDescriptor(paths.DescriptorFile)
	if err != nil {
		return nil, err
	}
	d := res.Descriptor
	if res.Unhealthy {
		log.Warn("descriptor checksum mismatch, marking UNHEALTHY", "containerID", d.ContainerID)
		d.State = StateUnhealthy
	}
	return &Container{mu: newRWLock(), paths: paths, descriptor: d, store: cfg.Store, log: log.With("containerID", d.ContainerID)}, nil
}

// Paths returns the container's on-disk paths.
func (c *Container) Paths() Paths { return c.paths }

// Descriptor returns a deep copy of the container's current descriptor, so
// callers can inspect state without racing the write path.
func (c *Container) Descriptor() *Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.descriptor.Clone()
}

// State returns the container's current lifecycle state.
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.descriptor.State
}

// HasReadLock is advisory only: no portable lock primitive can answer
// "does the calling goroutine hold the read lock", so this probes with
// TryLock (the exclusive acquisition) instead. If TryLock succeeds,
// nothing holds any lock, so it is immediately released and HasReadLock
// reports false; if TryLock fails, SOME lock is held by someone, which
// this reports as true even though it may be a write lock or a read lock
// held by a different goroutine entirely. Do not use this for correctness
// decisions.
func (c *Container) HasReadLock() bool {
	if c.mu.TryLock() {
		c.mu.Unlock()
		return false
	}
	return true
}

// mutate runs fn against a clone of the container's descriptor under the
// write lock: apply fn's mutation in memory, rewrite the descriptor
// atomically, and on failure roll back the in-memory state unless the
// resulting state is UNHEALTHY (which is sticky).
func (c *Container) mutate(fn func(d *Descriptor) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.descriptor
	working := c.descriptor.Clone()

	if err := fn(working); err != nil {
		return err
	}

	c.descriptor = working
	if err := writeDescriptor(c.paths.DescriptorFile, c.descriptor); err != nil {
		if working.State != StateUnhealthy {
			c.descriptor = old
		}
		return err
	}
	return nil
}

// MarkForClose transitions OPEN → CLOSING, the only state it is legal
// from.
func (c *Container) MarkForClose() error {
	return c.mutate(func(d *Descriptor) error {
		if d.State != StateOpen {
			return fmt.Errorf("%w: markContainerForClose requires OPEN, was %s", cargoerr.ErrNotOpen, d.State)
		}
		d.State = StateClosing
		return nil
	})
}

// flushAndSyncOnce is half of the double flush+fsync discipline around
// close/quasi-close: once before the write lock (expensive, may block),
// then once more while the caller already holds the write lock (cheap,
// covers writes interleaved between the two fsyncs). The first call
// happens before mutate() takes the lock; the second happens inside the
// mutate callback.
func (c *Container) flushAndSyncOnce() error {
	if c.store == nil {
		return nil
	}
	h, err := c.store.Acquire(c.descriptor.ContainerID, c.paths.DbFile)
	if err != nil {
		return fmt.Errorf("%w: %v", cargoerr.ErrDbSyncError, err)
	}
	defer h.Release()

	if err := h.Flush(); err != nil {
		return fmt.Errorf("%w: %v", cargoerr.ErrDbSyncError, err)
	}
	if err := h.Sync(); err != nil {
		return fmt.Errorf("%w: %v", cargoerr.ErrDbSyncError, err)
	}
	return nil
}

// Close transitions CLOSING → CLOSED.
func (c *Container) Close() error {
	if err := c.flushAndSyncOnce(); err != nil {
		return err
	}
	return c.mutate(func(d *Descriptor) error {
		if d.State != StateClosing {
			return fmt.Errorf("%w: close requires CLOSING, was %s", cargoerr.ErrInvalidState, d.State)
		}
		if err := c.flushAndSyncOnce(); err != nil {
			return err
		}
		d.State = StateClosed
		return nil
	})
}

// QuasiClose transitions CLOSING → QUASI_CLOSED, taken when a
// quorum-certified close is not achievable. The container remains
// serveable for read but is not authoritative.
func (c *Container) QuasiClose() error {
	if err := c.flushAndSyncOnce(); err != nil {
		return err
	}
	return c.mutate(func(d *Descriptor) error {
		if d.State != StateClosing {
			return fmt.Errorf("%w: quasiClose requires CLOSING, was %s", cargoerr.ErrInvalidState, d.State)
		}
		if err := c.flushAndSyncOnce(); err != nil {
			return err
		}
		d.State = StateQuasiClosed
		return nil
	})
}

// MarkUnhealthy unconditionally transitions any non-terminal state to
// UNHEALTHY.
func (c *Container) MarkUnhealthy(reason error) error {
	return c.mutate(func(d *Descriptor) error {
		if terminal(d.State) {
			return fmt.Errorf("%w: cannot mark DELETED container unhealthy", cargoerr.ErrInvalidState)
		}
		c.log.Warn("marking container unhealthy", "reason", reason)
		d.State = StateUnhealthy
		return nil
	})
}

// Delete transitions {CLOSED,QUASI_CLOSED,UNHEALTHY} → DELETED and removes
// the container's on-disk footprint.
func (c *Container) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !canDelete(c.descriptor.State) {
		return fmt.Errorf("%w: delete requires CLOSED, QUASI_CLOSED, or UNHEALTHY, was %s", cargoerr.ErrInvalidState, c.descriptor.State)
	}
	if c.store != nil {
		c.store.Evict(c.descriptor.ContainerID)
	}
	if err := os.RemoveAll(c.paths.Root); err != nil {
		return fmt.Errorf("%w: delete container tree: %v", cargoerr.ErrInternal, err)
	}
	c.descriptor.State = StateDeleted
	return nil
}

// Update merges newMetadata into the container's metadata map,
// last-write-wins per key. Permitted in OPEN unconditionally; in any
// other state only when force is true, otherwise UnsupportedRequest. The
// prior metadata map is restored on a descriptor write failure (mutate
// already guarantees this by cloning before mutating).
func (c *Container) Update(newMetadata map[string]string, force bool) error {
	return c.mutate(func(d *Descriptor) error {
		if d.State != StateOpen && !force {
			return fmt.Errorf("%w: metadata update requires OPEN or force=true, was %s", cargoerr.ErrUnsupportedRequest, d.State)
		}
		for k, v := range newMetadata {
			d.Metadata[k] = v
		}
		return nil
	})
}

// AdvanceBlockCommitSequenceID sets the block-commit sequence id to seq.
// The sequence never decreases across successful mutations; a smaller seq
// is rejected.
func (c *Container) AdvanceBlockCommitSequenceID(seq uint64) error {
	return c.mutate(func(d *Descriptor) error {
		if seq < d.BlockCommitSequenceID {
			return fmt.Errorf("%w: blockCommitSequenceID must not decrease (have %d, got %d)", cargoerr.ErrInternal, d.BlockCommitSequenceID, seq)
		}
		d.BlockCommitSequenceID = seq
		return nil
	})
}

// ExportPrepare performs the state check and store-quiescing half of
// export: under the write lock it verifies the container is CLOSED or
// QUASI_CLOSED, compacts and
// evicts the embedded store handle so the packer never reads a mutating
// database, then downgrades the write lock to a read lock. On success the
// container's READ lock is held when this returns; the caller streams the
// archive under it and must call ExportFinish afterward. On failure no
// lock is held.
func (c *Container) ExportPrepare() error {
	c.mu.Lock()

	if !canExport(c.descriptor.State) {
		err := fmt.Errorf("%w: export requires CLOSED or QUASI_CLOSED, was %s", cargoerr.ErrInvalidState, c.descriptor.State)
		c.mu.Unlock()
		return err
	}
	if c.store != nil {
		if err := c.quiesceStoreLocked(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Downgrade()
	return nil
}

// quiesceStoreLocked compacts the embedded store and evicts its cache
// entry so no handle is outstanding while the packer reads the db file.
// Caller holds the write lock.
func (c *Container) quiesceStoreLocked() error {
	h, err := c.store.Acquire(c.descriptor.ContainerID, c.paths.DbFile)
	if err != nil {
		return fmt.Errorf("%w: %v", cargoerr.ErrDbCompactError, err)
	}
	if err := h.Compact(); err != nil {
		h.Release()
		return fmt.Errorf("%w: %v", cargoerr.ErrDbCompactError, err)
	}
	if err := h.Release(); err != nil {
		return fmt.Errorf("%w: %v", cargoerr.ErrDbSyncError, err)
	}
	// Evict forces the cache entry closed and refuses further Acquire
	// calls for this container until ExportFinish, guaranteeing zero
	// outstanding handles before the packer reads the db file.
	c.store.Evict(c.descriptor.ContainerID)
	return nil
}

// ExportFinish releases the read lock ExportPrepare left held and clears
// the store cache's exporting marker, allowing new store acquisitions once
// the archive has been fully streamed.
func (c *Container) ExportFinish() {
	containerID := c.descriptor.ContainerID
	store := c.store
	c.mu.RUnlock()
	if store != nil {
		store.EndExport(containerID)
	}
}

// RebuildKeyCount overwrites the descriptor's KeyCount by scanning the
// embedded store directly, rather than trusting the value carried by an
// imported descriptor.
func (c *Container) RebuildKeyCount() error {
	c.mu.RLock()
	containerID := c.descriptor.ContainerID
	dbFile := c.paths.DbFile
	store := c.store
	c.mu.RUnlock()
	if store == nil {
		return nil
	}

	h, err := store.Acquire(containerID, dbFile)
	if err != nil {
		return fmt.Errorf("%w: %v", cargoerr.ErrDbSyncError, err)
	}
	defer h.Release()
	n, err := h.Count()
	if err != nil {
		return fmt.Errorf("%w: %v", cargoerr.ErrDbSyncError, err)
	}

	return c.mutate(func(d *Descriptor) error {
		d.KeyCount = n
		return nil
	})
}

// RLock/RUnlock/Lock/Unlock expose the container's lock to callers that
// need to hold it across a sequence of operations, like export's
// write-then-downgrade-to-read pattern.
func (c *Container) RLock()   { c.mu.RLock() }
func (c *Container) RUnlock() { c.mu.RUnlock() }
func (c *Container) Lock()    { c.mu.Lock() }
func (c *Container) Unlock()  { c.mu.Unlock() }

// LockInterruptible and RLockInterruptible are the interruptible lock
// acquisition variants: a cancellation during lock wait aborts with ctx's
// error and no side effects.
func (c *Container) LockInterruptible(ctx context.Context) error  { return c.mu.LockContext(ctx) }
func (c *Container) RLockInterruptible(ctx context.Context) error { return c.mu.RLockContext(ctx) }

// ImportDescriptor overlays attrs (decoded from an imported archive's
// embedded descriptor bytes) onto a freshly created container that has no
// descriptor of its own yet, re-stamps a fresh checksum, and writes it
// locally. containerID and the local paths are kept from the receiving
// container; everything else is taken from attrs.
func (c *Container) ImportDescriptor(attrs *Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := attrs.Clone()
	merged.ContainerID = c.descriptor.ContainerID
	c.descriptor = merged
	if err := writeDescriptor(c.paths.DescriptorFile, c.descriptor); err != nil {
		return err
	}
	return nil
}

// DeleteAll removes every on-disk trace of a container that failed
// partway through import.
func DeleteAll(paths Paths) error {
	return os.RemoveAll(paths.Root)
}
