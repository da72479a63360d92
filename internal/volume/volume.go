// Package volume models the storage root a container's files are rooted
// on — every container file path belongs to exactly one volume, and the
// volume owns that storage until the container is deleted — plus the
// volume set's own read/write lock, held for reading while a creation
// selects a volume.
//
// Volume selection policy, disk checking, and upgrade/versioning
// machinery belong to the surrounding system; this package only carries
// the path-ownership and locking surface the container engine needs to
// create and account for containers on a chosen volume.
package volume

import (
	"fmt"
	"io"
	"os"
	"sync"

	"cargohold/internal/cargoerr"
	"cargohold/internal/container"
	"cargohold/internal/containerpack"
	"cargohold/internal/kvstore"
)

// storeCacheAdapter adapts a *kvstore.Cache (whose Acquire returns the
// concrete *kvstore.Handle) to container.StoreCache (whose Acquire returns
// the narrower container.StoreHandle method set). *kvstore.Handle already
// implements container.StoreHandle; only the Cache-level return type needs
// adapting, which is why this lives here rather than in kvstore itself
// (container is the only consumer that needs the narrower view).
type storeCacheAdapter struct {
	cache *kvstore.Cache
}

func (a storeCacheAdapter) Acquire(containerID uint64, dbPath string) (container.StoreHandle, error) {
	return a.cache.Acquire(containerID, dbPath)
}

func (a storeCacheAdapter) Evict(containerID uint64) {
	a.cache.Evict(containerID)
}

func (a storeCacheAdapter) EndExport(containerID uint64) {
	a.cache.EndExport(containerID)
}

// Volume is one storage root a set of containers may live under.
type Volume struct {
	id        string
	root      string
	capacity  uint64
	committed uint64 // bytes reserved by containers created on this volume

	mu        sync.Mutex
	unhealthy bool
}

// New returns a Volume rooted at root with the given total capacity in
// bytes. It does not create root; call EnsureExists first.
func New(id, root string, capacityBytes uint64) *Volume {
	return &Volume{id: id, root: root, capacity: capacityBytes}
}

// ID returns the volume's identifier.
func (v *Volume) ID() string { return v.id }

// Root returns the volume's root directory.
func (v *Volume) Root() string { return v.root }

// EnsureExists creates the volume's root directory if it doesn't exist.
func (v *Volume) EnsureExists() error {
	if err := os.MkdirAll(v.root, 0o750); err != nil {
		return fmt.Errorf("%w: create volume root %s: %v", cargoerr.ErrInternal, v.root, err)
	}
	return nil
}

// AvailableBytes returns the volume's remaining reservable capacity.
func (v *Volume) AvailableBytes() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.committed >= v.capacity {
		return 0
	}
	return v.capacity - v.committed
}

// Healthy reports whether this volume is still usable for new
// containers. A volume is marked unhealthy by OnFailure and never
// recovers on its own.
func (v *Volume) Healthy() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.unhealthy
}

// OnFailure marks the volume unhealthy after a data-plane failure
// observed by the surrounding system. It never un-marks a volume;
// recovery is an operational action outside this module's scope.
func (v *Volume) OnFailure() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unhealthy = true
}

// reserve commits sizeBytes of this volume's capacity to a new container,
// failing DiskOutOfSpace if insufficient room remains.
func (v *Volume) reserve(sizeBytes uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unhealthy {
		return fmt.Errorf("%w: volume %s is unhealthy", cargoerr.ErrInternal, v.id)
	}
	if sizeBytes > v.capacity-v.committed {
		return fmt.Errorf("%w: volume %s has %d bytes free, need %d", cargoerr.ErrDiskOutOfSpace, v.id, v.capacity-v.committed, sizeBytes)
	}
	v.committed += sizeBytes
	return nil
}

// release gives back sizeBytes of committed capacity, used when a
// container backed by this volume is deleted.
func (v *Volume) release(sizeBytes uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sizeBytes > v.committed {
		v.committed = 0
		return
	}
	v.committed -= sizeBytes
}

// Set is the volume set a node manages: a collection of Volumes guarded
// by its own read/write lock, taken for reading while a creation selects
// a volume. Set does not implement a selection policy — callers supply
// the volume to use via CreateContainerOn; Set exists to hold the lock
// and the registry.
type Set struct {
	mu      sync.RWMutex
	volumes map[string]*Volume
	store   *kvstore.Cache
}

// NewSet returns an empty volume set backed by a single shared embedded
// store cache: the cache is keyed by container id, so one cache can
// safely serve containers spread across every volume in the set.
func NewSet() *Set {
	return &Set{volumes: make(map[string]*Volume), store: kvstore.NewCache()}
}

// Add registers v with the set.
func (s *Set) Add(v *Volume) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[v.id] = v
}

// Get returns the volume with the given id, if registered.
func (s *Set) Get(id string) (*Volume, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[id]
	return v, ok
}

// Volumes returns a snapshot of every registered volume.
func (s *Set) Volumes() []*Volume {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Volume, 0, len(s.volumes))
	for _, v := range s.volumes {
		out = append(out, v)
	}
	return out
}

// CreateContainerOn creates a brand-new container rooted on v, holding
// the volume set's read lock for the duration of volume
// selection/reservation and v's own accounting lock for the capacity
// check. idSubdir is the cluster-or-SCM-id path component between the
// volume root and the container id.
func (s *Set) CreateContainerOn(v *Volume, idSubdir string, containerID uint64, maxSize uint64, originNodeID, originPipelineID string, cfg container.Config) (*Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.volumes[v.id]; !ok {
		return nil, fmt.Errorf("%w: volume %s is not a member of this set", cargoerr.ErrInternal, v.id)
	}
	if err := v.reserve(maxSize); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		cfg.Store = storeCacheAdapter{cache: s.store}
	}

	paths := container.NewPaths(v.root, idSubdir, containerID)
	c, err := container.Create(paths, containerID, maxSize, originNodeID, originPipelineID, cfg)
	if err != nil {
		v.release(maxSize)
		return nil, err
	}
	return &Container{Container: c, volume: v, maxSize: maxSize}, nil
}

// Container pairs a container.Container with the volume that owns its
// on-disk storage, so Delete can give back the volume's reserved
// capacity.
type Container struct {
	*container.Container
	volume  *Volume
	maxSize uint64
}

// Export streams c out as a single archive, leaving its reserved volume
// capacity untouched: export is a copy-out, not a release of the
// container's storage.
func (s *Set) Export(c *Container, out io.Writer) error {
	return containerpack.Export(c.Container, out)
}

// ImportContainerOn reconstructs a container from an archive produced by
// Export onto v, reserving maxSize of v's capacity exactly as
// CreateContainerOn does.
func (s *Set) ImportContainerOn(v *Volume, idSubdir string, containerID uint64, maxSize uint64, cfg container.Config, in io.Reader) (*Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.volumes[v.id]; !ok {
		return nil, fmt.Errorf("%w: volume %s is not a member of this set", cargoerr.ErrInternal, v.id)
	}
	if err := v.reserve(maxSize); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		cfg.Store = storeCacheAdapter{cache: s.store}
	}

	paths := container.NewPaths(v.root, idSubdir, containerID)
	c, err := containerpack.Import(paths, containerID, cfg, in)
	if err != nil {
		v.release(maxSize)
		return nil, err
	}
	return &Container{Container: c, volume: v, maxSize: maxSize}, nil
}

// Delete deletes the underlying container and releases its reserved
// capacity back to the owning volume, regardless of the container delete
// outcome's detail (the capacity was reserved at create time based on
// maxSize, not actual bytes used, so it is always returned on a
// successful delete).
func (c *Container) Delete() error {
	if err := c.Container.Delete(); err != nil {
		return err
	}
	c.volume.release(c.maxSize)
	return nil
}
