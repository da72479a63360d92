package container

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// maxReaders is the weight of a write acquisition on rwLock's semaphore.
// Any value larger than the plausible number of concurrent readers works.
const maxReaders = 1 << 30

// rwLock is a read/write lock built on a weighted semaphore instead of
// sync.RWMutex, for two capabilities the container lifecycle needs that
// the stdlib primitive cannot provide:
//
//   - interruptible acquisition: LockContext/RLockContext abort without
//     side effects when the context is cancelled during lock wait;
//   - atomic downgrade: a writer releases all but one unit of its weight
//     and becomes a reader without any window where another writer could
//     slip in, which export relies on to stream the archive under a read
//     lock taken while the write lock was still held.
//
// A write lock acquires the full weight; a read lock acquires one unit.
// Not reentrant, same as sync.RWMutex.
type rwLock struct {
	sem *semaphore.Weighted
}

func newRWLock() *rwLock {
	return &rwLock{sem: semaphore.NewWeighted(maxReaders)}
}

func (l *rwLock) Lock() {
	// Acquire with a background context never returns an error.
	_ = l.sem.Acquire(context.Background(), maxReaders)
}

// LockContext acquires the write lock, aborting with ctx.Err() if ctx is
// cancelled while waiting.
func (l *rwLock) LockContext(ctx context.Context) error {
	return l.sem.Acquire(ctx, maxReaders)
}

func (l *rwLock) Unlock() {
	l.sem.Release(maxReaders)
}

func (l *rwLock) RLock() {
	_ = l.sem.Acquire(context.Background(), 1)
}

// RLockContext acquires a read lock, aborting with ctx.Err() if ctx is
// cancelled while waiting.
func (l *rwLock) RLockContext(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *rwLock) RUnlock() {
	l.sem.Release(1)
}

// Downgrade converts a held write lock into a held read lock atomically:
// waiting readers may proceed immediately, but no writer can acquire
// before the caller's new read lock is in place. The caller must hold the
// write lock and must release with RUnlock afterward.
func (l *rwLock) Downgrade() {
	l.sem.Release(maxReaders - 1)
}

// TryLock acquires the write lock without blocking, reporting success.
func (l *rwLock) TryLock() bool {
	return l.sem.TryAcquire(maxReaders)
}
