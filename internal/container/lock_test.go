package container

import (
	"context"
	"testing"
	"time"
)

func TestRLockInterruptibleAbortsOnCancel(t *testing.T) {
	c, _ := newTestContainer(t)

	c.Lock()
	defer c.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.RLockInterruptible(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("RLockInterruptible succeeded while write lock was held")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RLockInterruptible did not abort after cancellation")
	}
}

func TestLockInterruptibleSucceedsWhenFree(t *testing.T) {
	c, _ := newTestContainer(t)

	if err := c.LockInterruptible(context.Background()); err != nil {
		t.Fatalf("LockInterruptible on a free lock: %v", err)
	}
	c.Unlock()
}

func TestDowngradeAdmitsReadersButNotWriters(t *testing.T) {
	l := newRWLock()
	l.Lock()
	l.Downgrade()

	// A concurrent reader gets in immediately.
	readerIn := make(chan struct{})
	go func() {
		l.RLock()
		close(readerIn)
		l.RUnlock()
	}()
	select {
	case <-readerIn:
	case <-time.After(5 * time.Second):
		t.Fatal("reader blocked after downgrade")
	}

	// A writer does not, until the downgraded read lock is released.
	if l.TryLock() {
		t.Fatal("writer acquired lock while downgraded read lock still held")
	}
	l.RUnlock()
	if !l.TryLock() {
		t.Fatal("writer could not acquire after downgraded read lock released")
	}
	l.Unlock()
}
