package segmap

import (
	"sync"
	"testing"
	"time"
)

func newTestLock(t *testing.T, timeout time.Duration) *segmentLock {
	t.Helper()
	bs, err := OpenAnonymousByteStore(8)
	if err != nil {
		t.Fatalf("open anonymous store: %v", err)
	}
	t.Cleanup(func() { bs.Close() })
	return newSegmentLock(bs, 0, 0, timeout, nil)
}

func TestSegmentLockExclusion(t *testing.T) {
	l := newTestLock(t, time.Second)
	if err := l.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		l2 := &segmentLock{store: l.store, offset: l.offset, timeout: 50 * time.Millisecond}
		if err := l2.Lock(); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the lock while the first held it")
	case <-time.After(100 * time.Millisecond):
	}
	l.Unlock()
}

func TestSegmentLockMultipleReaders(t *testing.T) {
	l := newTestLock(t, time.Second)
	if err := l.RLock(); err != nil {
		t.Fatalf("RLock 1: %v", err)
	}
	l2 := &segmentLock{store: l.store, offset: l.offset, timeout: time.Second}
	if err := l2.RLock(); err != nil {
		t.Fatalf("RLock 2: %v", err)
	}
	l.RUnlock()
	l2.RUnlock()
}

func TestSegmentLockTimeout(t *testing.T) {
	var timedOut int32
	var mu sync.Mutex
	l := newTestLock(t, 30*time.Millisecond)
	l.onTimeout = func(segmentIndex int) {
		mu.Lock()
		timedOut++
		mu.Unlock()
	}
	if err := l.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	l2 := &segmentLock{store: l.store, offset: l.offset, timeout: 30 * time.Millisecond, onTimeout: l.onTimeout}
	err := l2.Lock()
	if err == nil {
		t.Fatal("expected a lock timeout error")
	}
	if me, ok := err.(*MapError); !ok || me.Kind != ErrLockTimeoutKind {
		t.Fatalf("expected LockTimeout kind, got %v", err)
	}

	mu.Lock()
	if timedOut == 0 {
		t.Fatal("onTimeout was never called")
	}
	mu.Unlock()
	l.Unlock()
}
