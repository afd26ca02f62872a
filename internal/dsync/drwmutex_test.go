package dsync

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeLocker is an in-memory NetLocker used to exercise Dsync/DRWMutex
// without a real grid transport, driving the same DRWMutex contract
// (NewDRWMutex, GetLock/GetRLock, Options{Timeout}, Unlock/RUnlock) that a
// live lock RPC server would; here the server is replaced with a trivial
// single-resource reader/writer lock table so the test stays hermetic.
type fakeLocker struct {
	name string
	fail bool

	mu      sync.Mutex
	writers map[string]string // resource -> uid
	readers map[string]map[string]bool
}

func newFakeLocker(name string) *fakeLocker {
	return &fakeLocker{
		name:    name,
		writers: map[string]string{},
		readers: map[string]map[string]bool{},
	}
}

func (f *fakeLocker) String() string { return f.name }

func (f *fakeLocker) Lock(ctx context.Context, args LockArgs) (Result, error) {
	if f.fail {
		return Failed, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range args.Resources {
		if f.writers[r] != "" {
			return NotAcquired, nil
		}
		if len(f.readers[r]) > 0 {
			return NotAcquired, nil
		}
	}
	for _, r := range args.Resources {
		f.writers[r] = args.UID
	}
	return Success, nil
}

func (f *fakeLocker) RLock(ctx context.Context, args LockArgs) (Result, error) {
	if f.fail {
		return Failed, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range args.Resources {
		if f.writers[r] != "" {
			return NotAcquired, nil
		}
	}
	for _, r := range args.Resources {
		if f.readers[r] == nil {
			f.readers[r] = map[string]bool{}
		}
		f.readers[r][args.UID] = true
	}
	return Success, nil
}

func (f *fakeLocker) Unlock(ctx context.Context, args LockArgs) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for _, r := range args.Resources {
		if f.writers[r] == args.UID {
			delete(f.writers, r)
			found = true
		}
	}
	if !found {
		return LockNotFound, nil
	}
	return Success, nil
}

func (f *fakeLocker) RUnlock(ctx context.Context, args LockArgs) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for _, r := range args.Resources {
		if f.readers[r] != nil && f.readers[r][args.UID] {
			delete(f.readers[r], args.UID)
			found = true
		}
	}
	if !found {
		return LockNotFound, nil
	}
	return Success, nil
}

func (f *fakeLocker) Refresh(ctx context.Context, args LockArgs) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range args.Resources {
		if f.writers[r] == args.UID {
			return Success, nil
		}
		if f.readers[r] != nil && f.readers[r][args.UID] {
			return Success, nil
		}
	}
	return LockNotFound, nil
}

func (f *fakeLocker) ForceUnlock(ctx context.Context, args LockArgs) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range args.Resources {
		delete(f.writers, r)
		delete(f.readers, r)
	}
	return Success, nil
}

func newFakeDsync(n int) *Dsync {
	lockers := make([]NetLocker, n)
	for i := range lockers {
		lockers[i] = newFakeLocker("locker")
	}
	return &Dsync{Lockers: lockers}
}

func TestWriteLockExcludesReaders(t *testing.T) {
	ds := newFakeDsync(5)

	m1 := NewDRWMutex(ds, "resource")
	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	if !m1.GetLock(ctx1, cancel1, "id1", "test", Options{Timeout: time.Second}) {
		t.Fatal("expected write lock to succeed with no contention")
	}
	defer m1.Unlock(context.Background())

	m2 := NewDRWMutex(ds, "resource")
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	if m2.GetRLock(ctx2, cancel2, "id2", "test", Options{Timeout: 100 * time.Millisecond}) {
		m2.RUnlock(context.Background())
		t.Fatal("expected read lock to fail while a write lock is held")
	}
}

func TestMultipleReadersAllowed(t *testing.T) {
	ds := newFakeDsync(5)

	m1 := NewDRWMutex(ds, "resource")
	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	if !m1.GetRLock(ctx1, cancel1, "id1", "test", Options{Timeout: time.Second}) {
		t.Fatal("expected first read lock to succeed")
	}
	defer m1.RUnlock(context.Background())

	m2 := NewDRWMutex(ds, "resource")
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	if !m2.GetRLock(ctx2, cancel2, "id2", "test", Options{Timeout: time.Second}) {
		t.Fatal("expected second read lock to succeed alongside the first")
	}
	defer m2.RUnlock(context.Background())
}

func TestUnlockIsIdempotent(t *testing.T) {
	ds := newFakeDsync(5)
	m := NewDRWMutex(ds, "resource")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !m.GetLock(ctx, cancel, "id", "test", Options{Timeout: time.Second}) {
		t.Fatal("expected lock to succeed")
	}
	m.Unlock(context.Background())
	m.Unlock(context.Background()) // must not panic or block
}

func newFailingLocker() NetLocker {
	l := newFakeLocker("failing")
	l.fail = true
	return l
}

func TestQuorumAcquireSucceedsWithMajority(t *testing.T) {
	lockers := make([]NetLocker, 5)
	for i := range lockers {
		lockers[i] = newFakeLocker("locker")
	}
	// Fail 2 of 5: 3 successes is still >= quorum (3).
	lockers[3] = newFailingLocker()
	lockers[4] = newFailingLocker()
	ds := &Dsync{Lockers: lockers}

	outcome := ds.Acquire(context.Background(), LockArgs{UID: "u1", Resources: []string{"r"}}, true)
	if !outcome.Succeeded {
		t.Fatalf("expected quorum acquire to succeed, got %+v", outcome)
	}
	if outcome.Quorum != 3 || outcome.Tolerance != 2 {
		t.Fatalf("expected quorum=3 tolerance=2, got %+v", outcome)
	}
}

func TestQuorumAcquireFailsBelowMajority(t *testing.T) {
	lockers := make([]NetLocker, 5)
	for i := range lockers {
		lockers[i] = newFailingLocker()
	}
	lockers[0] = newFakeLocker("locker")
	lockers[1] = newFakeLocker("locker")
	ds := &Dsync{Lockers: lockers}

	outcome := ds.Acquire(context.Background(), LockArgs{UID: "u1", Resources: []string{"r"}}, true)
	if outcome.Succeeded {
		t.Fatalf("expected quorum acquire to fail with only 2 of 5 granting, got %+v", outcome)
	}
}
