package dsync

import (
	"context"
	"sync"
	"time"
)

// Dsync wraps an ordered, fixed list of NetLocker peers and implements the
// quorum acquire/refresh/unlock protocol of spec.md §4.4.
type Dsync struct {
	Lockers []NetLocker
}

func (d *Dsync) total() int { return len(d.Lockers) }

// tolerance is f = total/2, spec.md §4.4.
func (d *Dsync) tolerance() int { return d.total() / 2 }

// quorum returns q_w (write) or q_r (read), spec.md §4.4. For odd N, f =
// total/2 already gives a strict majority in total-f; the +1 only applies
// for even N, where total-f alone would equal f and tie rather than win.
func (d *Dsync) quorum(write bool) int {
	f := d.tolerance()
	q := d.total() - f
	if write && q == f {
		q++
	}
	return q
}

// AcquireOutcome is the result of an Acquire call, spec.md §4.4.
type AcquireOutcome struct {
	Succeeded     bool
	Granted       []bool
	LocksAcquired int
	Failures      int
	Quorum        int
	Tolerance     int
}

// Acquire fans out one lock/rlock RPC per locker in parallel, each bounded
// by AcquireTimeout, and implements the early-exit success/failure rules of
// spec.md §4.4.
func (d *Dsync) Acquire(ctx context.Context, args LockArgs, write bool) AcquireOutcome {
	n := d.total()
	q := d.quorum(write)
	f := d.tolerance()

	granted := make([]bool, n)
	resultCh := make(chan struct {
		idx int
		ok  bool
	}, n)

	acqCtx, cancel := context.WithTimeout(ctx, AcquireTimeout)
	defer cancel()

	for i, locker := range d.Lockers {
		go func(i int, locker NetLocker) {
			var res Result
			var err error
			if write {
				res, err = locker.Lock(acqCtx, args)
			} else {
				res, err = locker.RLock(acqCtx, args)
			}
			ok := err == nil && res == Success
			resultCh <- struct {
				idx int
				ok  bool
			}{i, ok}
		}(i, locker)
	}

	locksAcquired, failures, responded := 0, 0, 0
	for responded < n {
		select {
		case r := <-resultCh:
			responded++
			if r.ok {
				granted[r.idx] = true
				locksAcquired++
			} else {
				failures++
			}
			remaining := n - responded
			if locksAcquired >= q && failures <= f {
				return d.finishOutcome(granted, locksAcquired, failures, q, f, true)
			}
			if locksAcquired+remaining < q || failures > f {
				return d.finishOutcome(granted, locksAcquired, failures, q, f, false)
			}
		case <-acqCtx.Done():
			failures += n - responded // treat everything still outstanding as failed
			responded = n
		}
	}
	succeeded := locksAcquired >= q && failures <= f
	return d.finishOutcome(granted, locksAcquired, failures, q, f, succeeded)
}

func (d *Dsync) finishOutcome(granted []bool, locksAcquired, failures, q, f int, succeeded bool) AcquireOutcome {
	return AcquireOutcome{
		Succeeded:     succeeded,
		Granted:       granted,
		LocksAcquired: locksAcquired,
		Failures:      failures,
		Quorum:        q,
		Tolerance:     f,
	}
}

// RefreshOutcome reports whether quorum was lost during a refresh round.
type RefreshOutcome struct {
	QuorumLost bool
}

// Refresh sends a refresh RPC only to granted lockers, spec.md §4.5, and
// declares quorum_lost iff LockNotFound replies exceed total-quorum.
func (d *Dsync) Refresh(ctx context.Context, args LockArgs, granted []bool, write bool) RefreshOutcome {
	q := d.quorum(write)
	notFound := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	refreshCtx, cancel := context.WithTimeout(ctx, RefreshTimeout)
	defer cancel()

	for i, ok := range granted {
		if !ok {
			continue
		}
		wg.Add(1)
		go func(locker NetLocker) {
			defer wg.Done()
			res, err := locker.Refresh(refreshCtx, args)
			if err == nil && res == LockNotFound {
				mu.Lock()
				notFound++
				mu.Unlock()
			}
		}(d.Lockers[i])
	}
	wg.Wait()

	return RefreshOutcome{QuorumLost: notFound > d.total()-q}
}

// UnlockWithRetry retries unlock/runlock on every granted locker until it
// returns Success or LockNotFound, every UnlockRetry, bounded per attempt by
// UnlockTimeout. It never surfaces failure to the caller -- unlocks are
// "eventually final" per spec.md §4.4.
func (d *Dsync) UnlockWithRetry(ctx context.Context, args LockArgs, granted []bool, read bool) {
	var wg sync.WaitGroup
	for i, ok := range granted {
		if !ok {
			continue
		}
		wg.Add(1)
		go func(locker NetLocker) {
			defer wg.Done()
			for {
				attemptCtx, cancel := context.WithTimeout(ctx, UnlockTimeout)
				var res Result
				var err error
				if read {
					res, err = locker.RUnlock(attemptCtx, args)
				} else {
					res, err = locker.Unlock(attemptCtx, args)
				}
				cancel()
				if err == nil && (res == Success || res == LockNotFound) {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(UnlockRetry):
				}
			}
		}(d.Lockers[i])
	}
	wg.Wait()
}

// ForceUnlock is a best-effort fan-out used when a refresh loses quorum,
// spec.md §4.4.
func (d *Dsync) ForceUnlock(ctx context.Context, args LockArgs) {
	var wg sync.WaitGroup
	for _, locker := range d.Lockers {
		wg.Add(1)
		go func(locker NetLocker) {
			defer wg.Done()
			_, _ = locker.ForceUnlock(ctx, args)
		}(locker)
	}
	wg.Wait()
}
