package dsync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// uidCounter is the process-wide monotonic counter spec.md §4.5 names,
// starting at 1.
var uidCounter int64

// nextUID formats "{unix_nanos}-{counter}".
func nextUID() string {
	c := atomic.AddInt64(&uidCounter, 1)
	return strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + strconv.FormatInt(c, 10)
}

// RefreshInterval is the DRWMutex refresh task tick, spec.md §4.5.
const RefreshInterval = 10 * time.Second

// Options mirrors the real dsync package's per-call options, as exercised
// by drwmutex_test.go (Options{Timeout: ...}).
type Options struct {
	Timeout time.Duration
}

// DRWMutex is a per-resource distributed lock handle, spec.md §4.5.
type DRWMutex struct {
	client    *Dsync
	resources []string

	mu         sync.Mutex
	granted    []bool
	args       LockArgs
	cancelTask context.CancelFunc
	write      bool
	held       bool
}

// NewDRWMutex matches the constructor signature exercised by
// drwmutex_test.go: NewDRWMutex(ds, resource...).
func NewDRWMutex(client *Dsync, resources ...string) *DRWMutex {
	return &DRWMutex{client: client, resources: resources}
}

func (d *DRWMutex) acquire(ctx context.Context, cancel context.CancelFunc, id, source string, opts Options, write bool) bool {
	deadline := time.Now().Add(opts.Timeout)
	for {
		args := LockArgs{UID: nextUID(), Resources: d.resources, Owner: id, Source: source}
		attemptCtx, acancel := context.WithTimeout(ctx, AcquireTimeout)
		outcome := d.client.Acquire(attemptCtx, args, write)
		acancel()

		if outcome.Succeeded {
			d.mu.Lock()
			// Acquiring a new lock of the same mode on this handle aborts
			// any previous refresh task first, spec.md §4.5.
			if d.cancelTask != nil {
				d.cancelTask()
			}
			d.granted = outcome.Granted
			d.args = args
			d.write = write
			d.held = true
			taskCtx, taskCancel := context.WithCancel(context.Background())
			d.cancelTask = taskCancel
			d.mu.Unlock()

			go d.refreshTask(taskCtx, cancel)
			return true
		}
		// A failed attempt may still have granted some lockers; release
		// them before retrying so we don't leak partial grants.
		if anyGranted(outcome.Granted) {
			d.client.UnlockWithRetry(context.Background(), args, outcome.Granted, !write)
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func anyGranted(granted []bool) bool {
	for _, g := range granted {
		if g {
			return true
		}
	}
	return false
}

// GetLock attempts to acquire a write lock, blocking (retrying every 50ms)
// until opts.Timeout elapses. On success a refresh task is started that
// ticks every RefreshInterval; if it loses quorum it force-unlocks and
// abandons the lock, per spec.md §4.5/§7 "Refresh loss".
func (d *DRWMutex) GetLock(ctx context.Context, cancel context.CancelFunc, id, source string, opts Options) bool {
	return d.acquire(ctx, cancel, id, source, opts, true)
}

// GetRLock attempts to acquire a read lock.
func (d *DRWMutex) GetRLock(ctx context.Context, cancel context.CancelFunc, id, source string, opts Options) bool {
	return d.acquire(ctx, cancel, id, source, opts, false)
}

func (d *DRWMutex) refreshTask(ctx context.Context, onQuorumLost context.CancelFunc) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			granted := append([]bool(nil), d.granted...)
			args := d.args
			write := d.write
			d.mu.Unlock()

			if !anyGranted(granted) {
				return
			}
			outcome := d.client.Refresh(ctx, args, granted, write)
			if outcome.QuorumLost {
				d.client.ForceUnlock(context.Background(), args)
				d.mu.Lock()
				d.granted = nil
				d.args = LockArgs{}
				d.held = false
				d.mu.Unlock()
				if onQuorumLost != nil {
					onQuorumLost()
				}
				return
			}
		}
	}
}

func (d *DRWMutex) release(ctx context.Context, read bool) {
	d.mu.Lock()
	if d.cancelTask != nil {
		d.cancelTask()
		d.cancelTask = nil
	}
	granted := d.granted
	args := d.args
	d.granted = nil
	d.args = LockArgs{}
	wasHeld := d.held
	d.held = false
	d.mu.Unlock()

	if !wasHeld {
		return // idempotent after first call, spec.md §4.5
	}
	d.client.UnlockWithRetry(ctx, args, granted, read)
}

// Unlock releases a write lock. Idempotent after the first call.
func (d *DRWMutex) Unlock(ctx context.Context) { d.release(ctx, false) }

// RUnlock releases a read lock. Idempotent after the first call.
func (d *DRWMutex) RUnlock(ctx context.Context) { d.release(ctx, true) }

// String aids diagnostics.
func (d *DRWMutex) String() string {
	return fmt.Sprintf("DRWMutex%v", d.resources)
}
