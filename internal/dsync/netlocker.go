// Package dsync implements the distributed read/write lock described in
// spec.md §4.4/§4.5: quorum-based acquisition across a fixed set of
// NetLocker peers, with lease refresh and safe release.
//
// Grounded on the real dsync package's public shape as exercised by
// drwmutex_test.go (NewDRWMutex, GetLock/GetRLock, Options{Timeout},
// Unlock/RUnlock) -- that test's contract is extended here to the full
// quorum/refresh/MRF-adjacent lock semantics.
package dsync

import (
	"context"
	"time"
)

// LockArgs is the RPC argument spec.md §6 names.
type LockArgs struct {
	UID       string
	Resources []string
	Owner     string
	Source    string
	Quorum    int
}

// Result is one NetLocker RPC outcome, spec.md §4.4.
type Result int

const (
	Success Result = iota
	NotAcquired
	LockNotFound
	Failed
)

// NetLocker is one peer's lock RPC surface. In this module it is carried
// over the grid transport (SPEC_FULL.md §4.4 expansion): a NetLocker
// implementation is a thin wrapper issuing grid requests against
// HandlerLockLock/RLock/Unlock/RUnlock/Refresh/ForceUnlock.
type NetLocker interface {
	Lock(ctx context.Context, args LockArgs) (Result, error)
	RLock(ctx context.Context, args LockArgs) (Result, error)
	Unlock(ctx context.Context, args LockArgs) (Result, error)
	RUnlock(ctx context.Context, args LockArgs) (Result, error)
	Refresh(ctx context.Context, args LockArgs) (Result, error)
	ForceUnlock(ctx context.Context, args LockArgs) (Result, error)
	String() string
}

// Timeouts, spec.md §4.4.
const (
	AcquireTimeout = 1 * time.Second
	RefreshTimeout = 5 * time.Second
	UnlockTimeout  = 30 * time.Second
	UnlockRetry    = 500 * time.Millisecond
)
