package dsync

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/maxio/maxio/internal/grid"
)

var lockJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// LockTable is the server-side state backing the grid lock handlers
// registered by RegisterLockHandlers: one writer or any number of readers
// per resource name, spec.md §4.4. A node holds exactly one LockTable,
// shared by every peer's incoming lock RPCs.
type LockTable struct {
	mu      sync.Mutex
	writers map[string]string          // resource -> holder UID
	readers map[string]map[string]bool // resource -> set of holder UIDs
}

// NewLockTable builds an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{
		writers: map[string]string{},
		readers: map[string]map[string]bool{},
	}
}

func (t *LockTable) lock(args LockArgs) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range args.Resources {
		if t.writers[r] != "" || len(t.readers[r]) > 0 {
			return NotAcquired
		}
	}
	for _, r := range args.Resources {
		t.writers[r] = args.UID
	}
	return Success
}

func (t *LockTable) rlock(args LockArgs) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range args.Resources {
		if t.writers[r] != "" {
			return NotAcquired
		}
	}
	for _, r := range args.Resources {
		if t.readers[r] == nil {
			t.readers[r] = map[string]bool{}
		}
		t.readers[r][args.UID] = true
	}
	return Success
}

func (t *LockTable) unlock(args LockArgs) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := false
	for _, r := range args.Resources {
		if t.writers[r] == args.UID {
			delete(t.writers, r)
			found = true
		}
	}
	if !found {
		return LockNotFound
	}
	return Success
}

func (t *LockTable) runlock(args LockArgs) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := false
	for _, r := range args.Resources {
		if t.readers[r] != nil && t.readers[r][args.UID] {
			delete(t.readers[r], args.UID)
			if len(t.readers[r]) == 0 {
				delete(t.readers, r)
			}
			found = true
		}
	}
	if !found {
		return LockNotFound
	}
	return Success
}

func (t *LockTable) refresh(args LockArgs) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range args.Resources {
		if t.writers[r] == args.UID {
			return Success
		}
		if t.readers[r] != nil && t.readers[r][args.UID] {
			return Success
		}
	}
	return LockNotFound
}

func (t *LockTable) forceUnlock(args LockArgs) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range args.Resources {
		delete(t.writers, r)
		delete(t.readers, r)
	}
	return Success
}

// RegisterLockHandlers wires a LockTable's six operations onto a
// MuxServer's HandlerLock* dispatch table, completing the server side that
// netlocker.go's doc comment promises: every grid-connected peer answers
// the lock RPCs this module's own Dsync client issues.
func RegisterLockHandlers(s *grid.MuxServer, t *LockTable) {
	bind := func(id grid.HandlerID, fn func(LockArgs) Result) {
		s.Handle(id, func(ctx context.Context, payload []byte) ([]byte, error) {
			var args LockArgs
			if err := lockJSON.Unmarshal(payload, &args); err != nil {
				return nil, err
			}
			return lockJSON.Marshal(fn(args))
		})
	}
	bind(grid.HandlerLockLock, t.lock)
	bind(grid.HandlerLockRLock, t.rlock)
	bind(grid.HandlerLockUnlock, t.unlock)
	bind(grid.HandlerLockRUnlock, t.runlock)
	bind(grid.HandlerLockRefresh, t.refresh)
	bind(grid.HandlerLockForceUnlock, t.forceUnlock)
}

// GridLocker is the NetLocker client netlocker.go calls for: a thin wrapper
// issuing grid requests against one peer's HandlerLockLock/RLock/Unlock/
// RUnlock/Refresh/ForceUnlock handlers over an already-running
// grid.Connection.
type GridLocker struct {
	addr   string
	client *grid.MuxClient
}

// NewGridLocker addresses one peer's lock RPCs over conn. conn is expected
// to already be dialing/connected (e.g. via Connection.Run in a background
// goroutine) -- GridLocker itself never manages the connection lifecycle.
func NewGridLocker(addr string, conn *grid.Connection) *GridLocker {
	return &GridLocker{addr: addr, client: grid.NewMuxClient(conn)}
}

func (g *GridLocker) String() string { return g.addr }

func (g *GridLocker) call(ctx context.Context, handler grid.HandlerID, args LockArgs) (Result, error) {
	body, err := lockJSON.Marshal(args)
	if err != nil {
		return Failed, err
	}
	resp, err := g.client.Request(ctx, handler, body, 0)
	if err != nil {
		return Failed, err
	}
	var res Result
	if err := lockJSON.Unmarshal(resp, &res); err != nil {
		return Failed, err
	}
	return res, nil
}

func (g *GridLocker) Lock(ctx context.Context, args LockArgs) (Result, error) {
	return g.call(ctx, grid.HandlerLockLock, args)
}

func (g *GridLocker) RLock(ctx context.Context, args LockArgs) (Result, error) {
	return g.call(ctx, grid.HandlerLockRLock, args)
}

func (g *GridLocker) Unlock(ctx context.Context, args LockArgs) (Result, error) {
	return g.call(ctx, grid.HandlerLockUnlock, args)
}

func (g *GridLocker) RUnlock(ctx context.Context, args LockArgs) (Result, error) {
	return g.call(ctx, grid.HandlerLockRUnlock, args)
}

func (g *GridLocker) Refresh(ctx context.Context, args LockArgs) (Result, error) {
	return g.call(ctx, grid.HandlerLockRefresh, args)
}

func (g *GridLocker) ForceUnlock(ctx context.Context, args LockArgs) (Result, error) {
	return g.call(ctx, grid.HandlerLockForceUnlock, args)
}
