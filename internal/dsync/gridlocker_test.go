package dsync

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/maxio/maxio/internal/grid"
)

func newGridLockerPair(t *testing.T) *GridLocker {
	t.Helper()
	table := NewLockTable()
	server := grid.NewMuxServer()
	RegisterLockHandlers(server, table)

	listener := grid.NewListener(zap.NewNop(), server)
	ts := httptest.NewServer(listener)
	t.Cleanup(ts.Close)

	addr := strings.TrimPrefix(ts.URL, "http://")
	conn := grid.NewConnection(addr, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go conn.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for conn.State() != grid.StateConnected {
		if time.Now().After(deadline) {
			t.Fatalf("connection never reached Connected, stuck at %s", conn.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return NewGridLocker(addr, conn)
}

func TestGridLockerLockAndUnlockRoundTrip(t *testing.T) {
	g := newGridLockerPair(t)
	ctx := context.Background()
	args := LockArgs{UID: "u1", Resources: []string{"obj1"}, Owner: "n1"}

	res, err := g.Lock(ctx, args)
	if err != nil || res != Success {
		t.Fatalf("expected Success, got %v err=%v", res, err)
	}

	res, err = g.Lock(ctx, LockArgs{UID: "u2", Resources: []string{"obj1"}})
	if err != nil || res != NotAcquired {
		t.Fatalf("expected second writer to be NotAcquired, got %v err=%v", res, err)
	}

	res, err = g.Unlock(ctx, args)
	if err != nil || res != Success {
		t.Fatalf("expected Unlock Success, got %v err=%v", res, err)
	}

	res, err = g.Unlock(ctx, args)
	if err != nil || res != LockNotFound {
		t.Fatalf("expected second unlock to report LockNotFound, got %v err=%v", res, err)
	}
}

func TestGridLockerRefreshAndForceUnlock(t *testing.T) {
	g := newGridLockerPair(t)
	ctx := context.Background()
	args := LockArgs{UID: "u1", Resources: []string{"obj2"}}

	if res, err := g.Lock(ctx, args); err != nil || res != Success {
		t.Fatalf("Lock: %v %v", res, err)
	}
	if res, err := g.Refresh(ctx, args); err != nil || res != Success {
		t.Fatalf("expected Refresh Success, got %v %v", res, err)
	}
	if res, err := g.ForceUnlock(ctx, args); err != nil || res != Success {
		t.Fatalf("ForceUnlock: %v %v", res, err)
	}
	if res, err := g.Refresh(ctx, args); err != nil || res != LockNotFound {
		t.Fatalf("expected Refresh after ForceUnlock to report LockNotFound, got %v %v", res, err)
	}
}

func TestGridLockerReadersDoNotBlockEachOther(t *testing.T) {
	g := newGridLockerPair(t)
	ctx := context.Background()

	if res, err := g.RLock(ctx, LockArgs{UID: "r1", Resources: []string{"obj3"}}); err != nil || res != Success {
		t.Fatalf("RLock r1: %v %v", res, err)
	}
	if res, err := g.RLock(ctx, LockArgs{UID: "r2", Resources: []string{"obj3"}}); err != nil || res != Success {
		t.Fatalf("RLock r2: %v %v", res, err)
	}
	if res, err := g.Lock(ctx, LockArgs{UID: "w1", Resources: []string{"obj3"}}); err != nil || res != NotAcquired {
		t.Fatalf("expected writer blocked by live readers, got %v %v", res, err)
	}
}
